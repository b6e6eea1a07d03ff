package config

type Config interface {
	EnvConfig
	CorsConfig
	ProviderConfig
	SessionConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetBaseURL() string
	GetLogLevel() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Provider
	Session
}

// New returns the configuration. When CONFIG_FILE names a YAML file its values sit beneath the
// environment: a set environment variable always wins.
func New() (Config, error) {
	if path := GetEnv(configFileVar, ""); path != "" {
		if err := LoadFile(path); err != nil {
			return nil, err
		}
	}
	return mainConfig{}, nil
}
