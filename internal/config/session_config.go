package config

import "time"

// SessionConfig covers where browser sessions and profiles are kept.
type SessionConfig interface {
	GetRedisURL() string
	GetDatabaseURL() string
	GetClientIdleTimeout() time.Duration
	GetSecureCookies() bool
}

type Session struct{}

var _ SessionConfig = Session{}

// GetRedisURL returns the Redis URL for shared session storage. Empty keeps sessions in memory.
func (Session) GetRedisURL() string {
	return GetEnv("REDIS_URL", "")
}

// GetDatabaseURL returns the Postgres URL for profiles. Empty keeps profiles in memory.
func (Session) GetDatabaseURL() string {
	return GetEnv("DATABASE_URL", "")
}

func (Session) GetClientIdleTimeout() time.Duration {
	return getDuration("CLIENT_IDLE_TIMEOUT", 30*time.Minute)
}

func (Session) GetSecureCookies() bool {
	return getBool("SECURE_COOKIES", EnvVars{}.GetEnv() != "DEV")
}
