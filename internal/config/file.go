package config

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	fileLock   sync.RWMutex
	fileValues map[string]string
)

// LoadFile reads a flat YAML mapping of variable names to values, e.g.
//
//	AUTH_URL: https://xyz.supabase.co/auth/v1
//	CLIENT_IDLE_TIMEOUT: 45m
func LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("[config.LoadFile] read %s: %w", path, err)
	}
	values := map[string]string{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("[config.LoadFile] parse %s: %w", path, err)
	}
	fileLock.Lock()
	defer fileLock.Unlock()
	fileValues = values
	return nil
}

func fileValue(key string) (string, bool) {
	fileLock.RLock()
	defer fileLock.RUnlock()
	v, ok := fileValues[key]
	return v, ok
}

func resetFile() {
	fileLock.Lock()
	defer fileLock.Unlock()
	fileValues = nil
}
