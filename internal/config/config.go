package config

import "os"

// Config is the daemon configuration, loaded from the environment.
type Config struct {
	Port        string
	Executor    string // "subprocess" or "docker"
	DockerImage string
	LogLevel    string
	Store       string // "memory" or "postgres"
	DatabaseURL string
}

func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8123"),
		Executor:    getEnv("EXECUTOR", "subprocess"),
		DockerImage: getEnv("DOCKER_IMAGE", "python:3.11-slim"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Store:       getEnv("STORE", "memory"),
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost/trainjob?sslmode=disable"),
	}
}

// ClientConfig is what the CLI needs to reach the service and to fill
// submission defaults. Built once at startup and passed down
// explicitly.
type ClientConfig struct {
	Endpoint        string
	OutputURIPrefix string
	ResourceClass   string
}

func LoadClient() *ClientConfig {
	return &ClientConfig{
		Endpoint:        getEnv("TRAINJOB_ENDPOINT", "http://localhost:8123"),
		OutputURIPrefix: getEnv("TRAINJOB_OUTPUT_PREFIX", ""),
		ResourceClass:   getEnv("TRAINJOB_DEFAULT_CLASS", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
