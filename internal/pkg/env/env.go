package env

import (
	"os"

	"github.com/joho/godotenv"
)

var Env map[string]string

func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok {
		return val
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func SetupEnvFile() {
	// Look for .env file in project root
	envFiles := []string{
		".env",       // Current directory
		"../../.env", // From cmd/migrate to project root
	}

	for _, envFile := range envFiles {
		loaded, err := godotenv.Read(envFile)
		if err == nil {
			Env = loaded
			return
		}
	}
	// No .env file found; rely on OS environment variables only.
	Env = map[string]string{}
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
