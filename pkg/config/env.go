package config

import (
	"log/slog"
	"os"
	"regexp"

	"github.com/joho/godotenv"
)

var (
	envVarWithDefaultRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*):-([^}]*)\}`)
	envVarBracedRegex      = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	envVarSimpleRegex      = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// ExpandEnvVars substitutes ${VAR:-default}, ${VAR}, and $VAR references.
// Unset variables without a default expand to the empty string.
func ExpandEnvVars(value string) string {
	value = envVarWithDefaultRegex.ReplaceAllStringFunc(value, func(match string) string {
		groups := envVarWithDefaultRegex.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(groups[1]); ok {
			return v
		}
		return groups[2]
	})
	value = envVarBracedRegex.ReplaceAllStringFunc(value, func(match string) string {
		groups := envVarBracedRegex.FindStringSubmatch(match)
		return os.Getenv(groups[1])
	})
	value = envVarSimpleRegex.ReplaceAllStringFunc(value, func(match string) string {
		groups := envVarSimpleRegex.FindStringSubmatch(match)
		return os.Getenv(groups[1])
	})
	return value
}

// expandEnvInMap walks a decoded YAML tree and expands env references in
// every string value.
func expandEnvInMap(m map[string]interface{}) {
	for k, v := range m {
		m[k] = expandEnvValue(v)
	}
}

func expandEnvValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return ExpandEnvVars(val)
	case map[string]interface{}:
		expandEnvInMap(val)
		return val
	case []interface{}:
		for i, item := range val {
			val[i] = expandEnvValue(item)
		}
		return val
	default:
		return v
	}
}

// LoadEnvFiles loads .env.local then .env from the working directory.
// Missing files are fine; variables already set in the environment win.
func LoadEnvFiles() {
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err == nil {
			slog.Debug("loaded environment file", "file", name)
		}
	}
}

// GetProviderAPIKey returns the conventional API key environment variable
// for a provider type.
func GetProviderAPIKey(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "gemini":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}
