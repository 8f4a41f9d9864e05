package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// fileKeys maps the camelCase keys accepted in config files to variables.
var fileKeys = map[string]string{
	"logLevel": EnvLogLevel,
}

// ReadFile parses a flat YAML map of variable names to values. Lists are
// joined with commas; nested maps are rejected.
func ReadFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml %s: %w", path, err)
	}

	vars := make(map[string]string, len(raw))
	for k, v := range raw {
		if name, ok := fileKeys[k]; ok {
			k = name
		}
		switch val := v.(type) {
		case nil:
			vars[k] = ""
		case []any:
			parts := make([]string, len(val))
			for i, p := range val {
				parts[i] = fmt.Sprint(p)
			}
			vars[k] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("config file %s: %s must be a scalar or a list", path, k)
		default:
			vars[k] = fmt.Sprint(val)
		}
	}
	return vars, nil
}

// ReadEnvFile parses a dotenv file of KEY=value lines.
func ReadEnvFile(path string) (map[string]string, error) {
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return vars, nil
}
