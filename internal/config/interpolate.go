package config

import (
	"os"
	"regexp"

	"github.com/alekspetrov/scenarist/internal/logging"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Interpolate replaces every ${VAR} in data with the environment value.
// Unset variables are logged and replaced with the empty string.
func Interpolate(data []byte, source string) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := string(envRef.FindSubmatch(m)[1])
		val, ok := os.LookupEnv(name)
		if !ok {
			logging.WithComponent("config").Warn("Environment variable is not set", "var", name, "source", source)
			return nil
		}
		return []byte(val)
	})
}
