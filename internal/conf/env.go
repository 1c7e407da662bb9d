// env.go - environment variable overrides and their validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings lists the overrides that get validated up front. Every
// other key is still reachable through AutomaticEnv as IDCONSENSUS_<KEY>.
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", EnvPrefix + "_DEBUG", validateEnvBool},
		{"logging.default_level", EnvPrefix + "_LOG_LEVEL", validateEnvLogLevel},

		{"database.type", EnvPrefix + "_DATABASE_TYPE", validateEnvOneOf(DatabaseSQLite, DatabaseMySQL)},
		{"database.sqlite.path", EnvPrefix + "_DATABASE_SQLITE_PATH", nil},
		{"database.mysql.host", EnvPrefix + "_DATABASE_MYSQL_HOST", nil},
		{"database.mysql.port", EnvPrefix + "_DATABASE_MYSQL_PORT", validateEnvPort},
		{"database.mysql.username", EnvPrefix + "_DATABASE_MYSQL_USERNAME", nil},
		{"database.mysql.password", EnvPrefix + "_DATABASE_MYSQL_PASSWORD", nil},
		{"database.mysql.database", EnvPrefix + "_DATABASE_MYSQL_DATABASE", nil},

		{"taxonomy.source", EnvPrefix + "_TAXONOMY_SOURCE", validateEnvOneOf(TaxonomySourceDatabase, TaxonomySourceRemote)},
		{"taxonomy.lookuptimeout", EnvPrefix + "_TAXONOMY_LOOKUP_TIMEOUT", validateEnvDuration},
		{"taxonomy.remote.baseurl", EnvPrefix + "_TAXONOMY_REMOTE_URL", validateEnvURL},
		{"taxonomy.remote.apikey", EnvPrefix + "_TAXONOMY_REMOTE_APIKEY", nil},

		{"effects.nats.enabled", EnvPrefix + "_NATS_ENABLED", validateEnvBool},
		{"effects.nats.url", EnvPrefix + "_NATS_URL", validateEnvURL},
		{"effects.mqtt.enabled", EnvPrefix + "_MQTT_ENABLED", validateEnvBool},
		{"effects.mqtt.broker", EnvPrefix + "_MQTT_BROKER", validateEnvURL},
		{"effects.mqtt.password", EnvPrefix + "_MQTT_PASSWORD", nil},

		{"webserver.listen", EnvPrefix + "_LISTEN", nil},
		{"sentry.dsn", EnvPrefix + "_SENTRY_DSN", validateEnvURL},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	return bindEnvVars()
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	return validateEnvOneOf("trace", "debug", "info", "warn", "error")(strings.ToLower(value))
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("must be a duration such as 2s: %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("must be a port number between 1 and 65535")
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func validateEnvOneOf(allowed ...string) func(string) error {
	return func(value string) error {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return fmt.Errorf("must be one of %s", strings.Join(allowed, ", "))
	}
}
