// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		func(s *Settings) error { return validateDatabaseSettings(&s.Database) },
		func(s *Settings) error { return validateTaxonomySettings(&s.Taxonomy) },
		func(s *Settings) error { return validateEffectsSettings(&s.Effects) },
		func(s *Settings) error { return validateWebServerSettings(&s.WebServer) },
		func(s *Settings) error { return validateSentrySettings(&s.Sentry) },
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if settings.Service.RecomputeWorkers < 1 {
		ve.Errors = append(ve.Errors, "service.recomputeworkers must be at least 1")
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateDatabaseSettings(settings *DatabaseSettings) error {
	switch settings.Type {
	case DatabaseSQLite:
		if settings.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case DatabaseMySQL:
		var missing []string
		if settings.MySQL.Host == "" {
			missing = append(missing, "host")
		}
		if settings.MySQL.Username == "" {
			missing = append(missing, "username")
		}
		if settings.MySQL.Database == "" {
			missing = append(missing, "database")
		}
		if len(missing) > 0 {
			return fmt.Errorf("database.mysql is missing %s", strings.Join(missing, ", "))
		}
	default:
		return fmt.Errorf("database.type must be %q or %q, got %q", DatabaseSQLite, DatabaseMySQL, settings.Type)
	}
	return nil
}

func validateTaxonomySettings(settings *TaxonomySettings) error {
	if settings.LookupTimeout <= 0 {
		return fmt.Errorf("taxonomy.lookuptimeout must be positive")
	}
	if settings.CacheTTL < 0 {
		return fmt.Errorf("taxonomy.cachettl must not be negative")
	}

	switch strings.ToLower(settings.Source) {
	case TaxonomySourceDatabase:
		return nil
	case TaxonomySourceRemote:
		u, err := url.Parse(settings.Remote.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("taxonomy.remote.baseurl must be an absolute URL, got %q", settings.Remote.BaseURL)
		}
		if settings.Remote.RateLimit < 0 {
			return fmt.Errorf("taxonomy.remote.ratelimit must not be negative")
		}
		return nil
	default:
		return fmt.Errorf("taxonomy.source must be %q or %q, got %q", TaxonomySourceDatabase, TaxonomySourceRemote, settings.Source)
	}
}

func validateEffectsSettings(settings *EffectsSettings) error {
	d := settings.Dispatcher
	switch {
	case d.PollInterval <= 0:
		return fmt.Errorf("effects.dispatcher.pollinterval must be positive")
	case d.BatchSize < 1:
		return fmt.Errorf("effects.dispatcher.batchsize must be at least 1")
	case d.MaxAttempts < 1:
		return fmt.Errorf("effects.dispatcher.maxattempts must be at least 1")
	case d.InitialDelay <= 0 || d.MaxDelay < d.InitialDelay:
		return fmt.Errorf("effects.dispatcher delays must satisfy 0 < initialdelay <= maxdelay")
	case d.Multiplier < 1:
		return fmt.Errorf("effects.dispatcher.multiplier must be at least 1")
	}

	if settings.NATS.Enabled && settings.NATS.URL == "" {
		return fmt.Errorf("effects.nats.url is required when nats is enabled")
	}
	if settings.MQTT.Enabled {
		if settings.MQTT.Broker == "" {
			return fmt.Errorf("effects.mqtt.broker is required when mqtt is enabled")
		}
		if settings.MQTT.QoS > 2 {
			return fmt.Errorf("effects.mqtt.qos must be 0, 1 or 2")
		}
	}
	if settings.Alerts.Enabled && len(settings.Alerts.URLs) == 0 {
		return fmt.Errorf("effects.alerts.urls must list at least one URL when alerts are enabled")
	}
	return nil
}

func validateWebServerSettings(settings *WebServerSettings) error {
	if !settings.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(settings.Listen); err != nil {
		return fmt.Errorf("webserver.listen %q is not host:port: %w", settings.Listen, err)
	}
	return nil
}

func validateSentrySettings(settings *SentrySettings) error {
	if settings.Enabled && settings.DSN == "" {
		return fmt.Errorf("sentry.dsn is required when sentry is enabled")
	}
	return nil
}
