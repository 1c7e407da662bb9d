// config.go: settings struct and loading for the consensus service
package conf

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/idconsensus/internal/logger"
	"github.com/tphakala/idconsensus/internal/secrets"
)

//go:embed config.yaml
var configFiles embed.FS

// DatabaseSettings selects and configures the persistent store.
type DatabaseSettings struct {
	Type               string         `mapstructure:"type"`               // "sqlite" or "mysql"
	SlowQueryThreshold time.Duration  `mapstructure:"slowquerythreshold"` // gorm queries slower than this log at warn
	SQLite             SQLiteSettings `mapstructure:"sqlite"`
	MySQL              MySQLSettings  `mapstructure:"mysql"`
}

// SQLiteSettings contains settings for the SQLite store.
type SQLiteSettings struct {
	Path string `mapstructure:"path"` // database file, ":memory:" for ephemeral
}

// MySQLSettings contains settings for the MySQL store.
type MySQLSettings struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	MaxOpenConns    int           `mapstructure:"maxopenconns"`
	MaxIdleConns    int           `mapstructure:"maxidleconns"`
	ConnMaxLifetime time.Duration `mapstructure:"connmaxlifetime"`
}

// TaxonomySettings configures where taxon lineage comes from and how it is cached.
type TaxonomySettings struct {
	Source        string                 `mapstructure:"source"`        // "database" or "remote"
	CacheTTL      time.Duration          `mapstructure:"cachettl"`      // lineage cache lifetime
	LookupTimeout time.Duration          `mapstructure:"lookuptimeout"` // per lookup deadline; exceeded means LookupFailure
	SeedPaths     []string               `mapstructure:"seedpaths"`     // doublestar globs of YAML taxa files imported at startup
	Remote        RemoteTaxonomySettings `mapstructure:"remote"`
}

// RemoteTaxonomySettings configures the HTTP taxonomy client.
type RemoteTaxonomySettings struct {
	BaseURL   string        `mapstructure:"baseurl"`
	APIKey    string        `mapstructure:"apikey"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"ratelimit"` // requests per second, 0 = unlimited
	Burst     int           `mapstructure:"burst"`
}

// DispatcherSettings controls outbox polling and retry.
type DispatcherSettings struct {
	PollInterval time.Duration `mapstructure:"pollinterval"`
	BatchSize    int           `mapstructure:"batchsize"`
	MaxAttempts  int           `mapstructure:"maxattempts"`
	InitialDelay time.Duration `mapstructure:"initialdelay"`
	MaxDelay     time.Duration `mapstructure:"maxdelay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// NATSSettings configures the JetStream effect sink.
type NATSSettings struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Stream        string `mapstructure:"stream"`
	SubjectPrefix string `mapstructure:"subjectprefix"` // effects publish to <prefix>.<kind>
}

// MQTTSettings configures the MQTT effect sink.
type MQTTSettings struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"clientid"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topicprefix"`
	QoS         byte   `mapstructure:"qos"`
}

// AlertSettings configures dead-letter notifications.
type AlertSettings struct {
	Enabled bool     `mapstructure:"enabled"`
	URLs    []string `mapstructure:"urls"` // shoutrrr service URLs
}

// EffectsSettings groups the outbox dispatcher and its sinks.
type EffectsSettings struct {
	Dispatcher DispatcherSettings `mapstructure:"dispatcher"`
	NATS       NATSSettings       `mapstructure:"nats"`
	MQTT       MQTTSettings       `mapstructure:"mqtt"`
	Alerts     AlertSettings      `mapstructure:"alerts"`
}

// ServiceSettings tunes the consensus pipeline.
type ServiceSettings struct {
	RecomputeWorkers int `mapstructure:"recomputeworkers"` // parallel observations during recompute --all
}

// WebServerSettings contains settings for the HTTP API.
type WebServerSettings struct {
	Enabled      bool          `mapstructure:"enabled"`
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"readtimeout"`
	WriteTimeout time.Duration `mapstructure:"writetimeout"`
	Metrics      bool          `mapstructure:"metrics"` // expose /metrics
}

// SentrySettings contains settings for error telemetry.
type SentrySettings struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// Settings is the root configuration.
type Settings struct {
	Debug     bool                 `mapstructure:"debug"`
	Logging   logger.LoggingConfig `mapstructure:"logging"`
	Database  DatabaseSettings     `mapstructure:"database"`
	Taxonomy  TaxonomySettings     `mapstructure:"taxonomy"`
	Effects   EffectsSettings      `mapstructure:"effects"`
	Service   ServiceSettings      `mapstructure:"service"`
	WebServer WebServerSettings    `mapstructure:"webserver"`
	Sentry    SentrySettings       `mapstructure:"sentry"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables.
// An empty configFile searches the default config paths; when nothing is
// found the embedded defaults are used.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings, err := unmarshalSettings()
	if err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

func unmarshalSettings() (*Settings, error) {
	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}
	return settings, nil
}

// resolveSecrets replaces credential fields that reference the environment
// or a secret file with the referenced value.
func resolveSecrets(settings *Settings) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"database.mysql.password", &settings.Database.MySQL.Password},
		{"taxonomy.remote.apikey", &settings.Taxonomy.Remote.APIKey},
		{"effects.nats.url", &settings.Effects.NATS.URL},
		{"effects.mqtt.password", &settings.Effects.MQTT.Password},
		{"sentry.dsn", &settings.Sentry.DSN},
	}
	for _, f := range fields {
		resolved, err := secrets.Resolve(f.name, *f.value)
		if err != nil {
			return err
		}
		*f.value = resolved
	}
	for i, u := range settings.Effects.Alerts.URLs {
		resolved, err := secrets.Resolve("effects.alerts.urls", u)
		if err != nil {
			return err
		}
		settings.Effects.Alerts.URLs[i] = resolved
	}
	return nil
}

// initViper sets defaults, env bindings and reads the configuration file.
func initViper(configFile string) error {
	viper.SetConfigType("yaml")
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	for _, path := range GetDefaultConfigPaths() {
		viper.AddConfigPath(path)
	}

	err := viper.ReadInConfig()
	if err == nil {
		return nil
	}

	var configFileNotFoundError viper.ConfigFileNotFoundError
	if !errors.As(err, &configFileNotFoundError) {
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	// No file on disk; run from the embedded defaults
	return viper.ReadConfig(bytes.NewReader(DefaultConfig()))
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "idconsensus"))
	}
	return append(paths, "/etc/idconsensus")
}

// DefaultConfig returns the embedded default config.yaml.
func DefaultConfig() []byte {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		// embedded at build time, cannot be missing
		panic(fmt.Sprintf("embedded config.yaml unreadable: %v", err))
	}
	return data
}

// Setting returns the current settings instance, or nil before Load.
func Setting() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// DSN renders the go-sql-driver DSN for the MySQL settings. clientFoundRows
// makes RowsAffected count matched rows, as SQLite does.
func (m *MySQLSettings) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true",
		m.Username, m.Password, m.Host, m.Port, m.Database)
}

// IsRemote reports whether lineage is fetched from the HTTP taxonomy service.
func (t *TaxonomySettings) IsRemote() bool {
	return strings.EqualFold(t.Source, TaxonomySourceRemote)
}
