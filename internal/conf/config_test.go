package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadEmbeddedDefaults(t *testing.T) {
	resetViper(t)
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	settings, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DatabaseSQLite, settings.Database.Type)
	assert.Equal(t, "idconsensus.db", settings.Database.SQLite.Path)
	assert.Equal(t, 2*time.Second, settings.Taxonomy.LookupTimeout)
	assert.Equal(t, 6*time.Hour, settings.Taxonomy.CacheTTL)
	assert.Equal(t, 8, settings.Effects.Dispatcher.MaxAttempts)
	assert.Equal(t, byte(1), settings.Effects.MQTT.QoS)
	assert.Equal(t, "info", settings.Logging.DefaultLevel)
	assert.Equal(t, "info", settings.Logging.ModuleLevels["datastore"])
	assert.Same(t, settings, Setting())
}

func TestLoadExplicitFile(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, `
database:
  type: mysql
  mysql:
    host: db.internal
    username: consensus
    password: s3cret
    database: inat
taxonomy:
  source: remote
  lookuptimeout: 750ms
  remote:
    baseurl: https://taxa.example.org/v1
effects:
  nats:
    enabled: true
    url: nats://nats:4222
`)

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DatabaseMySQL, settings.Database.Type)
	assert.Equal(t, "consensus:s3cret@tcp(db.internal:3306)/inat?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true", settings.Database.MySQL.DSN())
	assert.True(t, settings.Taxonomy.IsRemote())
	assert.Equal(t, 750*time.Millisecond, settings.Taxonomy.LookupTimeout)
	assert.True(t, settings.Effects.NATS.Enabled)
	assert.Equal(t, "idconsensus.effects", settings.Effects.NATS.SubjectPrefix)
}

func TestEnvironmentOverrides(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, "webserver:\n  listen: \":9000\"\n")
	t.Setenv("IDCONSENSUS_LISTEN", "127.0.0.1:7000")
	t.Setenv("IDCONSENSUS_SERVICE_RECOMPUTEWORKERS", "9")

	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:7000", settings.WebServer.Listen)
	assert.Equal(t, 9, settings.Service.RecomputeWorkers)
}

func TestInvalidEnvironmentValue(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, "debug: false\n")
	t.Setenv("IDCONSENSUS_DATABASE_TYPE", "postgres")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IDCONSENSUS_DATABASE_TYPE")
}

func TestMissingExplicitFile(t *testing.T) {
	resetViper(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func validSettings() *Settings {
	return &Settings{
		Database: DatabaseSettings{Type: DatabaseSQLite, SQLite: SQLiteSettings{Path: ":memory:"}},
		Taxonomy: TaxonomySettings{Source: TaxonomySourceDatabase, LookupTimeout: time.Second},
		Effects: EffectsSettings{Dispatcher: DispatcherSettings{
			PollInterval: time.Second, BatchSize: 10, MaxAttempts: 3,
			InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2,
		}},
		Service:   ServiceSettings{RecomputeWorkers: 1},
		WebServer: WebServerSettings{Enabled: true, Listen: ":8080"},
	}
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"unknown database", func(s *Settings) { s.Database.Type = "postgres" }, "database.type"},
		{"mysql missing fields", func(s *Settings) { s.Database.Type = DatabaseMySQL }, "database.mysql is missing host, username, database"},
		{"remote without url", func(s *Settings) { s.Taxonomy.Source = TaxonomySourceRemote }, "taxonomy.remote.baseurl"},
		{"zero lookup timeout", func(s *Settings) { s.Taxonomy.LookupTimeout = 0 }, "taxonomy.lookuptimeout"},
		{"delay order", func(s *Settings) { s.Effects.Dispatcher.MaxDelay = time.Millisecond }, "initialdelay <= maxdelay"},
		{"nats without url", func(s *Settings) { s.Effects.NATS.Enabled = true }, "effects.nats.url"},
		{"mqtt bad qos", func(s *Settings) {
			s.Effects.MQTT = MQTTSettings{Enabled: true, Broker: "tcp://x:1883", QoS: 3}
		}, "effects.mqtt.qos"},
		{"alerts without urls", func(s *Settings) { s.Effects.Alerts.Enabled = true }, "effects.alerts.urls"},
		{"bad listen", func(s *Settings) { s.WebServer.Listen = "8080" }, "webserver.listen"},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, "sentry.dsn"},
		{"no workers", func(s *Settings) { s.Service.RecomputeWorkers = 0 }, "recomputeworkers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Error(), tt.wantErr)
		})
	}
}

func TestWatchConfigWithoutFileIsNoop(t *testing.T) {
	resetViper(t)
	called := false
	WatchConfig(nil, func(*Settings) { called = true })
	assert.False(t, called)
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	resetViper(t)
	secretFile := filepath.Join(t.TempDir(), "dsn")
	require.NoError(t, os.WriteFile(secretFile, []byte("https://key@sentry.example/7\n"), 0o600))
	t.Setenv("IDC_MYSQL_PASSWORD", "from-env")

	path := writeConfig(t, `
database:
  type: mysql
  mysql:
    host: db.internal
    username: consensus
    password: ${IDC_MYSQL_PASSWORD}
    database: inat
sentry:
  enabled: true
  dsn: file:`+secretFile+`
`)

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", settings.Database.MySQL.Password)
	assert.Equal(t, "https://key@sentry.example/7", settings.Sentry.DSN)
}

func TestLoadFailsOnMissingSecret(t *testing.T) {
	resetViper(t)
	path := writeConfig(t, `
effects:
  mqtt:
    password: ${IDC_DEFINITELY_UNSET_VAR}
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IDC_DEFINITELY_UNSET_VAR")
}
