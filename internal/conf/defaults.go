// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers the default for every key so env overrides
// work even when the key is absent from config.yaml.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "UTC")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/idconsensus.log")
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("database.type", DatabaseSQLite)
	viper.SetDefault("database.slowquerythreshold", 200*time.Millisecond)
	viper.SetDefault("database.sqlite.path", "idconsensus.db")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", "3306")
	viper.SetDefault("database.mysql.username", "")
	viper.SetDefault("database.mysql.password", "")
	viper.SetDefault("database.mysql.database", "idconsensus")
	viper.SetDefault("database.mysql.maxopenconns", 25)
	viper.SetDefault("database.mysql.maxidleconns", 10)
	viper.SetDefault("database.mysql.connmaxlifetime", time.Hour)

	viper.SetDefault("taxonomy.source", TaxonomySourceDatabase)
	viper.SetDefault("taxonomy.cachettl", 6*time.Hour)
	viper.SetDefault("taxonomy.lookuptimeout", 2*time.Second)
	viper.SetDefault("taxonomy.seedpaths", []string{})
	viper.SetDefault("taxonomy.remote.baseurl", "https://api.inaturalist.org/v1")
	viper.SetDefault("taxonomy.remote.apikey", "")
	viper.SetDefault("taxonomy.remote.timeout", 5*time.Second)
	viper.SetDefault("taxonomy.remote.ratelimit", 1.0)
	viper.SetDefault("taxonomy.remote.burst", 5)

	viper.SetDefault("effects.dispatcher.pollinterval", time.Second)
	viper.SetDefault("effects.dispatcher.batchsize", 100)
	viper.SetDefault("effects.dispatcher.maxattempts", 8)
	viper.SetDefault("effects.dispatcher.initialdelay", time.Second)
	viper.SetDefault("effects.dispatcher.maxdelay", 5*time.Minute)
	viper.SetDefault("effects.dispatcher.multiplier", 2.0)

	viper.SetDefault("effects.nats.enabled", false)
	viper.SetDefault("effects.nats.url", "nats://127.0.0.1:4222")
	viper.SetDefault("effects.nats.stream", "IDCONSENSUS_EFFECTS")
	viper.SetDefault("effects.nats.subjectprefix", "idconsensus.effects")

	viper.SetDefault("effects.mqtt.enabled", false)
	viper.SetDefault("effects.mqtt.broker", "tcp://127.0.0.1:1883")
	viper.SetDefault("effects.mqtt.clientid", "idconsensus")
	viper.SetDefault("effects.mqtt.username", "")
	viper.SetDefault("effects.mqtt.password", "")
	viper.SetDefault("effects.mqtt.topicprefix", "idconsensus/effects")
	viper.SetDefault("effects.mqtt.qos", 1)

	viper.SetDefault("effects.alerts.enabled", false)
	viper.SetDefault("effects.alerts.urls", []string{})

	viper.SetDefault("service.recomputeworkers", 4)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.listen", ":8080")
	viper.SetDefault("webserver.readtimeout", 15*time.Second)
	viper.SetDefault("webserver.writetimeout", 30*time.Second)
	viper.SetDefault("webserver.metrics", true)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
