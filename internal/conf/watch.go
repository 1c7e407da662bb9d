package conf

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/tphakala/idconsensus/internal/logger"
)

// WatchConfig reloads settings when the config file changes and hands the
// validated result to onChange. Invalid edits are logged and ignored so the
// running settings stay in effect.
func WatchConfig(log logger.Logger, onChange func(*Settings)) {
	if log == nil {
		log = logger.NewDiscardLogger()
	}
	if viper.ConfigFileUsed() == "" {
		log.Debug("config watch disabled, running from embedded defaults")
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		settingsMutex.Lock()
		settings, err := unmarshalSettings()
		if err == nil {
			settingsInstance = settings
		}
		settingsMutex.Unlock()

		if err != nil {
			log.Warn("ignoring invalid config change",
				logger.String("file", e.Name),
				logger.Error(err))
			return
		}

		log.Info("configuration reloaded", logger.String("file", e.Name))
		if onChange != nil {
			onChange(settings)
		}
	})
	viper.WatchConfig()
}
