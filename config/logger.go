package config

import (
	"github.com/spf13/viper"

	"github.com/bluejazz822/networkdb-sub008/logging/logger"
)

// Logger logger config struct
type Logger = logger.Config

func getLoggerConfig(v *viper.Viper) *Logger {
	return &Logger{
		Level:      v.GetInt("logger.level"),
		Format:     v.GetString("logger.format"),
		Output:     v.GetString("logger.output"),
		OutputFile: v.GetString("logger.output_file"),
		SentryDSN:  v.GetString("logger.sentry_dsn"),
	}
}
