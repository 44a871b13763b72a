package config

import (
	"time"

	"github.com/spf13/viper"
)

// getDurationOrDefault returns duration from config or default value
func getDurationOrDefault(v *viper.Viper, key string, defaultValue time.Duration) time.Duration {
	if v.IsSet(key) {
		return v.GetDuration(key)
	}
	return defaultValue
}

// getIntOrDefault returns int from config or default value
func getIntOrDefault(v *viper.Viper, key string, defaultValue int) int {
	if v.IsSet(key) {
		return v.GetInt(key)
	}
	return defaultValue
}

// getInt64OrDefault returns int64 from config or default value
func getInt64OrDefault(v *viper.Viper, key string, defaultValue int64) int64 {
	if v.IsSet(key) {
		return v.GetInt64(key)
	}
	return defaultValue
}
