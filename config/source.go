package config

import "github.com/spf13/viper"

// Source holds data-source connection settings for the built-in adapters.
type Source struct {
	Driver string            // "mysql", "sqlite3", "postgres" or "memory"
	DSN    string
	Tables map[string]string // resource type -> table name allow-list
}

func getSourceConfig(v *viper.Viper) *Source {
	return &Source{
		Driver: v.GetString("source.driver"),
		DSN:    v.GetString("source.dsn"),
		Tables: v.GetStringMapString("source.tables"),
	}
}
