package config

import (
	"errors"
	"strings"

	"github.com/rpattn/hierflat/internal/db"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ServerConfig holds everything cmd/server needs at start-up.
type ServerConfig struct {
	HTTPAddr       string
	AllowedOrigins []string
	Database       db.Config
	Workers        int
	LogLevel       string
	LogFormat      string
}

// DefaultServerConfig returns the configuration used when nothing is set.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:       ":8080",
		AllowedOrigins: []string{"http://localhost:3000"},
		Database:       db.DefaultConfig(),
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// NewViper returns a viper instance reading config.yaml from configPath
// with HIERFLAT_ environment overrides (HIERFLAT_DATABASE_HOST, ...).
func NewViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("HIERFLAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadConfigFile loads config.yaml when present. A missing file is not an
// error; defaults and env still apply.
func ReadConfigFile(v *viper.Viper, logger logrus.FieldLogger) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			logger.Debug("no config.yaml found, using defaults and env vars")
			return nil
		}
		return err
	}
	logger.WithField("file", v.ConfigFileUsed()).Info("loaded config file")
	return nil
}

// LoadServerConfig reads the server configuration from configPath and env.
func LoadServerConfig(configPath string, logger logrus.FieldLogger) (ServerConfig, error) {
	v := NewViper(configPath)
	for _, key := range []string{
		"http.addr", "http.allowed_origins",
		"database.host", "database.port", "database.user", "database.password", "database.dbname", "database.sslmode",
		"engine.workers", "log.level", "log.format",
	} {
		_ = v.BindEnv(key)
	}
	if err := ReadConfigFile(v, logger); err != nil {
		return ServerConfig{}, err
	}
	return ServerConfigFrom(v), nil
}

// ServerConfigFrom applies every key set in v on top of the defaults.
func ServerConfigFrom(v *viper.Viper) ServerConfig {
	cfg := DefaultServerConfig()

	if v.IsSet("http.addr") {
		cfg.HTTPAddr = v.GetString("http.addr")
	}
	if v.IsSet("http.allowed_origins") {
		cfg.AllowedOrigins = splitList(v.GetStringSlice("http.allowed_origins"))
	}
	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("engine.workers") {
		cfg.Workers = v.GetInt("engine.workers")
	}
	if v.IsSet("log.level") {
		cfg.LogLevel = v.GetString("log.level")
	}
	if v.IsSet("log.format") {
		cfg.LogFormat = v.GetString("log.format")
	}

	return cfg
}

// env values arrive as one comma separated string
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// flattenKeys maps option properties to their viper keys.
var flattenKeys = map[string]string{
	PropertyParentField:        "flatten.parent_field",
	PropertyChildField:         "flatten.child_field",
	PropertyParentChildMapping: "flatten.parent_child_mapping",
	PropertyLevelField:         "flatten.level_field",
	PropertyTopField:           "flatten.top_field",
	PropertyBottomField:        "flatten.bottom_field",
	PropertyTrueValue:          "flatten.true_value",
	PropertyFalseValue:         "flatten.false_value",
	PropertyMaxDepth:           "flatten.max_depth",
}

// FlattenKey returns the viper key for an option property.
func FlattenKey(property string) string { return flattenKeys[property] }

// LoadFlattenOptions reads the flatten.* keys. Flags bound with BindPFlag
// take precedence over env, which takes precedence over the file.
func LoadFlattenOptions(v *viper.Viper) FlattenOptions {
	return FlattenOptions{
		ParentField:        v.GetString(flattenKeys[PropertyParentField]),
		ChildField:         v.GetString(flattenKeys[PropertyChildField]),
		ParentChildMapping: v.GetString(flattenKeys[PropertyParentChildMapping]),
		LevelField:         v.GetString(flattenKeys[PropertyLevelField]),
		TopField:           v.GetString(flattenKeys[PropertyTopField]),
		BottomField:        v.GetString(flattenKeys[PropertyBottomField]),
		TrueValue:          v.GetString(flattenKeys[PropertyTrueValue]),
		FalseValue:         v.GetString(flattenKeys[PropertyFalseValue]),
		MaxDepth:           v.GetString(flattenKeys[PropertyMaxDepth]),
	}
}

// ParseLogLevel falls back to info for unknown names.
func ParseLogLevel(name string) logrus.Level {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger builds the process logger from the log.* settings.
func NewLogger(level, format string) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(ParseLogLevel(level))
	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
