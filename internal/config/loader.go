package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/rpattn/changetrack/internal/db"
)

// Config is the complete runtime configuration. It is passed explicitly to
// the components that need it; nothing reads it from package state.
type Config struct {
	Database db.Config
	Tracking Tracking
	Server   Server
	Log      Log
	Model    Model
	I18n     I18n
}

// Tracking holds the change tracking switches.
type Tracking struct {
	PreserveDeletes       bool
	DisableCreateTracking bool
	DisableUpdateTracking bool
	DisableDeleteTracking bool
	MaxPathDepth          int
}

// Server configures the HTTP read surface.
type Server struct {
	Addr           string
	AllowedOrigins []string
}

// Log configures the structured logger.
type Log struct {
	Level  string
	Format string
}

// Model points at the annotated entity model.
type Model struct {
	Path string
}

// I18n points at the label bundle.
type I18n struct {
	Path          string
	DefaultLocale string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database: db.DefaultConfig(),
		Tracking: Tracking{MaxPathDepth: 8},
		Server:   Server{Addr: ":8080", AllowedOrigins: []string{"*"}},
		Log:      Log{Level: "info", Format: "text"},
		Model:    Model{Path: "model.yaml"},
		I18n:     I18n{DefaultLocale: "en"},
	}
}

// Load reads config.yaml from configPath (when present) and applies
// CHANGETRACK_* environment overrides, e.g. CHANGETRACK_TRACKING_PRESERVEDELETES.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("CHANGETRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.Database = db.Config{
		Host:     v.GetString("database.host"),
		Port:     v.GetInt("database.port"),
		User:     v.GetString("database.user"),
		Password: v.GetString("database.password"),
		DBName:   v.GetString("database.dbname"),
		SSLMode:  v.GetString("database.sslmode"),
	}
	cfg.Tracking = Tracking{
		PreserveDeletes:       v.GetBool("tracking.preservedeletes"),
		DisableCreateTracking: v.GetBool("tracking.disablecreatetracking"),
		DisableUpdateTracking: v.GetBool("tracking.disableupdatetracking"),
		DisableDeleteTracking: v.GetBool("tracking.disabledeletetracking"),
		MaxPathDepth:          v.GetInt("tracking.maxpathdepth"),
	}
	cfg.Server = Server{
		Addr:           v.GetString("server.addr"),
		AllowedOrigins: v.GetStringSlice("server.allowedorigins"),
	}
	cfg.Log = Log{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	}
	cfg.Model = Model{Path: v.GetString("model.path")}
	cfg.I18n = I18n{
		Path:          v.GetString("i18n.path"),
		DefaultLocale: v.GetString("i18n.defaultlocale"),
	}

	if cfg.Tracking.MaxPathDepth <= 0 {
		return Config{}, fmt.Errorf("tracking.maxPathDepth must be positive, got %d", cfg.Tracking.MaxPathDepth)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.dbname", cfg.Database.DBName)
	v.SetDefault("database.sslmode", cfg.Database.SSLMode)
	v.SetDefault("tracking.preservedeletes", cfg.Tracking.PreserveDeletes)
	v.SetDefault("tracking.disablecreatetracking", cfg.Tracking.DisableCreateTracking)
	v.SetDefault("tracking.disableupdatetracking", cfg.Tracking.DisableUpdateTracking)
	v.SetDefault("tracking.disabledeletetracking", cfg.Tracking.DisableDeleteTracking)
	v.SetDefault("tracking.maxpathdepth", cfg.Tracking.MaxPathDepth)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.allowedorigins", cfg.Server.AllowedOrigins)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("model.path", cfg.Model.Path)
	v.SetDefault("i18n.path", cfg.I18n.Path)
	v.SetDefault("i18n.defaultlocale", cfg.I18n.DefaultLocale)
}
