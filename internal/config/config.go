// Package config loads mapsync settings from mapsync.cfg.json and the
// MAPSYNC_* environment.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nodemc/mapsync/internal/util"
)

// FileName is the config file looked up in the config directory.
const FileName = "mapsync.cfg.json"

// SessionConfig holds channel settings.
type SessionConfig struct {
	Endpoint             string
	Mode                 string
	ClientID             string
	RoomCode             string
	Channel              string
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	KeepaliveInterval    time.Duration
}

// SyncConfig holds mirror synchronization settings.
type SyncConfig struct {
	ResyncCooldown time.Duration
}

// CommandConfig holds command dispatch settings.
type CommandConfig struct {
	AckTimeout time.Duration
}

// PollConfig holds settings for the polling variant.
type PollConfig struct {
	Interval time.Duration
	URL      string
}

// SizesConfig holds marker sizes per kind.
type SizesConfig struct {
	Player   float64
	Entity   float64
	Waypoint float64
}

// RenderConfig holds marker projection settings.
type RenderConfig struct {
	TargetDimension  string
	Scopes           []string
	ShowCoords       bool
	AutoTeamFromName bool
	FriendlyTags     []string
	EnemyTags        []string
	Sizes            SizesConfig
	Projection       string
	Scale            float64
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
	MaxEntries     int    `json:"maxEntries" mapstructure:"maxEntries"`
}

// SQLiteConfig holds SQLite storage backend settings.
type SQLiteConfig struct {
	DumpInterval time.Duration
	DumpPath     string
}

// PostgresConfig holds Postgres storage backend settings.
type PostgresConfig struct {
	FlushInterval time.Duration
}

// StorageConfig selects and configures the journal backend.
type StorageConfig struct {
	Type     string
	Memory   MemoryConfig
	SQLite   SQLiteConfig
	Postgres PostgresConfig
}

// DBConfig holds database connection settings.
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	SSLMode  string
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled        bool
	ServiceName    string
	BatchTimeout   time.Duration
	MetricInterval time.Duration
	Endpoint       string
	Insecure       bool
}

// InfluxConfig holds InfluxDB settings.
type InfluxConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Protocol string
	Token    string
	Org      string
	Bucket   string
}

// GraylogConfig holds GELF sink settings.
type GraylogConfig struct {
	Enabled bool
	Address string
}

// HTTPConfig holds control surface settings.
type HTTPConfig struct {
	Listen string
}

// MonitorConfig holds status sampling settings.
type MonitorConfig struct {
	Interval time.Duration
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./mapsynclogs")
	viper.SetDefault("debug", false)

	viper.SetDefault("endpoint", util.DefaultEndpoint)
	viper.SetDefault("mode", "push")
	viper.SetDefault("clientId", "")
	viper.SetDefault("roomCode", "")
	viper.SetDefault("channel", "map_overlay")

	viper.SetDefault("reconnect.delay", "1s")
	viper.SetDefault("reconnect.maxAttempts", 0)
	viper.SetDefault("keepalive.interval", "20s")
	viper.SetDefault("sync.resyncCooldown", "1500ms")
	viper.SetDefault("command.ackTimeout", "10s")
	viper.SetDefault("poll.interval", "1s")
	viper.SetDefault("poll.url", "")

	viper.SetDefault("render.targetDimension", "minecraft:overworld")
	viper.SetDefault("render.scopes", []string{"players", "entities", "waypoints"})
	viper.SetDefault("render.showCoords", false)
	viper.SetDefault("render.autoTeamFromName", false)
	viper.SetDefault("render.friendlyTags", "")
	viper.SetDefault("render.enemyTags", "")
	viper.SetDefault("render.sizes.player", 10)
	viper.SetDefault("render.sizes.entity", 7)
	viper.SetDefault("render.sizes.waypoint", 12)
	viper.SetDefault("render.projection", "simple")
	viper.SetDefault("render.scale", 1.0)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.memory.maxEntries", 100000)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "")
	viper.SetDefault("storage.postgres.flushInterval", "2s")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "mapsync")
	viper.SetDefault("db.sslMode", "disable")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "mapsync")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.metricInterval", "30s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "mapsync")
	viper.SetDefault("influx.bucket", "mapsync")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("http.listen", "127.0.0.1:8766")
	viper.SetDefault("monitor.interval", "10s")
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. Defaults and
// environment overrides stay in effect even when the file is missing.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix("MAPSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration reads a duration written either as a Go duration string
// ("1500ms") or as a bare number of milliseconds.
func GetDuration(key string) time.Duration {
	switch v := viper.Get(key).(type) {
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v * float64(time.Millisecond))
	case string:
		if ms, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return time.Duration(ms * float64(time.Millisecond))
		}
	}
	return viper.GetDuration(key)
}

// GetTags reads a tag list written either as a JSON array or as one
// separated string.
func GetTags(key string) []string {
	if list, ok := viper.Get(key).([]any); ok {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			parts = append(parts, fmt.Sprint(item))
		}
		return util.ParseTagList(strings.Join(parts, ","))
	}
	return util.ParseTagList(viper.GetString(key))
}

// GetSessionConfig returns the channel settings.
func GetSessionConfig() SessionConfig {
	return SessionConfig{
		Endpoint:             util.NormalizeWSURL(viper.GetString("endpoint")),
		Mode:                 strings.ToLower(viper.GetString("mode")),
		ClientID:             strings.TrimSpace(viper.GetString("clientId")),
		RoomCode:             strings.TrimSpace(viper.GetString("roomCode")),
		Channel:              viper.GetString("channel"),
		ReconnectDelay:       GetDuration("reconnect.delay"),
		MaxReconnectAttempts: viper.GetInt("reconnect.maxAttempts"),
		KeepaliveInterval:    GetDuration("keepalive.interval"),
	}
}

// GetSyncConfig returns the mirror synchronization settings.
func GetSyncConfig() SyncConfig {
	return SyncConfig{ResyncCooldown: GetDuration("sync.resyncCooldown")}
}

// GetCommandConfig returns the command dispatch settings.
func GetCommandConfig() CommandConfig {
	return CommandConfig{AckTimeout: GetDuration("command.ackTimeout")}
}

// GetPollConfig returns the polling settings. Without an explicit URL the
// snapshot endpoint is derived from the channel endpoint.
func GetPollConfig() PollConfig {
	url := strings.TrimSpace(viper.GetString("poll.url"))
	if url == "" {
		url = util.SnapshotURL(viper.GetString("endpoint"))
	}
	return PollConfig{
		Interval: GetDuration("poll.interval"),
		URL:      url,
	}
}

// GetRenderConfig returns the marker projection settings.
func GetRenderConfig() RenderConfig {
	return RenderConfig{
		TargetDimension:  viper.GetString("render.targetDimension"),
		Scopes:           viper.GetStringSlice("render.scopes"),
		ShowCoords:       viper.GetBool("render.showCoords"),
		AutoTeamFromName: viper.GetBool("render.autoTeamFromName"),
		FriendlyTags:     GetTags("render.friendlyTags"),
		EnemyTags:        GetTags("render.enemyTags"),
		Sizes: SizesConfig{
			Player:   viper.GetFloat64("render.sizes.player"),
			Entity:   viper.GetFloat64("render.sizes.entity"),
			Waypoint: viper.GetFloat64("render.sizes.waypoint"),
		},
		Projection: viper.GetString("render.projection"),
		Scale:      viper.GetFloat64("render.scale"),
	}
}

// GetStorageConfig returns the journal backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: strings.ToLower(viper.GetString("storage.type")),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
			MaxEntries:     viper.GetInt("storage.memory.maxEntries"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: GetDuration("storage.sqlite.dumpInterval"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		},
		Postgres: PostgresConfig{
			FlushInterval: GetDuration("storage.postgres.flushInterval"),
		},
	}
}

// GetDBConfig returns the database connection settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
		SSLMode:  viper.GetString("db.sslMode"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		BatchTimeout:   GetDuration("otel.batchTimeout"),
		MetricInterval: GetDuration("otel.metricInterval"),
		Endpoint:       viper.GetString("otel.endpoint"),
		Insecure:       viper.GetBool("otel.insecure"),
	}
}

// GetInfluxConfig returns the InfluxDB settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns the GELF sink settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetHTTPConfig returns the control surface settings.
func GetHTTPConfig() HTTPConfig {
	return HTTPConfig{Listen: viper.GetString("http.listen")}
}

// GetMonitorConfig returns the status sampling settings.
func GetMonitorConfig() MonitorConfig {
	return MonitorConfig{Interval: GetDuration("monitor.interval")}
}
