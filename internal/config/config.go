package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the name of the JSON config file looked up in the config dir.
const FileName = "pioneer.cfg.json"

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
	CSV            bool   `json:"csv" mapstructure:"csv"`
}

// SQLiteConfig holds settings for the in-memory SQLite backend with periodic dumps.
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
}

// PostgresConfig holds connection settings for the postgres backend.
type PostgresConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
	SSLMode  string `json:"sslMode" mapstructure:"sslMode"`
}

// WebSocketConfig holds settings for the streaming backend.
type WebSocketConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Secret string `json:"secret" mapstructure:"secret"`
}

// InfluxConfig holds settings for the InfluxDB metrics backend.
type InfluxConfig struct {
	Host       string `json:"host" mapstructure:"host"`
	Port       string `json:"port" mapstructure:"port"`
	Protocol   string `json:"protocol" mapstructure:"protocol"`
	Token      string `json:"token" mapstructure:"token"`
	Org        string `json:"org" mapstructure:"org"`
	Bucket     string `json:"bucket" mapstructure:"bucket"`
	BackupPath string `json:"backupPath" mapstructure:"backupPath"`
}

// StorageConfig selects and configures the recording backend.
type StorageConfig struct {
	Type      string          `json:"type" mapstructure:"type"`
	Memory    MemoryConfig    `json:"memory" mapstructure:"memory"`
	SQLite    SQLiteConfig    `json:"sqlite" mapstructure:"sqlite"`
	Postgres  PostgresConfig  `json:"postgres" mapstructure:"postgres"`
	WebSocket WebSocketConfig `json:"websocket" mapstructure:"websocket"`
	Influx    InfluxConfig    `json:"influx" mapstructure:"influx"`
}

// OTelConfig holds OpenTelemetry log export settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// WorldConfig describes the simulated world.
type WorldConfig struct {
	Scale           float64       `json:"scale" mapstructure:"scale"` // pixels per metre
	TimeStep        time.Duration `json:"timeStep" mapstructure:"timeStep"`
	MaxAngularError float64       `json:"maxAngularError" mapstructure:"maxAngularError"`
	ErrorSeed       uint64        `json:"errorSeed" mapstructure:"errorSeed"`
	MapFile         string        `json:"mapFile" mapstructure:"mapFile"`
	MapThreshold    int           `json:"mapThreshold" mapstructure:"mapThreshold"`
	// Used when MapFile is empty.
	Width  int `json:"width" mapstructure:"width"`
	Height int `json:"height" mapstructure:"height"`
}

// DeviceConfig describes the simulated robot.
type DeviceConfig struct {
	ID      string  `json:"id" mapstructure:"id"`
	Width   float64 `json:"width" mapstructure:"width"`
	Length  float64 `json:"length" mapstructure:"length"`
	X       float64 `json:"x" mapstructure:"x"`
	Y       float64 `json:"y" mapstructure:"y"`
	Heading float64 `json:"heading" mapstructure:"heading"`
	Color   uint32  `json:"color" mapstructure:"color"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// SetDefaults registers every default value. Load calls it; commands that
// run without a config file call it directly.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./pioneerlogs")
	viper.SetDefault("defaultTag", "sim")

	viper.SetDefault("world.scale", 1.0)
	viper.SetDefault("world.timeStep", "100ms")
	viper.SetDefault("world.maxAngularError", 0.0)
	viper.SetDefault("world.errorSeed", 1)
	viper.SetDefault("world.mapFile", "")
	viper.SetDefault("world.mapThreshold", 128)
	viper.SetDefault("world.width", 400)
	viper.SetDefault("world.height", 400)

	viper.SetDefault("device.id", "robot1")
	viper.SetDefault("device.width", 8.0)
	viper.SetDefault("device.length", 10.0)
	viper.SetDefault("device.x", 200.0)
	viper.SetDefault("device.y", 200.0)
	viper.SetDefault("device.heading", 0.0)
	viper.SetDefault("device.color", 0xff0000)

	viper.SetDefault("frontend.listen", "127.0.0.1:6665")

	viper.SetDefault("monitor.interval", "10s")

	viper.SetDefault("api.serverUrl", "http://localhost:5000/api")
	viper.SetDefault("api.apiKey", "")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.memory.csv", false)
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "./recordings/pioneer.db")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "pioneer")
	viper.SetDefault("storage.postgres.sslMode", "disable")
	viper.SetDefault("storage.websocket.url", "ws://localhost:5000/api/v1/stream")
	viper.SetDefault("storage.websocket.secret", "")
	viper.SetDefault("storage.influx.host", "localhost")
	viper.SetDefault("storage.influx.port", "8086")
	viper.SetDefault("storage.influx.protocol", "http")
	viper.SetDefault("storage.influx.token", "supersecrettoken")
	viper.SetDefault("storage.influx.org", "pioneer")
	viper.SetDefault("storage.influx.bucket", "odometry")
	viper.SetDefault("storage.influx.backupPath", "./recordings/influx_backup.log.gz")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "pioneer")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")
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

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetStorageConfig returns the storage section.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
			CSV:            viper.GetBool("storage.memory.csv"),
		},
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("storage.postgres.host"),
			Port:     viper.GetString("storage.postgres.port"),
			Username: viper.GetString("storage.postgres.username"),
			Password: viper.GetString("storage.postgres.password"),
			Database: viper.GetString("storage.postgres.database"),
			SSLMode:  viper.GetString("storage.postgres.sslMode"),
		},
		WebSocket: WebSocketConfig{
			URL:    viper.GetString("storage.websocket.url"),
			Secret: viper.GetString("storage.websocket.secret"),
		},
		Influx: InfluxConfig{
			Host:       viper.GetString("storage.influx.host"),
			Port:       viper.GetString("storage.influx.port"),
			Protocol:   viper.GetString("storage.influx.protocol"),
			Token:      viper.GetString("storage.influx.token"),
			Org:        viper.GetString("storage.influx.org"),
			Bucket:     viper.GetString("storage.influx.bucket"),
			BackupPath: viper.GetString("storage.influx.backupPath"),
		},
	}
}

// GetOTelConfig returns the otel section.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetWorldConfig returns the world section.
func GetWorldConfig() WorldConfig {
	return WorldConfig{
		Scale:           viper.GetFloat64("world.scale"),
		TimeStep:        viper.GetDuration("world.timeStep"),
		MaxAngularError: viper.GetFloat64("world.maxAngularError"),
		ErrorSeed:       viper.GetUint64("world.errorSeed"),
		MapFile:         viper.GetString("world.mapFile"),
		MapThreshold:    viper.GetInt("world.mapThreshold"),
		Width:           viper.GetInt("world.width"),
		Height:          viper.GetInt("world.height"),
	}
}

// GetDeviceConfig returns the device section.
func GetDeviceConfig() DeviceConfig {
	return DeviceConfig{
		ID:      viper.GetString("device.id"),
		Width:   viper.GetFloat64("device.width"),
		Length:  viper.GetFloat64("device.length"),
		X:       viper.GetFloat64("device.x"),
		Y:       viper.GetFloat64("device.y"),
		Heading: viper.GetFloat64("device.heading"),
		Color:   viper.GetUint32("device.color"),
	}
}
