package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Climate  ClimateConfig
	Batch    BatchConfig
	Maps     MapsConfig
	HTTP     HTTPConfig
	Log      LogConfig
}

type DatabaseConfig struct {
	Driver   string // postgres or sqlite3
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Path     string // sqlite3 database file

	// AutoMigrate runs the embedded migrations on start-up.
	AutoMigrate bool
}

// DSN returns the data source name for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite3" {
		return d.Path
	}
	return d.ConnectionString()
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// RedisConfig configures the response cache. An empty Addr selects the
// in-process cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type KafkaConfig struct {
	Brokers       []string
	TopicBatches  string
	TopicEvents   string
	GroupID       string
	NumPartitions int
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type ClimateConfig struct {
	APIURL         string
	Models         []string
	HTTPTimeout    time.Duration
	CacheTTL       time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type BatchConfig struct {
	MaxCells     int
	Workers      int
	FetchTimeout time.Duration
	MinDate      time.Time
	MaxDate      time.Time
}

type MapsConfig struct {
	NLat int
	NLon int
}

type HTTPConfig struct {
	Port int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	minDate, err := getEnvAsDate("BATCH_MIN_DATE", "1950-01-01")
	if err != nil {
		return nil, err
	}
	maxDate, err := getEnvAsDate("BATCH_MAX_DATE", "2050-12-31")
	if err != nil {
		return nil, err
	}

	config := &Config{
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "climate_user"),
			Password: getEnv("DB_PASSWORD", "climate_pass"),
			DBName:   getEnv("DB_NAME", "climate_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Path:     getEnv("DB_PATH", "climate.db"),

			AutoMigrate: getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvAsList("KAFKA_BROKERS", nil),
			TopicBatches:  getEnv("KAFKA_TOPIC_BATCHES", "climate.batches"),
			TopicEvents:   getEnv("KAFKA_TOPIC_EVENTS", "climate.events"),
			GroupID:       getEnv("KAFKA_GROUP_ID", "climate-refresher"),
			NumPartitions: getEnvAsInt("KAFKA_NUM_PARTITIONS", 1),
		},
		Climate: ClimateConfig{
			APIURL:         getEnv("CLIMATE_API_URL", "https://climate-api.open-meteo.com/v1/climate"),
			Models:         getEnvAsList("CLIMATE_MODELS", []string{"MRI_AGCM3_2_S", "EC_Earth3P_HR"}),
			HTTPTimeout:    getEnvAsDuration("CLIMATE_HTTP_TIMEOUT", 30*time.Second),
			CacheTTL:       getEnvAsDuration("CLIMATE_CACHE_TTL", time.Hour),
			MaxRetries:     getEnvAsInt("CLIMATE_MAX_RETRIES", 5),
			InitialBackoff: getEnvAsDuration("CLIMATE_INITIAL_BACKOFF", 200*time.Millisecond),
			MaxBackoff:     getEnvAsDuration("CLIMATE_MAX_BACKOFF", 5*time.Second),
		},
		Batch: BatchConfig{
			MaxCells:     getEnvAsInt("BATCH_MAX_CELLS", 5000),
			Workers:      getEnvAsInt("BATCH_WORKERS", 4),
			FetchTimeout: getEnvAsDuration("BATCH_FETCH_TIMEOUT", 60*time.Second),
			MinDate:      minDate,
			MaxDate:      maxDate,
		},
		Maps: MapsConfig{
			NLat: getEnvAsInt("MAP_NLAT", 91),
			NLon: getEnvAsInt("MAP_NLON", 91),
		},
		HTTP: HTTPConfig{
			Port: getEnvAsInt("HTTP_PORT", 8080),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres":
	case "sqlite3":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("DB_PATH is required for sqlite3"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite3, got %q", c.Database.Driver))
	}

	if len(c.Climate.Models) == 0 {
		errs = append(errs, errors.New("CLIMATE_MODELS must name at least one model"))
	}
	if c.Climate.MaxRetries < 0 {
		errs = append(errs, errors.New("CLIMATE_MAX_RETRIES must not be negative"))
	}
	if c.Climate.InitialBackoff <= 0 {
		errs = append(errs, errors.New("CLIMATE_INITIAL_BACKOFF must be positive"))
	}
	if c.Batch.MaxCells <= 0 {
		errs = append(errs, errors.New("BATCH_MAX_CELLS must be positive"))
	}
	if c.Batch.Workers <= 0 {
		errs = append(errs, errors.New("BATCH_WORKERS must be positive"))
	}
	if c.Batch.FetchTimeout <= 0 {
		errs = append(errs, errors.New("BATCH_FETCH_TIMEOUT must be positive"))
	}
	if c.Batch.MaxDate.Before(c.Batch.MinDate) {
		errs = append(errs, errors.New("BATCH_MAX_DATE is before BATCH_MIN_DATE"))
	}
	if c.Maps.NLat < 2 || c.Maps.NLon < 2 {
		errs = append(errs, errors.New("MAP_NLAT and MAP_NLON must be at least 2"))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT %d out of range", c.HTTP.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}

func getEnvAsDate(key, defaultValue string) (time.Time, error) {
	valueStr := getEnv(key, defaultValue)
	t, err := time.ParseInLocation("2006-01-02", valueStr, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: invalid date %q: %w", key, valueStr, err)
	}
	return t, nil
}
