package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     int    `yaml:"port" validate:"gt=0,lte=65535"`
	Store    string `yaml:"store" validate:"oneof=mongo memory"`
	MongoURI string `yaml:"mongoURI" validate:"required_if=Store mongo"`
	MongoDB  string `yaml:"mongoDB" validate:"required_if=Store mongo"`
	SeedFile string `yaml:"seedFile"`

	ServiceTZ       string         `yaml:"serviceTZ"`
	Location        *time.Location `yaml:"-" validate:"-"`
	ProximityMeters float64        `yaml:"proximityMeters" validate:"gt=0"`
	LocatorLead     time.Duration  `yaml:"locatorLead" validate:"gte=0"`
	LocatorGrace    time.Duration  `yaml:"locatorGrace" validate:"gte=0"`
	TripCacheTTL    time.Duration  `yaml:"tripCacheTTL" validate:"gte=0"`
	TripCacheSize   int            `yaml:"tripCacheSize" validate:"gte=0"`

	RateLimitPerMinute int `yaml:"rateLimitPerMinute" validate:"gte=0"`

	NATSURL           string `yaml:"natsURL"`
	NATSSubjectPrefix string `yaml:"natsSubjectPrefix"`

	MQTTBroker   string `yaml:"mqttBroker"`
	MQTTTopic    string `yaml:"mqttTopic"`
	MQTTClientID string `yaml:"mqttClientID"`

	LogLevel  string `yaml:"logLevel" validate:"oneof=trace debug info warn warning error"`
	LogFormat string `yaml:"logFormat" validate:"oneof=text json"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:               8080,
		Store:              "mongo",
		MongoURI:           "mongodb://localhost:27017",
		MongoDB:            "transit",
		ServiceTZ:          "UTC",
		ProximityMeters:    100,
		LocatorLead:        30 * time.Minute,
		LocatorGrace:       2 * time.Hour,
		TripCacheTTL:       5 * time.Minute,
		TripCacheSize:      1024,
		RateLimitPerMinute: 600,
		NATSSubjectPrefix:  "transit.progress",
		MQTTTopic:          "transit/+/gps",
		MQTTClientID:       "transit-tracker",
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by CONFIG_FILE and the environment, in increasing priority.
func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read CONFIG_FILE: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse CONFIG_FILE %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err error
	setString(&c.Store, "STORE")
	setString(&c.MongoURI, "MONGO_URI")
	setString(&c.MongoDB, "MONGO_DB")
	setString(&c.SeedFile, "SEED_FILE")
	setString(&c.ServiceTZ, "SERVICE_TZ")
	setString(&c.NATSURL, "NATS_URL")
	setString(&c.NATSSubjectPrefix, "NATS_SUBJECT_PREFIX")
	setString(&c.MQTTBroker, "MQTT_BROKER")
	setString(&c.MQTTTopic, "MQTT_TOPIC")
	setString(&c.MQTTClientID, "MQTT_CLIENT_ID")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	c.Store = strings.ToLower(c.Store)
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.LogFormat = strings.ToLower(c.LogFormat)

	if err = setInt(&c.Port, "PORT"); err != nil {
		return err
	}
	if err = setInt(&c.TripCacheSize, "TRIP_CACHE_SIZE"); err != nil {
		return err
	}
	if err = setInt(&c.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE"); err != nil {
		return err
	}
	if v := os.Getenv("PROXIMITY_METERS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid PROXIMITY_METERS: %q", v)
		}
		c.ProximityMeters = f
	}
	if err = setDuration(&c.LocatorLead, "LOCATOR_LEAD"); err != nil {
		return err
	}
	if err = setDuration(&c.LocatorGrace, "LOCATOR_GRACE"); err != nil {
		return err
	}
	return setDuration(&c.TripCacheTTL, "TRIP_CACHE_TTL")
}

// Validate checks field constraints and resolves the service time zone.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	tz := c.ServiceTZ
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("invalid SERVICE_TZ: %v", err)
	}
	c.Location = loc
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// ConfigureLogging applies the log level and format to the standard logrus logger.
func (c *Config) ConfigureLogging() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
		return
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, v)
	}
	*dst = n
	return nil
}

// setDuration accepts Go durations ("90s", "2h") or whole minutes.
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return nil
	}
	min, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, v)
	}
	*dst = time.Duration(min) * time.Minute
	return nil
}
