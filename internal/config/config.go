package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	OSRMEndpoint     string
	GoogleMapsAPIKey string

	AcceptTimeout   time.Duration
	WatchdogPeriod  time.Duration
	DispatchRadiusM float64
	DispatchTopN    int

	PolygonsPath string

	FareCurrency string
	StripeAPIKey string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers_geo",
		KafkaTopic:      "driver-locations",
		AcceptTimeout:   120 * time.Second,
		WatchdogPeriod:  5 * time.Second,
		DispatchRadiusM: 5000,
		DispatchTopN:    20,
		FareCurrency:    "inr",
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")
	cfg.GoogleMapsAPIKey = os.Getenv("GOOGLE_MAPS_API_KEY")

	setDurationFromEnv(&cfg.AcceptTimeout, "RIDE_ACCEPT_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WatchdogPeriod, "RIDE_WATCHDOG_PERIOD", &errs)
	setFloatFromEnv(&cfg.DispatchRadiusM, "DISPATCH_RADIUS_M", &errs)
	setIntFromEnv(&cfg.DispatchTopN, "DISPATCH_TOP_N", &errs)

	setStringFromEnv(&cfg.PolygonsPath, "GEOFENCE_POLYGONS_PATH")
	setStringFromEnv(&cfg.FareCurrency, "FARE_CURRENCY")
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.DispatchTopN <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_TOP_N must be > 0"))
	}
	if cfg.AcceptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RIDE_ACCEPT_TIMEOUT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig drives the locations-consumer binary.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
}

func LoadConsumerConfig() ConsumerConfig {
	cfg := ConsumerConfig{
		MetricsAddr: ":2112",
		KafkaTopic:  "driver-locations",
		KafkaGroup:  "ride-hail-locations",
		RedisAddr:   "localhost:6379",
		RedisGeoKey: "drivers_geo",
	}
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	} else {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	return cfg
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
