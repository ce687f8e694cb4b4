package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	StaticDir      string
	LogLevel       string
	Redis          RedisConfig
	Janus          JanusConfig
	Room           RoomConfig
	Stream         StreamConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// JanusConfig describes the single administrative link to the gateway.
type JanusConfig struct {
	URL            string
	APISecret      string
	MaxRetries     int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	KeepAlive      time.Duration
}

// RoomConfig is the shared videoroom every client joins.
type RoomConfig struct {
	ID                   uint64
	Publishers           int
	SubscribeMaxAttempts int
	SubscribeRetryDelay  time.Duration
}

type StreamConfig struct {
	// RTPHost is the address advertised to external encoders.
	RTPHost string
}

var defaults = map[string]any{
	"port":                   "4000",
	"environment":            "development",
	"allowed_origins":        "http://localhost:3000,http://localhost:4000,http://localhost:5173",
	"jwt_secret":             "change-me-in-production",
	"static_dir":             "",
	"log_level":              "info",
	"redis_host":             "localhost",
	"redis_port":             "6379",
	"redis_password":         "",
	"redis_db":               0,
	"janus_url":              "ws://localhost:8188/",
	"janus_api_secret":       "",
	"janus_max_retries":      3,
	"janus_retry_delay":      time.Second,
	"janus_request_timeout":  10 * time.Second,
	"janus_keepalive":        25 * time.Second,
	"room_id":                1234,
	"room_publishers":        8,
	"subscribe_max_attempts": 5,
	"subscribe_retry_delay":  500 * time.Millisecond,
	"rtp_host":               "127.0.0.1",
}

// Init registers defaults and environment lookups on v. Keys are the
// lower-case form of the environment variables (PORT -> port).
func Init(v *viper.Viper) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
}

func FromViper(v *viper.Viper) *Config {
	// Parse allowed origins (comma-separated)
	var origins []string
	for _, o := range strings.Split(v.GetString("allowed_origins"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return &Config{
		Port:           v.GetString("port"),
		Environment:    v.GetString("environment"),
		AllowedOrigins: origins,
		JWTSecret:      v.GetString("jwt_secret"),
		StaticDir:      v.GetString("static_dir"),
		LogLevel:       v.GetString("log_level"),
		Redis: RedisConfig{
			Host:     v.GetString("redis_host"),
			Port:     v.GetString("redis_port"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		Janus: JanusConfig{
			URL:            v.GetString("janus_url"),
			APISecret:      v.GetString("janus_api_secret"),
			MaxRetries:     v.GetInt("janus_max_retries"),
			RetryDelay:     v.GetDuration("janus_retry_delay"),
			RequestTimeout: v.GetDuration("janus_request_timeout"),
			KeepAlive:      v.GetDuration("janus_keepalive"),
		},
		Room: RoomConfig{
			ID:                   v.GetUint64("room_id"),
			Publishers:           v.GetInt("room_publishers"),
			SubscribeMaxAttempts: v.GetInt("subscribe_max_attempts"),
			SubscribeRetryDelay:  v.GetDuration("subscribe_retry_delay"),
		},
		Stream: StreamConfig{
			RTPHost: v.GetString("rtp_host"),
		},
	}
}
