package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Scanner  ScannerConfig  `yaml:"scanner"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	StatusUpdatedTopicName string `yaml:"status_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ScannerConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// Tracking status cache. Entries older than the TTL are stale and must
	// not satisfy a fresh-data request. Default: 7200 (2 hours).
	TrackingTTLSeconds int `yaml:"tracking_ttl_seconds"`

	// Worker refresh plane.
	WorkerHTTPAddr            string `yaml:"worker_http_addr"`
	RefreshIntervalSeconds    int    `yaml:"refresh_interval_seconds"`       // default 900
	OrderSyncIntervalSeconds  int    `yaml:"order_sync_interval_seconds"`    // default 300
	RefreshActivityWindowDays int    `yaml:"refresh_activity_window_days"`   // default 30
	RefreshCapUPS             int    `yaml:"refresh_cap_ups"`                // default 30
	RefreshCapCanadaPost      int    `yaml:"refresh_cap_canada_post"`        // default 20
	RateLimitPerCarrierPerMin int    `yaml:"rate_limit_per_carrier_per_min"` // default 60
	CarrierTimeoutSeconds     int    `yaml:"carrier_timeout_seconds"`        // default 15
	OrderLookbackDays         int    `yaml:"order_lookback_days"`            // default 365

	// Order source (Shopify-compatible REST).
	OrderSourceBaseURL     string `yaml:"order_source_base_url"`
	OrderSourceAccessToken string `yaml:"order_source_access_token"`

	// Carrier credentials.
	UPSBaseURL         string `yaml:"ups_base_url"`
	UPSClientID        string `yaml:"ups_client_id"`
	UPSClientSecret    string `yaml:"ups_client_secret"`
	CanadaPostBaseURL  string `yaml:"canada_post_base_url"`
	CanadaPostUsername string `yaml:"canada_post_username"`
	CanadaPostPassword string `yaml:"canada_post_password"`

	// Notification source (Klaviyo-compatible events API).
	NotifyBaseURL string `yaml:"notify_base_url"`
	NotifyAPIKey  string `yaml:"notify_api_key"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
