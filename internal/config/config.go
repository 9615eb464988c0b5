// internal/config/config.go
package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Cache struct {
		Path string `mapstructure:"path"` // sqliteファイルのパス。":memory:" も可
	} `mapstructure:"cache"`
	Server struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Sync struct {
		RetryBaseDelayMS int `mapstructure:"retry_base_delay_ms"` // リトライ基底遅延
		MaxRetries       int `mapstructure:"max_retries"`
		ReviewWindowH    int `mapstructure:"review_window_hours"` // 復習対象になるまでの時間
		AutoSyncMinutes  int `mapstructure:"auto_sync_minutes"`   // 0で自動同期無効
	} `mapstructure:"sync"`
	Auth struct {
		Enabled     bool   `mapstructure:"enabled"`
		TokenSecret string `mapstructure:"token_secret"`
	} `mapstructure:"auth"`
	CORS struct {
		AllowedOrigins   []string `mapstructure:"allowed_origins"`
		AllowedMethods   []string `mapstructure:"allowed_methods"`
		AllowedHeaders   []string `mapstructure:"allowed_headers"`
		ExposedHeaders   []string `mapstructure:"exposed_headers"`
		AllowCredentials bool     `mapstructure:"allow_credentials"`
		MaxAge           int      `mapstructure:"max_age"`
	} `mapstructure:"cors"`
	Mailer struct {
		Type string `mapstructure:"type"` // "log" / "smtp" / "ses"
	} `mapstructure:"mailer"`
	SMTP SMTPConfig `mapstructure:"smtp"`
	SES  SESConfig  `mapstructure:"ses"`
	Reminder struct {
		Enabled bool   `mapstructure:"enabled"`
		Hour    int    `mapstructure:"hour"` // 通知を送る時刻（0-23）
		To      string `mapstructure:"to"`
	} `mapstructure:"reminder"`
}

type SMTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	From string `mapstructure:"from"`
}

type SESConfig struct {
	Region          string `mapstructure:"region"`
	AuthType        string `mapstructure:"auth_type"` // "static_credentials" / "iam_role"
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	From            string `mapstructure:"from"`
}

// RetryBaseDelay は設定値を time.Duration に変換して返します
func (c *Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.Sync.RetryBaseDelayMS) * time.Millisecond
}

// ReviewWindow は復習対象になるまでの経過時間を返します
func (c *Config) ReviewWindow() time.Duration {
	return time.Duration(c.Sync.ReviewWindowH) * time.Hour
}

var Cfg Config

func LoadConfig(path string) error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(path)
	viper.AddConfigPath(".")

	// 環境変数からの上書き (例: APP_AUTH_ENABLED)
	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()
	viper.BindEnv("auth.enabled", "AUTH_ENABLED")
	viper.BindEnv("cache.path", "CACHE_PATH")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("Warning: Config file not found. Using default settings or environment variables if available.")
		} else {
			log.Printf("Error reading config file: %s\n", err)
			return err
		}
	}

	if err := viper.Unmarshal(&Cfg); err != nil {
		log.Printf("Error unmarshalling config: %s\n", err)
		return err
	}

	// --- デフォルト値の設定 ---
	if Cfg.Server.Port == "" {
		Cfg.Server.Port = DefaultServerPort
	}
	if Cfg.Cache.Path == "" {
		Cfg.Cache.Path = DefaultCachePath
	}
	if Cfg.Sync.RetryBaseDelayMS <= 0 {
		Cfg.Sync.RetryBaseDelayMS = DefaultRetryBaseDelayMS
	}
	if Cfg.Sync.MaxRetries <= 0 {
		Cfg.Sync.MaxRetries = DefaultMaxSyncRetries
	}
	if Cfg.Sync.ReviewWindowH <= 0 {
		Cfg.Sync.ReviewWindowH = DefaultReviewWindowHours
	}
	if Cfg.Reminder.Hour < 0 || Cfg.Reminder.Hour > 23 {
		log.Println("Reminder hour out of range, using default")
		Cfg.Reminder.Hour = DefaultReminderHour
	}
	if !viper.IsSet("auth.enabled") {
		Cfg.Auth.Enabled = DefaultAuthEnabled
	}

	log.Println("Config loaded successfully")
	log.Printf("Server Port: %s", Cfg.Server.Port)
	log.Printf("Cache Path: %s", Cfg.Cache.Path)
	log.Printf("Auth Enabled: %t", Cfg.Auth.Enabled)

	return nil
}
