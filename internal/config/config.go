// Package config はアプリケーションの設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hitoshi/swim/internal/logger"
)

// EnvPrefix は設定を上書きする環境変数の接頭辞。キーの "." は "_" に置き換える。
// 例: basic_auth.enabled → SWIM_BASIC_AUTH_ENABLED
const EnvPrefix = "SWIM"

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	DatabaseURL  string             `mapstructure:"database_url"`
	DatabasePool DatabasePoolConfig `mapstructure:"database_pool"`

	// パイプライン
	RunMiddleware         bool   `mapstructure:"run_middleware"`
	RunResponseProcessors bool   `mapstructure:"run_response_processors"`
	EnableAdmin           bool   `mapstructure:"enable_admin"`
	Debug                 bool   `mapstructure:"debug"`
	Disable404            bool   `mapstructure:"disable_404"`
	Disable500            bool   `mapstructure:"disable_500"`
	ResourceMatcher       string `mapstructure:"resource_matcher"`

	BasicAuth BasicAuthConfig `mapstructure:"basic_auth"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Site      SiteConfig      `mapstructure:"site"`
	Templates TemplatesConfig `mapstructure:"templates"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Prune     PruneConfig     `mapstructure:"prune"`
}

// DatabasePoolConfig はコネクションプールの設定。0の項目はdatabase/sqlの既定値のまま。
type DatabasePoolConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// BasicAuthConfig はサイト全体のBasic認証の設定。
type BasicAuthConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Roots    []string `mapstructure:"roots"`
	Excludes []string `mapstructure:"excludes"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"` // 平文またはbcryptハッシュ
	Realm    string   `mapstructure:"realm"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
	Compress        bool          `mapstructure:"compress"`
	FrameOptions    string        `mapstructure:"frame_options"`
}

// LogConfig はログの設定。
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SiteConfig はサイトの設定。
type SiteConfig struct {
	Name    string   `mapstructure:"name"`
	Domains []string `mapstructure:"domains"`
}

// TemplatesConfig はテンプレートの設定。
type TemplatesConfig struct {
	FallbackDir string `mapstructure:"fallback_dir"`
}

// RateLimitConfig はクライアントごとのレート制限の設定。PerMinuteが0の場合は無効。
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

// PruneConfig はスロット掃除ジョブの設定。Intervalが0の場合はserveで定期実行しない。
type PruneConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// defaults は全キーの既定値。環境変数での上書きにはキーが登録されている必要がある。
var defaults = map[string]any{
	"database_url":            "",

	"database_pool.max_open_conns":    25,
	"database_pool.max_idle_conns":    5,
	"database_pool.conn_max_lifetime": 30 * time.Minute,

	"run_middleware":          true,
	"run_response_processors": true,
	"enable_admin":            false,
	"debug":                   false,
	"disable_404":             false,
	"disable_500":             false,
	"resource_matcher":        "exact",

	"basic_auth.enabled":  false,
	"basic_auth.roots":    []string{},
	"basic_auth.excludes": []string{},
	"basic_auth.username": "",
	"basic_auth.password": "",
	"basic_auth.realm":    "Restricted",

	"server.port":             "8080",
	"server.read_timeout":     15 * time.Second,
	"server.write_timeout":    15 * time.Second,
	"server.idle_timeout":     60 * time.Second,
	"server.shutdown_timeout": 30 * time.Second,
	"server.trust_proxy":      false,
	"server.compress":         false,
	"server.frame_options":    "SAMEORIGIN",

	"log.level": "info",

	"site.name":    "swim",
	"site.domains": []string{},

	"templates.fallback_dir": "",

	"rate_limit.per_minute": 0,
	"rate_limit.burst":      0,

	"prune.interval": time.Duration(0),
}

// Load は既定値、設定ファイル、SWIM_*環境変数の順に重ねてConfigを読み込む。
// configFileが空の場合はカレントディレクトリのswim.yamlを探し、なければ既定値と環境変数のみを使う。
func Load(configFile string) (*Config, error) {
	v := viper.New()

	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("swim")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗しました: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("設定の解析に失敗しました: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate は設定値を検証する。
func (c *Config) Validate() error {
	var problems []string

	if c.DatabaseURL == "" {
		problems = append(problems, "database_url is required")
	}
	switch c.ResourceMatcher {
	case "", "exact", "prefix":
	default:
		problems = append(problems, fmt.Sprintf("resource_matcher must be exact or prefix: %q", c.ResourceMatcher))
	}
	if c.BasicAuth.Enabled && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		problems = append(problems, "basic_auth.username and basic_auth.password are required when basic_auth.enabled")
	}
	if c.DatabasePool.MaxOpenConns < 0 || c.DatabasePool.MaxIdleConns < 0 {
		problems = append(problems, "database_pool connection counts must not be negative")
	}
	if c.RateLimit.PerMinute < 0 || c.RateLimit.Burst < 0 {
		problems = append(problems, "rate_limit.per_minute and rate_limit.burst must not be negative")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
