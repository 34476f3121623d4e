package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// API接続設定
	API APIConfig

	// ポーリング設定
	Poll PollConfig

	// コレクション取得結果を使い回す期間（0で無効）
	MemoWindow time.Duration

	// ログ設定
	Log LogConfig
}

// APIConfig はバックエンドAPIへの接続設定
type APIConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// PollConfig はステータスに応じたポーリング間隔の設定
type PollConfig struct {
	ActiveInterval  time.Duration // 遷移中のエンティティがある間の間隔
	SettledInterval time.Duration // すべて落ち着いている間の間隔
	StopWhenSettled bool          // 落ち着いたらポーリングを止める
	FirstPageOnly   bool          // 短い間隔を先頭ページに限定する
	AlignSkew       time.Duration // スケジュール境界に合わせる際の余裕
}

// LogConfig はログ出力設定
type LogConfig struct {
	Level  string // "debug", "info", "warn", "error"
	Format string // "json" or "text"
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	var errs []error
	cfg := &Config{
		API: APIConfig{
			BaseURL: getEnv("PIPEWATCH_API_URL", "http://localhost:8000"),
			Token:   getEnv("PIPEWATCH_API_TOKEN", ""),
			Timeout: getEnvAsDuration("PIPEWATCH_HTTP_TIMEOUT", 10*time.Second, &errs),
		},
		Poll: PollConfig{
			ActiveInterval:  getEnvAsDuration("POLL_ACTIVE_INTERVAL", 5*time.Second, &errs),
			SettledInterval: getEnvAsDuration("POLL_SETTLED_INTERVAL", 60*time.Second, &errs),
			StopWhenSettled: getEnvAsBool("POLL_STOP_WHEN_SETTLED", false, &errs),
			FirstPageOnly:   getEnvAsBool("POLL_FIRST_PAGE_ONLY", true, &errs),
			AlignSkew:       getEnvAsDuration("POLL_ALIGN_SKEW", 2*time.Second, &errs),
		},
		MemoWindow: getEnvAsDuration("MEMO_WINDOW", 0, &errs),
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		},
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証します
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("PIPEWATCH_API_URL must be an http(s) URL: %q", c.API.BaseURL))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("PIPEWATCH_HTTP_TIMEOUT must be positive"))
	}
	if c.Poll.ActiveInterval <= 0 {
		errs = append(errs, errors.New("POLL_ACTIVE_INTERVAL must be positive"))
	}
	if c.Poll.SettledInterval <= 0 {
		errs = append(errs, errors.New("POLL_SETTLED_INTERVAL must be positive"))
	}
	if c.Poll.AlignSkew < 0 {
		errs = append(errs, errors.New("POLL_ALIGN_SKEW must not be negative"))
	}
	if c.MemoWindow < 0 {
		errs = append(errs, errors.New("MEMO_WINDOW must not be negative"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error: %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text: %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsDuration は環境変数を time.Duration として取得します。
// 単位のない整数は秒として扱います
func getEnvAsDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, valueStr))
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool, errs *[]error) bool {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid boolean %q", key, valueStr))
		return defaultValue
	}
	return value
}
