package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config はロガーの設定
type Config struct {
	Level  slog.Level
	Format string    // "json" or "text"
	Output io.Writer // nil の場合は標準エラー出力（標準出力はテーブル表示に使う）
}

// DefaultConfig はデフォルトのロガー設定
func DefaultConfig() Config {
	return Config{
		Level:  slog.LevelInfo,
		Format: "json",
	}
}

// ParseConfig は文字列のレベルと形式から設定を組み立てます
func ParseConfig(level, format string) (Config, error) {
	cfg := DefaultConfig()

	lvl, err := ParseLevel(level)
	if err != nil {
		return cfg, err
	}
	cfg.Level = lvl

	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "":
	case "json", "text":
		cfg.Format = f
	default:
		return cfg, fmt.Errorf("unknown log format: %q", format)
	}
	return cfg, nil
}

// ParseLevel はログレベル名を slog.Level に変換します
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %q", level)
	}
}

// New は新しいロガーを作成し、デフォルトロガーとして設定します
func New(cfg Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: cfg.Level,
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default: // "json"
		handler = slog.NewJSONHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger
}

// Discard は何も出力しないロガーを返します（テスト用）
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
