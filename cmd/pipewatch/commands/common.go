package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jinford/pipewatch/internal/platform/container"
	"github.com/jinford/pipewatch/internal/platform/logger"
	"github.com/jinford/pipewatch/pkg/config"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.Container
	Out       io.Writer // テーブルの出力先
}

// NewAppContext は設定ファイルを読み込み、コンテナを初期化して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	// 設定の読み込み
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	// ロガーの初期化
	logCfg, err := logger.ParseConfig(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("ロガー設定の読み込みに失敗: %w", err)
	}
	appLogger := logger.New(logCfg)

	// コンテナの初期化
	cont, err := container.New(appLogger, cfg)
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
		Out:       os.Stdout,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger
	}
	return slog.Default()
}

// out はテーブルの出力先を返す
func (ac *AppContext) out() io.Writer {
	if ac.Out == nil {
		return os.Stdout
	}
	return ac.Out
}
