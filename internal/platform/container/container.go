package container

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jinford/pipewatch/internal/platform/clock"
	"github.com/jinford/pipewatch/pkg/client"
	"github.com/jinford/pipewatch/pkg/config"
	"github.com/jinford/pipewatch/pkg/models"
	"github.com/jinford/pipewatch/pkg/refresh"
	"github.com/jinford/pipewatch/pkg/store"
)

// Container はアプリケーション全体の依存関係を保持する。
// ストアはエンティティ種別ごとにプロセスで1つだけ持ち、すべてのビューで共有する
type Container struct {
	Config *config.Config
	Logger *slog.Logger
	Clock  clock.Clock
	Client *client.Client

	Jobs              *store.Store[models.Job]
	Runs              *store.Store[models.JobRun]
	EnvironmentBuilds *store.Store[models.EnvironmentBuild]
	Sessions          *store.Store[models.Session]
	Projects          *store.Store[models.Project]
}

// Option は Container 構築時のオプション
type Option func(*containerOptions)

type containerOptions struct {
	httpClient *http.Client
	clock      clock.Clock
}

// WithHTTPClient はAPIクライアントが使う HTTP クライアントを差し替える
func WithHTTPClient(httpClient *http.Client) Option {
	return func(opts *containerOptions) {
		opts.httpClient = httpClient
	}
}

// WithClock は時刻・タイマーの取得元を差し替える
func WithClock(c clock.Clock) Option {
	return func(opts *containerOptions) {
		opts.clock = c
	}
}

// New は設定とロガーからコンテナを生成する
func New(logger *slog.Logger, cfg *config.Config, opts ...Option) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		return nil, fmt.Errorf("設定がありません")
	}

	options := containerOptions{clock: clock.Real()}
	for _, opt := range opts {
		opt(&options)
	}

	clientOpts := []client.Option{
		client.WithToken(cfg.API.Token),
		client.WithLogger(logger),
	}
	if options.httpClient != nil {
		clientOpts = append(clientOpts, client.WithHTTPClient(options.httpClient))
	}
	clientOpts = append(clientOpts, client.WithTimeout(cfg.API.Timeout))

	apiClient, err := client.New(cfg.API.BaseURL, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("APIクライアントの初期化に失敗しました: %w", err)
	}

	storeOpts := func(name string) []store.Option {
		opts := []store.Option{store.WithName(name), store.WithLogger(logger)}
		if cfg.MemoWindow > 0 {
			opts = append(opts, store.WithCollectionWindow(cfg.MemoWindow, options.clock))
		}
		return opts
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
		Clock:  options.clock,
		Client: apiClient,

		Jobs:              store.New[models.Job](client.Jobs(apiClient), storeOpts("jobs")...),
		Runs:              store.New[models.JobRun](client.Runs(apiClient), storeOpts("runs")...),
		EnvironmentBuilds: store.New[models.EnvironmentBuild](client.EnvironmentBuilds(apiClient), storeOpts("environment-builds")...),
		Sessions:          store.New[models.Session](client.Sessions(apiClient), storeOpts("sessions")...),
		Projects:          store.New[models.Project](client.Projects(apiClient), storeOpts("projects")...),
	}
	return c, nil
}

// Policy は設定からステータス駆動のポリシーを組み立てる
func (c *Container) Policy() refresh.Policy {
	return refresh.Policy{
		ActiveInterval:  c.Config.Poll.ActiveInterval,
		SettledInterval: c.Config.Poll.SettledInterval,
		StopWhenSettled: c.Config.Poll.StopWhenSettled,
		FirstPageOnly:   c.Config.Poll.FirstPageOnly,
	}
}

// AlignedSchedule はジョブのスケジュールに合わせたポーリング境界を返す
func (c *Container) AlignedSchedule(schedule string) (*refresh.Aligned, error) {
	return refresh.NewAligned(schedule, c.Config.Poll.AlignSkew)
}

// SetProject はプロジェクトに紐づくストアのスコープを切り替える。
// 切り替わったストアはキャッシュを破棄する
func (c *Container) SetProject(projectUUID string) {
	c.Jobs.SetScope(projectUUID)
	c.Runs.SetScope(projectUUID)
	c.EnvironmentBuilds.SetScope(projectUUID)
	c.Sessions.SetScope(projectUUID)
}

// Close は内部リソースを解放する
func (c *Container) Close() {
	if c == nil {
		return
	}
	c.Jobs.Reset()
	c.Runs.Reset()
	c.EnvironmentBuilds.Reset()
	c.Sessions.Reset()
	c.Projects.Reset()
}
