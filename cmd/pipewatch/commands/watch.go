package commands

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/pipewatch/internal/watch"
	"github.com/jinford/pipewatch/pkg/models"
	"github.com/jinford/pipewatch/pkg/notify"
	"github.com/jinford/pipewatch/pkg/poller"
	"github.com/jinford/pipewatch/pkg/refresh"
	"github.com/jinford/pipewatch/pkg/store"
	"github.com/jinford/pipewatch/pkg/validate"
)

// watchOptions はコレクション監視コマンドの共通フラグ
type watchOptions struct {
	query        url.Values
	page         int // 0始まり
	untilSettled bool
	once         bool
	export       string
	notifyFile   string // ステータス変化の追記先
}

// parseWatchOptions はフラグを読み取り、--project があればストアのスコープを切り替える
func parseWatchOptions(cmd *cli.Command, appCtx *AppContext) (watchOptions, error) {
	opts := watchOptions{
		query:        url.Values{},
		untilSettled: cmd.Bool("until-settled"),
		once:         cmd.Bool("once"),
		export:       cmd.String("export"),
		notifyFile:   cmd.String("notify-file"),
	}

	if page := cmd.Int("page"); page > 1 {
		opts.page = page - 1
	}

	if project := cmd.String("project"); project != "" {
		if err := validate.UUID("project", project); err != nil {
			return opts, err
		}
		opts.query.Set("project_uuid", project)
		appCtx.Container.SetProject(project)
	}
	return opts, nil
}

// WatchJobsAction はジョブ一覧を監視するコマンドのアクション
func WatchJobsAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	opts, err := parseWatchOptions(cmd, appCtx)
	if err != nil {
		return err
	}
	return watchCollection(ctx, appCtx, appCtx.Container.Jobs, opts, displayJobsTable)
}

// WatchRunsAction はジョブ実行の一覧を監視するコマンドのアクション
func WatchRunsAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	opts, err := parseWatchOptions(cmd, appCtx)
	if err != nil {
		return err
	}
	if job := cmd.String("job"); job != "" {
		if err := validate.UUID("job", job); err != nil {
			return err
		}
		opts.query.Set("job_uuid", job)
	}

	clk := appCtx.Container.Clock
	return watchCollection(ctx, appCtx, appCtx.Container.Runs, opts, func(w io.Writer, runs []models.JobRun) {
		displayRunsTable(w, runs, clk.Now())
	})
}

// WatchBuildsAction は環境イメージビルドの一覧を監視するコマンドのアクション
func WatchBuildsAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	opts, err := parseWatchOptions(cmd, appCtx)
	if err != nil {
		return err
	}
	return watchCollection(ctx, appCtx, appCtx.Container.EnvironmentBuilds, opts, displayBuildsTable)
}

// WatchSessionsAction はセッションの一覧を監視するコマンドのアクション
func WatchSessionsAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	opts, err := parseWatchOptions(cmd, appCtx)
	if err != nil {
		return err
	}
	return watchCollection(ctx, appCtx, appCtx.Container.Sessions, opts, displaySessionsTable)
}

// WatchJobAction は1件のジョブを監視するコマンドのアクション。
// 定期ジョブはスケジュール境界の直後にも確認する
func WatchJobAction(ctx context.Context, cmd *cli.Command) error {
	jobUUID := cmd.String("uuid")
	if err := validate.UUID("uuid", jobUUID); err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	opts := watchOptions{
		untilSettled: cmd.Bool("until-settled"),
		once:         cmd.Bool("once"),
		notifyFile:   cmd.String("notify-file"),
	}

	cont := appCtx.Container
	updates, onUpdate := latestUpdates[models.Job]()
	view := watch.NewSingle(cont.Jobs, jobUUID, onUpdate,
		watch.WithPolicy(cont.Policy()),
		watch.WithClock(cont.Clock),
		watch.WithLogger(appCtx.Logger()),
	)

	return runView(ctx, appCtx, view, updates, opts, displayJobsTable, func(jobs []models.Job) {
		if len(jobs) == 0 || !jobs[0].IsRecurring() {
			return
		}
		aligned, err := cont.AlignedSchedule(jobs[0].Schedule)
		if err != nil {
			appCtx.Logger().Warn("ジョブのスケジュールを解釈できません", "schedule", jobs[0].Schedule, "error", err)
			return
		}
		view.SetSchedule(watch.FromCombined(refresh.Combined{Policy: cont.Policy(), Aligned: aligned}))
	})
}

// watchCollection はコレクションのビューをマウントして監視します
func watchCollection[T models.Entity](ctx context.Context, appCtx *AppContext, st *store.Store[T], opts watchOptions, render func(io.Writer, []T)) error {
	cont := appCtx.Container
	updates, onUpdate := latestUpdates[T]()
	view := watch.NewCollection(st, onUpdate,
		watch.WithPolicy(cont.Policy()),
		watch.WithQuery(opts.query),
		watch.WithPage(opts.page),
		watch.WithClock(cont.Clock),
		watch.WithLogger(appCtx.Logger()),
	)
	return runView(ctx, appCtx, view, updates, opts, render, nil)
}

// latestUpdates は最新の更新だけを保持するチャネルと、それに書き込む onUpdate を返します。
// 描画が追いつかない場合は古い更新を捨てる
func latestUpdates[T models.Entity]() (<-chan watch.Update[T], func(watch.Update[T])) {
	ch := make(chan watch.Update[T], 1)
	return ch, func(u watch.Update[T]) {
		select {
		case ch <- u:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- u:
		default:
		}
	}
}

// runView はビューをマウントし、初回取得の結果を表示した後、更新のたびに再表示します
func runView[T models.Entity](
	ctx context.Context,
	appCtx *AppContext,
	view *watch.View[T],
	updates <-chan watch.Update[T],
	opts watchOptions,
	render func(io.Writer, []T),
	onFirst func([]T),
) error {
	if err := view.Mount(ctx); err != nil {
		return err
	}
	defer view.Unmount()

	// 初回取得はマウント時に始まっているので、実行中であれば合流する
	if err := view.Refresh(ctx); err != nil {
		if opts.once {
			return fmt.Errorf("取得に失敗: %w", err)
		}
		appCtx.Logger().Warn("初回取得に失敗しました。次の更新で再試行します", "error", err)
	}

	tracker := notify.NewTracker(appCtx.Container.Clock)
	notifier := newNotifier(appCtx.out(), opts.notifyFile)

	items := view.Items()
	notify.Observe(tracker, items)
	if onFirst != nil {
		onFirst(items)
	}
	render(appCtx.out(), items)

	if opts.once {
		if opts.export != "" {
			return exportToJSON(items, opts.export)
		}
		return nil
	}
	if opts.untilSettled && !models.AnyActive(models.Statuses(items)) {
		fmt.Fprintln(appCtx.out(), "✓ すべて完了しています")
		return nil
	}
	printNextUpdate(appCtx.out(), view.Delay())

	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			if u.Err != nil {
				appCtx.Logger().Warn("取得に失敗しました。次の更新で再試行します", "error", u.Err)
				continue
			}
			render(appCtx.out(), u.Items)
			if err := notifier.Notify(notify.Observe(tracker, u.Items)); err != nil {
				appCtx.Logger().Warn("ステータス変化の通知に失敗しました", "error", err)
			}

			if opts.untilSettled && !models.AnyActive(models.Statuses(u.Items)) {
				fmt.Fprintln(appCtx.out(), "✓ すべて完了しました")
				return nil
			}
			printNextUpdate(appCtx.out(), u.Delay)
		}
	}
}

// newNotifier は出力先と、指定があればファイルへ通知する Notifier を返します
func newNotifier(w io.Writer, filePath string) notify.Notifier {
	notifiers := []notify.Notifier{notify.NewWriterNotifier(w)}
	if filePath != "" {
		notifiers = append(notifiers, notify.NewFileNotifier(filePath))
	}
	return notify.NewMultiNotifier(notifiers...)
}

func printNextUpdate(w io.Writer, delay time.Duration) {
	if delay == poller.Disabled {
		fmt.Fprintln(w, "自動更新は停止しています（Ctrl+C で終了）")
		return
	}
	fmt.Fprintf(w, "次回更新: %s 後（Ctrl+C で終了）\n", delay)
}
