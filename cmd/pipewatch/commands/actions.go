package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/pipewatch/internal/watch"
	"github.com/jinford/pipewatch/pkg/models"
	"github.com/jinford/pipewatch/pkg/store"
	"github.com/jinford/pipewatch/pkg/validate"
)

// BuildStartAction は環境イメージのビルドを開始するコマンドのアクション
func BuildStartAction(ctx context.Context, cmd *cli.Command) error {
	projectUUID, err := uuidFlag(cmd, "project")
	if err != nil {
		return err
	}
	environmentUUID, err := uuidFlag(cmd, "environment")
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cont := appCtx.Container
	cont.SetProject(projectUUID.String())

	build, err := cont.Client.StartEnvironmentBuild(ctx, projectUUID, environmentUUID)
	if err != nil {
		return err
	}
	cont.EnvironmentBuilds.Upsert(build)

	appCtx.Logger().Info("環境イメージのビルドを開始しました",
		"build_uuid", build.UUID,
		"environment_uuid", build.EnvironmentUUID,
	)
	fmt.Fprintf(appCtx.out(), "✓ ビルドを開始しました: %s\n", build.UUID)

	if !cmd.Bool("watch") {
		displayBuildsTable(appCtx.out(), []models.EnvironmentBuild{build})
		return nil
	}

	updates, onUpdate := latestUpdates[models.EnvironmentBuild]()
	view := watch.NewSingle(cont.EnvironmentBuilds, build.UUID.String(), onUpdate,
		watch.WithPolicy(cont.Policy()),
		watch.WithClock(cont.Clock),
		watch.WithLogger(appCtx.Logger()),
	)
	return runView(ctx, appCtx, view, updates, watchOptions{untilSettled: true}, displayBuildsTable, nil)
}

// RunCancelAction はジョブの実行を中止するコマンドのアクション
func RunCancelAction(ctx context.Context, cmd *cli.Command) error {
	jobUUID, err := uuidFlag(cmd, "job")
	if err != nil {
		return err
	}
	runUUID, err := uuidFlag(cmd, "run")
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cont := appCtx.Container
	if err := cont.Client.CancelJobRun(ctx, jobUUID, runUUID); err != nil {
		return err
	}
	fmt.Fprintf(appCtx.out(), "✓ 実行の中止を要求しました: %s\n", runUUID)

	run, ok, err := refreshOne(ctx, appCtx, cont.Runs, runUUID.String())
	if err != nil {
		return err
	}
	if ok {
		displayRunsTable(appCtx.out(), []models.JobRun{run}, cont.Clock.Now())
	}
	return nil
}

// JobPauseAction は定期ジョブを一時停止するコマンドのアクション
func JobPauseAction(ctx context.Context, cmd *cli.Command) error {
	return jobAction(ctx, cmd, "一時停止", func(appCtx *AppContext, id uuid.UUID) (models.Job, error) {
		return appCtx.Container.Client.PauseJob(ctx, id)
	})
}

// JobResumeAction は一時停止中の定期ジョブを再開するコマンドのアクション
func JobResumeAction(ctx context.Context, cmd *cli.Command) error {
	return jobAction(ctx, cmd, "再開", func(appCtx *AppContext, id uuid.UUID) (models.Job, error) {
		return appCtx.Container.Client.ResumeJob(ctx, id)
	})
}

func jobAction(ctx context.Context, cmd *cli.Command, label string, do func(*AppContext, uuid.UUID) (models.Job, error)) error {
	jobUUID, err := uuidFlag(cmd, "uuid")
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	job, err := do(appCtx, jobUUID)
	if err != nil {
		return err
	}
	// 応答をそのままストアへ反映し、以降のビューは再取得を待たずに最新の状態を見る
	appCtx.Container.Jobs.Upsert(job)

	fmt.Fprintf(appCtx.out(), "✓ ジョブを%sしました: %s\n", label, job.UUID)
	displayJobsTable(appCtx.out(), appCtx.Container.Jobs.List())
	return nil
}

// ProjectListAction はプロジェクト一覧を表示するコマンドのアクション
func ProjectListAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	projects, err := appCtx.Container.Projects.FetchAll(ctx, nil, store.MergeReplace)
	if err != nil {
		return fmt.Errorf("プロジェクト一覧の取得に失敗: %w", err)
	}

	if len(projects) == 0 {
		fmt.Fprintln(appCtx.out(), "プロジェクトが登録されていません")
		return nil
	}
	displayProjectsTable(appCtx.out(), projects)

	if exportPath := cmd.String("export"); exportPath != "" {
		return exportToJSON(projects, exportPath)
	}
	return nil
}

// ProjectCreateAction はプロジェクトを作成するコマンドのアクション
func ProjectCreateAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.String("name")
	if err := validate.ProjectName(name); err != nil {
		printFieldErrors(cmd.Root().ErrWriter, err)
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	project, err := appCtx.Container.Client.CreateProject(ctx, name)
	if err != nil {
		printFieldErrors(cmd.Root().ErrWriter, err)
		return err
	}
	appCtx.Container.Projects.Upsert(project)

	fmt.Fprintf(appCtx.out(), "✓ プロジェクトを作成しました: %s\n", project.UUID)
	displayProjectsTable(appCtx.out(), []models.Project{project})
	return nil
}

// ProjectImportAction はGitリポジトリからプロジェクトをインポートするコマンドのアクション
func ProjectImportAction(ctx context.Context, cmd *cli.Command) error {
	req, err := validate.GitImport(models.GitImport{
		URL:         cmd.String("url"),
		ProjectName: cmd.String("name"),
	})
	if err != nil {
		printFieldErrors(cmd.Root().ErrWriter, err)
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	taskUUID, err := appCtx.Container.Client.ImportGitProject(ctx, req)
	if err != nil {
		printFieldErrors(cmd.Root().ErrWriter, err)
		return err
	}

	appCtx.Logger().Info("Gitインポートを開始しました", "url", req.URL, "project", req.ProjectName, "task_uuid", taskUUID)
	fmt.Fprintf(appCtx.out(), "✓ インポートを開始しました\n")
	fmt.Fprintf(appCtx.out(), "  プロジェクト: %s\n", req.ProjectName)
	fmt.Fprintf(appCtx.out(), "  タスク: %s\n", taskUUID)
	return nil
}

// refreshOne はアクションの直後に1件を取り直します。
// 同じエンティティを表示中のビューにもストア経由で反映される
func refreshOne[T models.Entity](ctx context.Context, appCtx *AppContext, st *store.Store[T], id string) (T, bool, error) {
	var zero T

	view := watch.NewSingle(st, id, nil,
		watch.WithClock(appCtx.Container.Clock),
		watch.WithLogger(appCtx.Logger()),
	)
	if err := view.Mount(ctx); err != nil {
		return zero, false, err
	}
	defer view.Unmount()

	if err := view.Refresh(ctx); err != nil {
		return zero, false, fmt.Errorf("再取得に失敗: %w", err)
	}

	items := view.Items()
	if len(items) == 0 {
		return zero, false, nil
	}
	return items[0], true, nil
}

func uuidFlag(cmd *cli.Command, name string) (uuid.UUID, error) {
	value := cmd.String(name)
	if err := validate.UUID(name, value); err != nil {
		return uuid.Nil, err
	}
	return uuid.MustParse(value), nil
}

// printFieldErrors は入力検証エラーをフィールドごとに表示します
func printFieldErrors(w io.Writer, err error) {
	errs, ok := validate.AsErrors(err)
	if !ok {
		return
	}
	if w == nil {
		return
	}
	for _, fe := range errs {
		fmt.Fprintf(w, "  %s: %s\n", fe.Field, fe.Message)
	}
}
