package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/jinford/pipewatch/pkg/models"
)

const timeLayout = "2006-01-02 15:04:05"

// displayJobsTable はジョブ一覧をテーブル形式で表示します
func displayJobsTable(w io.Writer, jobs []models.Job) {
	table := tablewriter.NewWriter(w)
	table.Header("UUID", "名前", "ステータス", "スケジュール", "次回実行")

	for _, job := range jobs {
		schedule := "-"
		if job.IsRecurring() {
			schedule = job.Schedule
		}
		table.Append(
			job.UUID.String(),
			job.Name,
			string(job.Status),
			schedule,
			formatTime(job.NextScheduledTime),
		)
	}

	table.Render()
}

// displayRunsTable はジョブ実行の一覧をテーブル形式で表示します
func displayRunsTable(w io.Writer, runs []models.JobRun, now time.Time) {
	table := tablewriter.NewWriter(w)
	table.Header("UUID", "#", "ステータス", "開始", "実行時間")

	for _, run := range runs {
		table.Append(
			run.UUID.String(),
			fmt.Sprintf("%d", run.RunIndex),
			string(run.Status),
			formatTime(run.StartedTime),
			run.Duration(now).Truncate(time.Second).String(),
		)
	}

	table.Render()
}

// displayBuildsTable は環境イメージビルドの一覧をテーブル形式で表示します
func displayBuildsTable(w io.Writer, builds []models.EnvironmentBuild) {
	table := tablewriter.NewWriter(w)
	table.Header("UUID", "環境", "タグ", "ステータス", "要求日時")

	for _, build := range builds {
		table.Append(
			build.UUID.String(),
			build.EnvironmentUUID.String(),
			fmt.Sprintf("%d", build.ImageTag),
			string(build.Status),
			build.RequestedTime.Format(timeLayout),
		)
	}

	table.Render()
}

// displaySessionsTable はセッションの一覧をテーブル形式で表示します
func displaySessionsTable(w io.Writer, sessions []models.Session) {
	table := tablewriter.NewWriter(w)
	table.Header("プロジェクト", "パイプライン", "ステータス", "URL")

	for _, session := range sessions {
		table.Append(
			session.ProjectUUID.String(),
			session.PipelineUUID.String(),
			string(session.Status),
			session.BaseURL,
		)
	}

	table.Render()
}

// displayProjectsTable はプロジェクト一覧をテーブル形式で表示します
func displayProjectsTable(w io.Writer, projects []models.Project) {
	table := tablewriter.NewWriter(w)
	table.Header("UUID", "パス", "パイプライン", "実行中ジョブ", "環境", "セッション")

	for _, project := range projects {
		table.Append(
			project.UUID.String(),
			project.Path,
			fmt.Sprintf("%d", project.PipelineCount),
			fmt.Sprintf("%d", project.ActiveJobCount),
			fmt.Sprintf("%d", project.EnvironmentCount),
			fmt.Sprintf("%d", project.ActiveSessionCount),
		)
	}

	table.Render()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(timeLayout)
}

// exportToJSON はエンティティ一覧をJSON形式でファイルに出力します
func exportToJSON[T any](items []T, filePath string) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("JSONのエンコードに失敗: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return fmt.Errorf("ファイルの書き込みに失敗: %w", err)
	}

	fmt.Printf("✓ %d 件を %s に出力しました\n", len(items), filePath)
	return nil
}
