package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/jinford/pipewatch/cmd/pipewatch/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:      "pipewatch",
		Usage:     "パイプライン・ジョブ・環境ビルドの状態をポーリングして表示する",
		ErrWriter: os.Stderr,
		Commands: []*cli.Command{
			{
				Name:  "jobs",
				Usage: "ジョブ管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "watch",
						Usage:  "ジョブ一覧を監視",
						Flags:  collectionFlags(),
						Action: commands.WatchJobsAction,
					},
					{
						Name:  "show",
						Usage: "ジョブ1件を監視（定期ジョブはスケジュールに合わせて確認）",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "uuid",
								Usage:    "ジョブUUID",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "until-settled",
								Usage: "実行中でなくなったら終了",
							},
							&cli.BoolFlag{
								Name:  "once",
								Usage: "1回だけ取得して終了",
							},
							notifyFileFlag(),
						},
						Action: commands.WatchJobAction,
					},
					{
						Name:   "pause",
						Usage:  "定期ジョブを一時停止",
						Flags:  []cli.Flag{envFlag(), jobUUIDFlag()},
						Action: commands.JobPauseAction,
					},
					{
						Name:   "resume",
						Usage:  "一時停止中の定期ジョブを再開",
						Flags:  []cli.Flag{envFlag(), jobUUIDFlag()},
						Action: commands.JobResumeAction,
					},
				},
			},
			{
				Name:  "runs",
				Usage: "ジョブ実行管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "watch",
						Usage: "ジョブ実行の一覧を監視",
						Flags: append(collectionFlags(),
							&cli.StringFlag{
								Name:  "job",
								Usage: "ジョブUUID（絞り込み）",
							},
						),
						Action: commands.WatchRunsAction,
					},
					{
						Name:  "cancel",
						Usage: "ジョブの実行を中止",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "job",
								Usage:    "ジョブUUID",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "run",
								Usage:    "実行UUID",
								Required: true,
							},
						},
						Action: commands.RunCancelAction,
					},
				},
			},
			{
				Name:  "builds",
				Usage: "環境イメージビルド管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "watch",
						Usage:  "環境イメージビルドの一覧を監視",
						Flags:  collectionFlags(),
						Action: commands.WatchBuildsAction,
					},
					{
						Name:  "start",
						Usage: "環境イメージのビルドを開始",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "project",
								Usage:    "プロジェクトUUID",
								Required: true,
							},
							&cli.StringFlag{
								Name:     "environment",
								Usage:    "環境UUID",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "watch",
								Usage: "ビルドが終わるまで監視",
							},
						},
						Action: commands.BuildStartAction,
					},
				},
			},
			{
				Name:  "sessions",
				Usage: "セッション管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "watch",
						Usage:  "セッションの一覧を監視",
						Flags:  collectionFlags(),
						Action: commands.WatchSessionsAction,
					},
				},
			},
			{
				Name:  "project",
				Usage: "プロジェクト管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "プロジェクト一覧を表示",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:  "export",
								Usage: "JSON形式でファイルに出力",
							},
						},
						Action: commands.ProjectListAction,
					},
					{
						Name:  "create",
						Usage: "プロジェクトを作成",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "name",
								Usage:    "プロジェクト名",
								Required: true,
							},
						},
						Action: commands.ProjectCreateAction,
					},
					{
						Name:  "import",
						Usage: "Gitリポジトリからプロジェクトをインポート",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:     "url",
								Usage:    "GitリポジトリURL",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "name",
								Usage: "プロジェクト名（省略時はリポジトリ名）",
							},
						},
						Action: commands.ProjectImportAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func jobUUIDFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "uuid",
		Usage:    "ジョブUUID",
		Required: true,
	}
}

// collectionFlags は一覧の監視コマンドに共通のフラグ
func collectionFlags() []cli.Flag {
	return []cli.Flag{
		envFlag(),
		&cli.StringFlag{
			Name:  "project",
			Usage: "プロジェクトUUID（絞り込み）",
		},
		&cli.IntFlag{
			Name:  "page",
			Usage: "ページ番号（1始まり。2ページ目以降はポーリング間隔を延ばす）",
			Value: 1,
		},
		&cli.BoolFlag{
			Name:  "until-settled",
			Usage: "実行中のものがなくなったら終了",
		},
		&cli.BoolFlag{
			Name:  "once",
			Usage: "1回だけ取得して終了",
		},
		&cli.StringFlag{
			Name:  "export",
			Usage: "--once と併用し、JSON形式でファイルに出力",
		},
		notifyFileFlag(),
	}
}

func notifyFileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "notify-file",
		Usage: "ステータス変化を追記するファイル",
	}
}
