package models

import (
	"time"

	"github.com/google/uuid"
)

// === Job集約: Job（ルート）+ JobRun ===

// Job はパイプラインを定期または一度だけ実行するジョブを表します
type Job struct {
	UUID              uuid.UUID         `json:"uuid"`
	Name              string            `json:"name"`
	ProjectUUID       uuid.UUID         `json:"project_uuid"`
	PipelineUUID      uuid.UUID         `json:"pipeline_uuid"`
	Status            Status            `json:"status"`
	Schedule          string            `json:"schedule,omitempty"` // cron形式。空の場合は単発実行
	NextScheduledTime *time.Time        `json:"next_scheduled_time,omitempty"`
	TotalScheduled    int               `json:"total_scheduled_executions"`
	Parameters        map[string]any    `json:"parameters,omitempty"`
	EnvVariables      map[string]string `json:"env_variables,omitempty"`
	CreatedTime       time.Time         `json:"created_time"`
}

func (j Job) EntityUUID() string   { return j.UUID.String() }
func (j Job) EntityStatus() Status { return j.Status }
func (j Job) IsRecurring() bool    { return j.Schedule != "" }

// JobRun はジョブの1回分の実行（パイプラインラン）を表します
type JobRun struct {
	UUID         uuid.UUID  `json:"uuid"`
	JobUUID      uuid.UUID  `json:"job_uuid"`
	PipelineUUID uuid.UUID  `json:"pipeline_uuid"`
	RunIndex     int        `json:"job_run_index"`
	Status       Status     `json:"status"`
	StartedTime  *time.Time `json:"started_time,omitempty"`
	FinishedTime *time.Time `json:"finished_time,omitempty"`
}

func (r JobRun) EntityUUID() string   { return r.UUID.String() }
func (r JobRun) EntityStatus() Status { return r.Status }

// Duration は実行時間を返します。未開始の場合は0、未終了の場合は now までの経過時間
func (r JobRun) Duration(now time.Time) time.Duration {
	if r.StartedTime == nil {
		return 0
	}
	end := now
	if r.FinishedTime != nil {
		end = *r.FinishedTime
	}
	return end.Sub(*r.StartedTime)
}
