package models

import (
	"time"

	"github.com/google/uuid"
)

// EnvironmentBuild は環境イメージのビルドを表します
type EnvironmentBuild struct {
	UUID            uuid.UUID  `json:"uuid"`
	ProjectUUID     uuid.UUID  `json:"project_uuid"`
	EnvironmentUUID uuid.UUID  `json:"environment_uuid"`
	ImageTag        int        `json:"image_tag"`
	Status          Status     `json:"status"`
	RequestedTime   time.Time  `json:"requested_time"`
	StartedTime     *time.Time `json:"started_time,omitempty"`
	FinishedTime    *time.Time `json:"finished_time,omitempty"`
}

func (b EnvironmentBuild) EntityUUID() string   { return b.UUID.String() }
func (b EnvironmentBuild) EntityStatus() Status { return b.Status }
