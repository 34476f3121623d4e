package models

import (
	"github.com/google/uuid"
)

// Session はパイプラインに紐づく対話セッションを表します。
// セッションは独自のUUIDを持たないため、プロジェクトとパイプラインの組を識別子とします
type Session struct {
	ProjectUUID  uuid.UUID `json:"project_uuid"`
	PipelineUUID uuid.UUID `json:"pipeline_uuid"`
	Status       Status    `json:"status"`
	BaseURL      string    `json:"base_url,omitempty"`
}

// SessionKey はセッションの識別子を組み立てます
func SessionKey(projectUUID, pipelineUUID uuid.UUID) string {
	return projectUUID.String() + ":" + pipelineUUID.String()
}

func (s Session) EntityUUID() string   { return SessionKey(s.ProjectUUID, s.PipelineUUID) }
func (s Session) EntityStatus() Status { return s.Status }
