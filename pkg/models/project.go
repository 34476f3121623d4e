package models

import (
	"github.com/google/uuid"
)

// Project はパイプライン・ジョブ・環境をまとめる単位です。
// ストアのスコープ（切り替え時にキャッシュを破棄する単位）として使われます
type Project struct {
	UUID               uuid.UUID `json:"uuid"`
	Path               string    `json:"path"`
	PipelineCount      int       `json:"pipeline_count"`
	ActiveJobCount     int       `json:"active_job_count"`
	EnvironmentCount   int       `json:"environment_count"`
	ActiveSessionCount int       `json:"session_count"`
}

func (p Project) EntityUUID() string { return p.UUID.String() }

// EntityStatus はプロジェクト自体は遷移しないため、常に DRAFT 扱いとします
func (p Project) EntityStatus() Status { return StatusDraft }

// GitImport は Git リポジトリからのプロジェクトインポート要求です
type GitImport struct {
	URL         string `json:"url"`
	ProjectName string `json:"project_name,omitempty"`
}
