package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/jinford/pipewatch/pkg/models"
	"github.com/jinford/pipewatch/pkg/validate"
)

// StartEnvironmentBuild は環境イメージのビルドを開始します
func (c *Client) StartEnvironmentBuild(ctx context.Context, projectUUID, environmentUUID uuid.UUID) (models.EnvironmentBuild, error) {
	var zero models.EnvironmentBuild

	req := map[string]any{
		"environment_image_build_requests": []map[string]string{{
			"project_uuid":     projectUUID.String(),
			"environment_uuid": environmentUUID.String(),
		}},
	}
	body, err := c.do(ctx, http.MethodPost, "/api/environment-builds", nil, req)
	if err != nil {
		return zero, fmt.Errorf("failed to start environment build: %w", err)
	}

	builds, err := decodeCollection[models.EnvironmentBuild](body, "environment_image_builds")
	if err != nil {
		return zero, err
	}
	if len(builds) == 0 {
		return zero, fmt.Errorf("failed to start environment build: empty response")
	}
	return builds[0], nil
}

// CancelJobRun は実行中のジョブランを中止します
func (c *Client) CancelJobRun(ctx context.Context, jobUUID, runUUID uuid.UUID) error {
	path := fmt.Sprintf("/api/jobs/%s/runs/%s/cancel", jobUUID, runUUID)
	if _, err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("failed to cancel job run: %w", err)
	}
	return nil
}

// PauseJob は定期ジョブを一時停止します
func (c *Client) PauseJob(ctx context.Context, jobUUID uuid.UUID) (models.Job, error) {
	return c.jobAction(ctx, jobUUID, "pause")
}

// ResumeJob は一時停止中の定期ジョブを再開します
func (c *Client) ResumeJob(ctx context.Context, jobUUID uuid.UUID) (models.Job, error) {
	return c.jobAction(ctx, jobUUID, "resume")
}

func (c *Client) jobAction(ctx context.Context, jobUUID uuid.UUID, action string) (models.Job, error) {
	var job models.Job
	path := fmt.Sprintf("/api/jobs/%s/%s", jobUUID, action)
	if err := c.postJSON(ctx, path, nil, &job); err != nil {
		return job, fmt.Errorf("failed to %s job: %w", action, err)
	}
	return job, nil
}

// CreateProject はプロジェクトを作成します。名前はリクエスト前に検証します
func (c *Client) CreateProject(ctx context.Context, name string) (models.Project, error) {
	var project models.Project
	if err := validate.ProjectName(name); err != nil {
		return project, err
	}

	if err := c.postJSON(ctx, "/api/projects", map[string]string{"name": name}, &project); err != nil {
		return project, fmt.Errorf("failed to create project: %w", err)
	}
	return project, nil
}

// ImportGitProject はGitリポジトリからプロジェクトをインポートし、バックグラウンドタスクのUUIDを返します
func (c *Client) ImportGitProject(ctx context.Context, req models.GitImport) (uuid.UUID, error) {
	req, err := validate.GitImport(req)
	if err != nil {
		return uuid.Nil, err
	}

	body, err := c.do(ctx, http.MethodPost, "/api/projects/import-git", nil, req)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to import git project: %w", err)
	}

	taskID := gjson.GetBytes(body, "uuid")
	if !taskID.Exists() {
		return uuid.Nil, fmt.Errorf("failed to import git project: response has no task uuid")
	}
	id, err := uuid.Parse(taskID.String())
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to import git project: invalid task uuid: %w", err)
	}
	return id, nil
}
