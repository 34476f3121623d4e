package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/jinford/pipewatch/pkg/models"
)

// Resource はREST APIの1つのリソース種別を表し、store.Fetcher を実装します
type Resource[T models.Entity] struct {
	client        *Client
	name          string
	collectionKey string
	locate        func(id string) (string, error)
}

// NewResource は /api/{name} 配下のリソースを作成します。
// collectionKey はコレクションレスポンスで配列を包むキー
func NewResource[T models.Entity](c *Client, name, collectionKey string) *Resource[T] {
	r := &Resource[T]{
		client:        c,
		name:          name,
		collectionKey: collectionKey,
	}
	r.locate = func(id string) (string, error) {
		if strings.TrimSpace(id) == "" {
			return "", fmt.Errorf("%s: empty id", name)
		}
		return "/api/" + name + "/" + url.PathEscape(id), nil
	}
	return r
}

// Name はリソース名を返します
func (r *Resource[T]) Name() string {
	return r.name
}

// FetchOne は GET /api/{name}/{id} でエンティティを取得します
func (r *Resource[T]) FetchOne(ctx context.Context, id string) (T, error) {
	var out T
	path, err := r.locate(id)
	if err != nil {
		return out, err
	}
	if err := r.client.getJSON(ctx, path, nil, &out); err != nil {
		return out, err
	}
	return out, nil
}

// FetchAll は GET /api/{name}?query でコレクションを取得します
func (r *Resource[T]) FetchAll(ctx context.Context, query url.Values) ([]T, error) {
	path := "/api/" + r.name
	body, err := r.client.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}
	return decodeCollection[T](body, r.collectionKey)
}

// decodeCollection は {"<key>": [...]} から配列を取り出します
func decodeCollection[T any](body []byte, key string) ([]T, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON in %s response", key)
	}
	raw := gjson.GetBytes(body, key)
	if !raw.Exists() {
		return nil, fmt.Errorf("response has no %q field", key)
	}
	if !raw.IsArray() {
		return nil, fmt.Errorf("%q field is not an array", key)
	}

	values := make([]T, 0, len(raw.Array()))
	if err := json.Unmarshal([]byte(raw.Raw), &values); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return values, nil
}

// Jobs はジョブのリソース
func Jobs(c *Client) *Resource[models.Job] {
	return NewResource[models.Job](c, "jobs", "jobs")
}

// Runs はジョブ実行（パイプラインラン）のリソース
func Runs(c *Client) *Resource[models.JobRun] {
	return NewResource[models.JobRun](c, "runs", "pipeline_runs")
}

// EnvironmentBuilds は環境イメージビルドのリソース
func EnvironmentBuilds(c *Client) *Resource[models.EnvironmentBuild] {
	return NewResource[models.EnvironmentBuild](c, "environment-builds", "environment_image_builds")
}

// Sessions はセッションのリソース。単体取得は /api/sessions/{project}/{pipeline}
func Sessions(c *Client) *Resource[models.Session] {
	r := NewResource[models.Session](c, "sessions", "sessions")
	r.locate = func(id string) (string, error) {
		projectUUID, pipelineUUID, ok := strings.Cut(id, ":")
		if !ok || projectUUID == "" || pipelineUUID == "" {
			return "", fmt.Errorf("sessions: invalid session key %q", id)
		}
		return "/api/sessions/" + url.PathEscape(projectUUID) + "/" + url.PathEscape(pipelineUUID), nil
	}
	return r
}

// Projects はプロジェクトのリソース
func Projects(c *Client) *Resource[models.Project] {
	return NewResource[models.Project](c, "projects", "projects")
}
