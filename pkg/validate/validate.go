// Package validate はリクエスト送信前のクライアント側検証を提供します。
// 検証エラーはネットワークに出る前に返します
package validate

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/google/uuid"
	giturls "github.com/whilp/git-urls"

	"github.com/jinford/pipewatch/pkg/models"
)

// MaxProjectNameLength はプロジェクト名の最大長
const MaxProjectNameLength = 255

var projectNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.\-]*$`)

// supportedGitProtocols はインポート元として受け付けるプロトコル
var supportedGitProtocols = map[string]struct{}{
	"http":  {},
	"https": {},
	"ssh":   {},
	"git":   {},
}

// FieldError は1つのフィールドに対する検証エラー
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Errors は検証エラーの一覧
type Errors []FieldError

func (e Errors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, fe := range e {
		msgs = append(msgs, fe.Error())
	}
	return strings.Join(msgs, "; ")
}

// Err はエラーがなければ nil を返します
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Field は指定フィールドの最初のエラーメッセージを返します
func (e Errors) Field(name string) (string, bool) {
	for _, fe := range e {
		if fe.Field == name {
			return fe.Message, true
		}
	}
	return "", false
}

// AsErrors は err が検証エラーであれば取り出します
func AsErrors(err error) (Errors, bool) {
	var errs Errors
	if errors.As(err, &errs) {
		return errs, true
	}
	var fe FieldError
	if errors.As(err, &fe) {
		return Errors{fe}, true
	}
	return nil, false
}

// ProjectName はプロジェクト名を検証します
func ProjectName(name string) error {
	return projectName("name", name).Err()
}

func projectName(field, name string) Errors {
	var errs Errors
	trimmed := strings.TrimSpace(name)

	switch {
	case trimmed == "":
		errs = append(errs, FieldError{Field: field, Message: "must not be empty"})
	case trimmed != name:
		errs = append(errs, FieldError{Field: field, Message: "must not have leading or trailing spaces"})
	case len(name) > MaxProjectNameLength:
		errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("must be at most %d characters", MaxProjectNameLength)})
	case !projectNamePattern.MatchString(name):
		errs = append(errs, FieldError{Field: field, Message: "may only contain letters, digits, '.', '_' and '-' and must start with a letter or digit"})
	}
	return errs
}

// UUID は識別子がUUID形式であることを検証します
func UUID(field, value string) error {
	if _, err := uuid.Parse(value); err != nil {
		return FieldError{Field: field, Message: "must be a valid UUID"}
	}
	return nil
}

// GitURL はインポート元のGit URLを検証します。ローカルパスは受け付けません
func GitURL(raw string) error {
	_, err := parseGitURL(raw)
	return err
}

// RepoName はGit URLからリポジトリ名を取り出します
func RepoName(raw string) (string, error) {
	repoPath, err := parseGitURL(raw)
	if err != nil {
		return "", err
	}
	return path.Base(repoPath), nil
}

// parseGitURL は検証済みのリポジトリパス（.git を除く）を返します
func parseGitURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", FieldError{Field: "url", Message: "must not be empty"}
	}

	endpoint, err := transport.NewEndpoint(raw)
	if err != nil {
		return "", FieldError{Field: "url", Message: "is not a valid git URL"}
	}
	if _, ok := supportedGitProtocols[endpoint.Protocol]; !ok {
		return "", FieldError{Field: "url", Message: fmt.Sprintf("protocol %q is not supported", endpoint.Protocol)}
	}

	u, err := giturls.Parse(raw)
	if err != nil {
		return "", FieldError{Field: "url", Message: "is not a valid git URL"}
	}
	if u.Hostname() == "" && u.Host == "" {
		return "", FieldError{Field: "url", Message: "must include a host"}
	}

	repoPath := strings.Trim(u.Path, "/")
	repoPath = strings.TrimSuffix(repoPath, ".git")
	if repoPath == "" || path.Base(repoPath) == "." {
		return "", FieldError{Field: "url", Message: "must include a repository path"}
	}
	return repoPath, nil
}

// GitImport はインポート要求を検証し、プロジェクト名が空ならリポジトリ名で補います
func GitImport(req models.GitImport) (models.GitImport, error) {
	var errs Errors

	req.URL = strings.TrimSpace(req.URL)
	repoName, err := RepoName(req.URL)
	if err != nil {
		var fe FieldError
		if errors.As(err, &fe) {
			errs = append(errs, fe)
		} else {
			errs = append(errs, FieldError{Field: "url", Message: err.Error()})
		}
	}

	if req.ProjectName == "" && repoName != "" {
		req.ProjectName = repoName
	}
	if req.ProjectName != "" || repoName != "" {
		errs = append(errs, projectName("project_name", req.ProjectName)...)
	}

	return req, errs.Err()
}
