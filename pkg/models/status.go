package models

import (
	"fmt"
	"strings"
)

// Status はポーリング対象エンティティのステータスを表します
type Status string

const (
	StatusDraft   Status = "DRAFT"
	StatusPending Status = "PENDING"
	StatusStarted Status = "STARTED"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
	StatusAborted Status = "ABORTED"
	StatusPaused  Status = "PAUSED"

	// セッション用
	StatusLaunching Status = "LAUNCHING"
	StatusRunning   Status = "RUNNING"
	StatusStopping  Status = "STOPPING"
	StatusStopped   Status = "STOPPED"
)

var knownStatuses = map[Status]struct{}{
	StatusDraft:     {},
	StatusPending:   {},
	StatusStarted:   {},
	StatusSuccess:   {},
	StatusFailure:   {},
	StatusAborted:   {},
	StatusPaused:    {},
	StatusLaunching: {},
	StatusRunning:   {},
	StatusStopping:  {},
	StatusStopped:   {},
}

// ParseStatus は文字列をステータスに変換します（大文字小文字は区別しない）
func ParseStatus(s string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := knownStatuses[status]; !ok {
		return "", fmt.Errorf("unknown status: %q", s)
	}
	return status, nil
}

// IsActive は遷移中（短い間隔でポーリングすべき）ステータスかどうかを返します
func (s Status) IsActive() bool {
	switch s {
	case StatusPending, StatusStarted, StatusLaunching, StatusStopping:
		return true
	default:
		return false
	}
}

// IsTerminal はこれ以上遷移しないステータスかどうかを返します
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusAborted, StatusStopped:
		return true
	default:
		return false
	}
}

// AnyActive は statuses に遷移中のものが1つでも含まれるかを返します
func AnyActive(statuses []Status) bool {
	for _, s := range statuses {
		if s.IsActive() {
			return true
		}
	}
	return false
}
