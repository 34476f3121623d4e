package notify

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/pipewatch/internal/platform/clock"
	"github.com/jinford/pipewatch/pkg/models"
)

type testEntity struct {
	ID     string
	Status models.Status
}

func (e testEntity) EntityUUID() string          { return e.ID }
func (e testEntity) EntityStatus() models.Status { return e.Status }

// MockNotifier はテスト用のNotifierです
type MockNotifier struct {
	NotifyFunc func(transitions []Transition) error
}

func (m *MockNotifier) Notify(transitions []Transition) error {
	if m.NotifyFunc != nil {
		return m.NotifyFunc(transitions)
	}
	return nil
}

func TestObserve(t *testing.T) {
	fake := clock.Fake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	tr := NewTracker(fake)

	// 初回は記録のみ
	got := Observe(tr, []testEntity{{ID: "a", Status: models.StatusPending}, {ID: "b", Status: models.StatusStarted}})
	assert.Empty(t, got)

	fake.Advance(5 * time.Second)
	got = Observe(tr, []testEntity{
		{ID: "b", Status: models.StatusSuccess},
		{ID: "a", Status: models.StatusStarted},
		{ID: "c", Status: models.StatusPending},
	})
	require.Len(t, got, 2)

	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, models.StatusPending, got[0].From)
	assert.Equal(t, models.StatusStarted, got[0].To)
	assert.False(t, got[0].Settled())

	assert.Equal(t, "b", got[1].ID)
	assert.True(t, got[1].Settled())
	assert.Equal(t, fake.Now(), got[1].At)

	// 変化がなければ何も返さない
	got = Observe(tr, []testEntity{{ID: "b", Status: models.StatusSuccess}})
	assert.Empty(t, got)
}

func TestWriterNotifier_Notify(t *testing.T) {
	var buf bytes.Buffer
	notifier := NewWriterNotifier(&buf)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	err := notifier.Notify([]Transition{
		{ID: "job-1", From: models.StatusStarted, To: models.StatusFailure, At: at},
	})
	require.NoError(t, err)

	assert.Equal(t, "[2025-06-01 12:00:00] job-1: STARTED -> FAILURE (完了)\n", buf.String())
}

func TestWriterNotifier_NotifyEmpty(t *testing.T) {
	var buf bytes.Buffer
	notifier := NewWriterNotifier(&buf)

	err := notifier.Notify(nil)
	assert.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestFileNotifier_Notify(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "transitions.log")

	notifier := NewFileNotifier(filePath)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, notifier.Notify([]Transition{{ID: "build-1", From: models.StatusPending, To: models.StatusStarted, At: at}}))
	require.NoError(t, notifier.Notify([]Transition{{ID: "build-1", From: models.StatusStarted, To: models.StatusSuccess, At: at}}))

	// 追記されていることを確認
	content, err := os.ReadFile(filePath)
	require.NoError(t, err)

	contentStr := string(content)
	assert.Contains(t, contentStr, "build-1: PENDING -> STARTED\n")
	assert.Contains(t, contentStr, "build-1: STARTED -> SUCCESS (完了)\n")
}

func TestFileNotifier_InvalidPath(t *testing.T) {
	notifier := NewFileNotifier(filepath.Join(t.TempDir(), "missing", "transitions.log"))

	err := notifier.Notify([]Transition{{ID: "x", From: models.StatusPending, To: models.StatusStarted}})
	assert.Error(t, err)
}

func TestMultiNotifier_Notify(t *testing.T) {
	var calls int
	ok := &MockNotifier{NotifyFunc: func([]Transition) error {
		calls++
		return nil
	}}
	failing := &MockNotifier{NotifyFunc: func([]Transition) error {
		calls++
		return errors.New("boom")
	}}

	notifier := NewMultiNotifier(failing, ok)
	err := notifier.Notify([]Transition{{ID: "x"}})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, 2, calls, "失敗しても残りのNotifierに通知する")
}
