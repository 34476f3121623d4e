package notify

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jinford/pipewatch/internal/platform/clock"
	"github.com/jinford/pipewatch/pkg/models"
)

const timeLayout = "2006-01-02 15:04:05"

// Transition はエンティティのステータス変化を表します
type Transition struct {
	ID   string
	From models.Status
	To   models.Status
	At   time.Time
}

// Settled は実行中から実行中でない状態に変わったかどうかを返します
func (t Transition) Settled() bool {
	return t.From.IsActive() && !t.To.IsActive()
}

func (t Transition) String() string {
	return fmt.Sprintf("[%s] %s: %s -> %s", t.At.Format(timeLayout), t.ID, t.From, t.To)
}

// Tracker は前回観測したステータスを覚えておき、変化を検出します
type Tracker struct {
	mu    sync.Mutex
	clock clock.Clock
	last  map[string]models.Status
}

// NewTracker は新しい Tracker を作成します
func NewTracker(c clock.Clock) *Tracker {
	if c == nil {
		c = clock.Real()
	}
	return &Tracker{
		clock: c,
		last:  make(map[string]models.Status),
	}
}

// Observe は items のステータスを記録し、前回から変わったものを返します。
// 初めて見るエンティティは記録するだけで変化として扱わない
func Observe[T models.Entity](tr *Tracker, items []T) []Transition {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	now := tr.clock.Now()
	var transitions []Transition
	for _, item := range items {
		id := item.EntityUUID()
		status := item.EntityStatus()
		prev, seen := tr.last[id]
		tr.last[id] = status
		if seen && prev != status {
			transitions = append(transitions, Transition{ID: id, From: prev, To: status, At: now})
		}
	}

	sort.Slice(transitions, func(i, j int) bool { return transitions[i].ID < transitions[j].ID })
	return transitions
}

// Notifier はステータス変化を通知するインターフェースです
type Notifier interface {
	Notify(transitions []Transition) error
}

// WriterNotifier は io.Writer に1行ずつ通知します
type WriterNotifier struct {
	w io.Writer
}

// NewWriterNotifier は新しいWriterNotifierを作成します
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (n *WriterNotifier) Notify(transitions []Transition) error {
	if len(transitions) == 0 {
		return nil
	}
	if _, err := io.WriteString(n.w, format(transitions)); err != nil {
		return fmt.Errorf("通知の出力に失敗: %w", err)
	}
	return nil
}

// FileNotifier はファイルに追記で通知します
type FileNotifier struct {
	FilePath string
}

// NewFileNotifier は新しいFileNotifierを作成します
func NewFileNotifier(filePath string) *FileNotifier {
	return &FileNotifier{FilePath: filePath}
}

// Notify はファイルにステータス変化を追記します
func (n *FileNotifier) Notify(transitions []Transition) error {
	if len(transitions) == 0 {
		return nil
	}

	f, err := os.OpenFile(n.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("ファイルを開けませんでした: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(format(transitions)); err != nil {
		return fmt.Errorf("ファイルへの書き込みに失敗: %w", err)
	}
	return nil
}

// MultiNotifier は複数のNotifierに通知するNotifierです
type MultiNotifier struct {
	Notifiers []Notifier
}

// NewMultiNotifier は新しいMultiNotifierを作成します
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{Notifiers: notifiers}
}

// Notify はすべてのNotifierに通知します。失敗したものがあっても残りには通知する
func (n *MultiNotifier) Notify(transitions []Transition) error {
	var errs []error
	for _, notifier := range n.Notifiers {
		if err := notifier.Notify(transitions); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("一部の通知に失敗しました: %w", errors.Join(errs...))
	}
	return nil
}

func format(transitions []Transition) string {
	var sb strings.Builder
	for _, t := range transitions {
		sb.WriteString(t.String())
		if t.Settled() {
			sb.WriteString(" (完了)")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
