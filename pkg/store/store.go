// Package store はエンティティ種別ごとのプロセス内キャッシュを提供します。
//
// キャッシュはフェッチ完了時のマージ関数と Reset 以外からは変更されません。
// マージの競合は「後から開始したリクエストが勝つ」で解決します。
// 各フェッチは開始時にシーケンス番号を取り、キーごとに最後に書き込んだ
// シーケンスより新しい場合にだけ書き込みます。完了順ではなく開始順で決まるため、
// 遅れて返ってきた古いレスポンスが新しい値を上書きすることはありません。
//
// キャンセルされた呼び出し元の結果はマージしません。同じフェッチを共有する
// 呼び出し元のうち1つでも生きていればマージされます。
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/jinford/pipewatch/internal/platform/clock"
	"github.com/jinford/pipewatch/pkg/cancelable"
	"github.com/jinford/pipewatch/pkg/memo"
	"github.com/jinford/pipewatch/pkg/models"
)

// ErrStale はリセットやスコープ変更より前に開始したフェッチの結果であることを表します。
// cancelable.IsCanceled で判定でき、呼び出し元はエラーとして扱わずに無視すること
var ErrStale = fmt.Errorf("%w: superseded by reset", cancelable.ErrCanceled)

// Fetcher はバックエンドからエンティティを取得します
type Fetcher[T models.Entity] interface {
	FetchOne(ctx context.Context, id string) (T, error)
	FetchAll(ctx context.Context, query url.Values) ([]T, error)
}

// MergeMode はコレクション取得結果のマージ方法
type MergeMode int

const (
	// MergeReplace はレスポンスに含まれないエントリを削除する
	MergeReplace MergeMode = iota
	// MergeUpsert は既存のエントリを残したまま追加・更新する
	MergeUpsert
)

func (m MergeMode) String() string {
	if m == MergeUpsert {
		return "upsert"
	}
	return "replace"
}

// Stats はストアの統計
type Stats struct {
	Fetches           int64 // 実際にバックエンドへ出したリクエスト数
	Merged            int64 // キャッシュに書き込んだエンティティ数
	Removed           int64 // Replace で削除したエンティティ数
	StaleDiscarded    int64 // 新しいリクエストに追い越されて捨てた結果の数
	CanceledDiscarded int64 // 呼び出し元のキャンセルにより捨てた結果の数
	Errors            int64
	Resets            int64
}

type entry[T any] struct {
	value T
	seq   uint64
}

type flightOne[T any] struct {
	value T
	seq   uint64
	epoch uint64
}

type flightAll[T any] struct {
	values []T
	seq    uint64
	epoch  uint64
}

// flightError は失敗したフェッチのエラーに開始時のシーケンスとエポックを持たせる
type flightError struct {
	err   error
	seq   uint64
	epoch uint64
}

func (e *flightError) Error() string { return e.err.Error() }
func (e *flightError) Unwrap() error { return e.err }

func flightFailed(err error, seq, epoch uint64) error {
	if err == nil {
		return nil
	}
	return &flightError{err: err, seq: seq, epoch: epoch}
}

// Store はUUIDをキーとするエンティティのキャッシュです
type Store[T models.Entity] struct {
	name    string
	fetcher Fetcher[T]
	logger  *slog.Logger

	one    *memo.Pending[flightOne[T]]
	all    *memo.Pending[flightAll[T]]
	window *memo.Window[flightAll[T]]

	mu      sync.RWMutex
	entries map[string]entry[T]
	// stamps はキーごとに最後に書き込み・削除したシーケンス（削除済みキーも保持する）
	stamps map[string]uint64
	seq    uint64
	epoch  uint64
	// listSeq は最後にマージしたコレクション取得のシーケンス
	listSeq uint64
	scope   string
	lastErr error
	stats   Stats

	subs *subscribers
}

// Option は Store 構築時のオプション
type Option func(*options)

type options struct {
	name        string
	logger      *slog.Logger
	window      time.Duration
	windowClock clock.Clock
}

// WithName はログに出すストア名を指定する
func WithName(name string) Option {
	return func(opts *options) {
		opts.name = name
	}
}

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithCollectionWindow はコレクション取得の成功結果を d の間使い回す
func WithCollectionWindow(d time.Duration, c clock.Clock) Option {
	return func(opts *options) {
		opts.window = d
		opts.windowClock = c
	}
}

// New は新しいStoreを作成します
func New[T models.Entity](fetcher Fetcher[T], opts ...Option) *Store[T] {
	options := options{
		name:        "entities",
		logger:      slog.Default(),
		windowClock: clock.Real(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	s := &Store[T]{
		name:    options.name,
		fetcher: fetcher,
		logger:  options.logger.With("store", options.name),
		one:     memo.NewPending[flightOne[T]](),
		all:     memo.NewPending[flightAll[T]](),
		entries: make(map[string]entry[T]),
		stamps:  make(map[string]uint64),
		subs:    newSubscribers(),
	}
	if options.window > 0 {
		s.window = memo.NewWindow[flightAll[T]](options.window, memo.WithClock(options.windowClock))
	}
	return s
}

// Name はストア名を返します
func (s *Store[T]) Name() string {
	return s.name
}

// begin はフェッチ開始時のシーケンスとエポックを払い出します
func (s *Store[T]) begin() (seq, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.stats.Fetches++
	return s.seq, s.epoch
}

func (s *Store[T]) currentEpoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// FetchOne は id のエンティティを取得してキャッシュにマージします。
// 同じ id の取得が実行中であれば合流し、リクエストは1つだけ出します。
// 失敗時はキャッシュを変更せずエラーを返します。
// 新しいリクエストに追い越されていた場合は、キャッシュ上の新しい値を返します。
// リセット前に開始したフェッチは成否に関わらず ErrStale を返します
func (s *Store[T]) FetchOne(ctx context.Context, id string) (T, error) {
	var zero T
	key := fmt.Sprintf("%d/%s", s.currentEpoch(), id)

	res, _, err := s.one.Do(ctx, key, func(ctx context.Context) (flightOne[T], error) {
		seq, epoch := s.begin()
		value, err := s.fetcher.FetchOne(ctx, id)
		return flightOne[T]{value: value, seq: seq, epoch: epoch}, flightFailed(err, seq, epoch)
	})
	if err != nil {
		if cancelable.IsCanceled(err) {
			s.discardCanceled()
			return zero, err
		}
		return s.failOne(id, err)
	}

	return s.applyOne(ctx, id, res)
}

func (s *Store[T]) applyOne(ctx context.Context, id string, res flightOne[T]) (T, error) {
	s.mu.Lock()

	// マージ直前の生存確認
	if ctx.Err() != nil {
		s.stats.CanceledDiscarded++
		s.mu.Unlock()
		var zero T
		return zero, fmt.Errorf("%w: %w", cancelable.ErrCanceled, ctx.Err())
	}

	if res.epoch != s.epoch {
		s.stats.StaleDiscarded++
		s.mu.Unlock()
		s.logger.Debug("リセット前に開始したフェッチの結果を破棄しました", "uuid", id)
		var zero T
		return zero, ErrStale
	}

	if stamp := s.stamps[id]; stamp >= res.seq {
		// stamp == seq は同じフェッチを共有する別の呼び出し元がマージ済み
		if stamp > res.seq {
			s.stats.StaleDiscarded++
			s.logger.Debug("古いフェッチの結果を破棄しました", "uuid", id, "seq", res.seq, "current", stamp)
		}
		current, ok := s.entries[id]
		s.mu.Unlock()
		if ok {
			return current.value, nil
		}
		return res.value, nil
	}

	s.entries[id] = entry[T]{value: res.value, seq: res.seq}
	s.stamps[id] = res.seq
	s.stats.Merged++
	s.lastErr = nil
	s.mu.Unlock()

	s.subs.publish(Event{Kind: EventUpdated, IDs: []string{id}, Seq: res.seq})
	return res.value, nil
}

// FetchAll は query に一致するコレクションを取得してマージします。
// 同じクエリとモードの取得が実行中であれば合流します
func (s *Store[T]) FetchAll(ctx context.Context, query url.Values, mode MergeMode) ([]T, error) {
	return s.FetchAllWith(ctx, query, mode, nil)
}

// FetchAllWith は FetchAll と同じですが、この呼び出しの結果をマージした直後、
// 変更を通知する前に applied へ結果のUUIDをレスポンス順で渡します。
// 結果が捨てられた場合は呼びません
func (s *Store[T]) FetchAllWith(ctx context.Context, query url.Values, mode MergeMode, applied func(ids []string)) ([]T, error) {
	key := fmt.Sprintf("%d/%s?%s", s.currentEpoch(), mode, query.Encode())

	fetch := func(ctx context.Context) (flightAll[T], error) {
		seq, epoch := s.begin()
		values, err := s.fetcher.FetchAll(ctx, query)
		return flightAll[T]{values: values, seq: seq, epoch: epoch}, flightFailed(err, seq, epoch)
	}

	var (
		res flightAll[T]
		err error
	)
	if s.window != nil {
		res, err = s.window.Do(ctx, key, fetch)
	} else {
		res, _, err = s.all.Do(ctx, key, fetch)
	}
	if err != nil {
		if cancelable.IsCanceled(err) {
			s.discardCanceled()
			return nil, err
		}
		return s.failAll(err)
	}

	return s.applyAll(ctx, res, mode, applied)
}

func (s *Store[T]) applyAll(ctx context.Context, res flightAll[T], mode MergeMode, applied func(ids []string)) ([]T, error) {
	s.mu.Lock()

	if ctx.Err() != nil {
		s.stats.CanceledDiscarded++
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %w", cancelable.ErrCanceled, ctx.Err())
	}

	if res.epoch != s.epoch {
		s.stats.StaleDiscarded++
		s.mu.Unlock()
		s.logger.Debug("リセット前に開始したコレクション取得の結果を破棄しました")
		return nil, ErrStale
	}

	var updated, removed []string
	seen := make(map[string]struct{}, len(res.values))
	result := make([]T, 0, len(res.values))
	ids := make([]string, 0, len(res.values))

	for _, value := range res.values {
		id := value.EntityUUID()
		seen[id] = struct{}{}

		if stamp := s.stamps[id]; stamp >= res.seq {
			if stamp > res.seq {
				s.stats.StaleDiscarded++
			}
			if current, ok := s.entries[id]; ok {
				result = append(result, current.value)
			}
			continue
		}

		s.entries[id] = entry[T]{value: value, seq: res.seq}
		s.stamps[id] = res.seq
		s.stats.Merged++
		updated = append(updated, id)
		result = append(result, value)
		ids = append(ids, id)
	}

	if mode == MergeReplace {
		for id := range s.entries {
			if _, ok := seen[id]; ok {
				continue
			}
			// より新しいリクエストが書き込んだエントリは残す
			if s.stamps[id] >= res.seq {
				continue
			}
			delete(s.entries, id)
			s.stamps[id] = res.seq
			s.stats.Removed++
			removed = append(removed, id)
		}
	}

	if res.seq > s.listSeq {
		s.listSeq = res.seq
	}
	s.lastErr = nil
	s.mu.Unlock()

	if applied != nil {
		applied(ids)
	}
	if len(updated) > 0 || len(removed) > 0 {
		sort.Strings(updated)
		sort.Strings(removed)
		s.subs.publish(Event{Kind: EventUpdated, IDs: updated, Removed: removed, Seq: res.seq})
	}
	return result, nil
}

// Upsert はアクションのレスポンス等で得たエンティティを新しいシーケンスでマージします
func (s *Store[T]) Upsert(values ...T) {
	if len(values) == 0 {
		return
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	ids := make([]string, 0, len(values))
	for _, value := range values {
		id := value.EntityUUID()
		s.entries[id] = entry[T]{value: value, seq: seq}
		s.stamps[id] = seq
		s.stats.Merged++
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Strings(ids)
	s.subs.publish(Event{Kind: EventUpdated, IDs: ids, Seq: seq})
}

// Reset はキャッシュを空にし、実行中のフェッチの結果をすべて無効にします。
// 空のストアに対しては何も通知しません
func (s *Store[T]) Reset() {
	s.mu.Lock()
	s.epoch++
	wasEmpty := len(s.entries) == 0
	s.entries = make(map[string]entry[T])
	s.stamps = make(map[string]uint64)
	s.listSeq = 0
	s.lastErr = nil
	if !wasEmpty {
		s.stats.Resets++
	}
	s.mu.Unlock()

	if s.window != nil {
		s.window.Purge()
	}

	if !wasEmpty {
		s.logger.Debug("キャッシュをリセットしました")
		s.subs.publish(Event{Kind: EventReset})
	}
}

// SetScope はスコープ（プロジェクト等）を切り替えます。変わった場合はリセットして true を返します
func (s *Store[T]) SetScope(scope string) bool {
	s.mu.Lock()
	if s.scope == scope {
		s.mu.Unlock()
		return false
	}
	previous := s.scope
	s.scope = scope
	s.mu.Unlock()

	s.logger.Info("スコープを切り替えました", "from", previous, "to", scope)
	s.Reset()
	return true
}

// Scope は現在のスコープを返します
func (s *Store[T]) Scope() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope
}

// failOne は単体取得の失敗を処理します。リセット前に開始していれば ErrStale、
// 同じキーに新しい書き込みがあればキャッシュ上の値を返し、どちらもエラーとして記録しない
func (s *Store[T]) failOne(id string, err error) (T, error) {
	var zero T
	var fe *flightError
	if !errors.As(err, &fe) {
		s.recordError(err)
		return zero, fmt.Errorf("%s: fetch %s: %w", s.name, id, err)
	}

	s.mu.Lock()
	switch {
	case fe.epoch != s.epoch:
		s.stats.StaleDiscarded++
		s.mu.Unlock()
		s.logger.Debug("リセット前に開始したフェッチの失敗を破棄しました", "uuid", id, "error", fe.err)
		return zero, ErrStale
	case s.stamps[id] > fe.seq:
		s.stats.StaleDiscarded++
		current, ok := s.entries[id]
		s.mu.Unlock()
		s.logger.Debug("追い越されたフェッチの失敗を破棄しました", "uuid", id, "error", fe.err)
		if !ok {
			return zero, ErrStale
		}
		return current.value, nil
	}
	s.mu.Unlock()

	s.recordError(fe.err)
	return zero, fmt.Errorf("%s: fetch %s: %w", s.name, id, fe.err)
}

// failAll はコレクション取得の失敗を処理します。リセット前に開始したものや、
// 後から開始したコレクション取得が既にマージされていたものはエラーとして記録しない
func (s *Store[T]) failAll(err error) ([]T, error) {
	var fe *flightError
	if !errors.As(err, &fe) {
		s.recordError(err)
		return nil, fmt.Errorf("%s: fetch collection: %w", s.name, err)
	}

	s.mu.Lock()
	if fe.epoch != s.epoch || s.listSeq > fe.seq {
		s.stats.StaleDiscarded++
		s.mu.Unlock()
		s.logger.Debug("古いコレクション取得の失敗を破棄しました", "error", fe.err)
		return nil, ErrStale
	}
	s.mu.Unlock()

	s.recordError(fe.err)
	return nil, fmt.Errorf("%s: fetch collection: %w", s.name, fe.err)
}

func (s *Store[T]) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.stats.Errors++
	s.mu.Unlock()

	s.subs.publish(Event{Kind: EventError, Err: err})
}

func (s *Store[T]) discardCanceled() {
	s.mu.Lock()
	s.stats.CanceledDiscarded++
	s.mu.Unlock()
}

// Err は直近のフェッチエラーを返します。成功したマージでクリアされます
func (s *Store[T]) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Get は id のエンティティを返します
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e.value, ok
}

// List はキャッシュ中のエンティティをUUID順で返します
func (s *Store[T]) List() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	values := make([]T, 0, len(ids))
	for _, id := range ids {
		values = append(values, s.entries[id].value)
	}
	return values
}

// Len はキャッシュ中のエンティティ数を返します
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Statuses はキャッシュ中のエンティティのステータスを返します
func (s *Store[T]) Statuses() []models.Status {
	return models.Statuses(s.List())
}

// Snapshot はキャッシュのコピーを返します
func (s *Store[T]) Snapshot() map[string]T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]T, len(s.entries))
	for id, e := range s.entries {
		snapshot[id] = e.value
	}
	return snapshot
}

// Stats は統計のスナップショットを返します
func (s *Store[T]) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Subscribe は変更通知を受け取るチャネルを登録します。
// 通知はブロックせずに送られ、チャネルが満杯の場合は捨てられます
func (s *Store[T]) Subscribe(buffer int) (<-chan Event, func()) {
	return s.subs.add(buffer)
}

// DroppedEvents は購読者ごとに捨てた通知の合計を返します
func (s *Store[T]) DroppedEvents() uint64 {
	return s.subs.dropped()
}
