// Package watch はストアをポーリングで最新に保つビューを提供します。
//
// ビューはマウント時に初回取得を行い、以降はキャッシュ中のステータスから
// 次の間隔を計算してポーラーに渡します。取得はすべて cancelable で包み、
// アンマウントやパラメータ変更で不要になった結果がストアへマージされないようにします。
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jinford/pipewatch/internal/platform/clock"
	"github.com/jinford/pipewatch/pkg/cancelable"
	"github.com/jinford/pipewatch/pkg/models"
	"github.com/jinford/pipewatch/pkg/poller"
	"github.com/jinford/pipewatch/pkg/refresh"
	"github.com/jinford/pipewatch/pkg/store"
)

// ErrNotMounted はマウント前またはアンマウント後の操作
var ErrNotMounted = errors.New("view is not mounted")

// Schedule はキャッシュ中のステータスから次のポーリング間隔を決めます
type Schedule func(statuses []models.Status, page int, now time.Time) time.Duration

// FromPolicy はステータス駆動のポリシーを Schedule にします
func FromPolicy(p refresh.Policy) Schedule {
	return func(statuses []models.Status, page int, _ time.Time) time.Duration {
		return p.NextDelay(statuses, page)
	}
}

// FromCombined はステータス駆動とスケジュール境界の組み合わせを Schedule にします
func FromCombined(c refresh.Combined) Schedule {
	return c.NextDelay
}

// Update はビューの内容が変わったときに通知されます
type Update[T models.Entity] struct {
	Kind  store.EventKind
	Items []T
	Delay time.Duration
	Err   error
}

// View は1つのストアの一部（コレクションのページ、または単体エンティティ）を表示するビュー
type View[T models.Entity] struct {
	name     string
	store    *store.Store[T]
	clock    clock.Clock
	logger   *slog.Logger
	mode     store.MergeMode
	onUpdate func(Update[T])

	poller *poller.Poller
	calls  *cancelable.Registry

	// schedMu は間隔の計算と反映をまとめて直列化する
	schedMu sync.Mutex

	mu       sync.Mutex
	schedule Schedule
	id       string
	query    url.Values
	page     int
	// members はこのビューのクエリとページで最後にマージされた結果のUUID（レスポンス順）。
	// paramsGen はパラメータ変更のたびに進め、古いパラメータの結果を members に入れない
	members     []string
	paramsGen   uint64
	mounted     bool
	unmounted   bool
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

// Option は View 構築時のオプション
type Option func(*options)

type options struct {
	name     string
	clock    clock.Clock
	logger   *slog.Logger
	schedule Schedule
	mode     store.MergeMode
	query    url.Values
	page     int
}

// WithName はログに出すビュー名を指定する
func WithName(name string) Option {
	return func(opts *options) {
		opts.name = name
	}
}

// WithClock は時刻・タイマーの取得元を差し替える
func WithClock(c clock.Clock) Option {
	return func(opts *options) {
		opts.clock = c
	}
}

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithPolicy はステータス駆動のポリシーを指定する
func WithPolicy(p refresh.Policy) Option {
	return func(opts *options) {
		opts.schedule = FromPolicy(p)
	}
}

// WithSchedule は間隔の決め方を指定する
func WithSchedule(s Schedule) Option {
	return func(opts *options) {
		opts.schedule = s
	}
}

// WithMergeMode はコレクション取得のマージ方法を指定する
func WithMergeMode(mode store.MergeMode) Option {
	return func(opts *options) {
		opts.mode = mode
	}
}

// WithQuery はコレクション取得のクエリを指定する
func WithQuery(query url.Values) Option {
	return func(opts *options) {
		opts.query = query
	}
}

// WithPage は表示するページ（0始まり）を指定する
func WithPage(page int) Option {
	return func(opts *options) {
		opts.page = page
	}
}

// NewCollection はコレクションを表示するビューを作成します
func NewCollection[T models.Entity](s *store.Store[T], onUpdate func(Update[T]), opts ...Option) *View[T] {
	return newView(s, "", onUpdate, opts...)
}

// NewSingle は id のエンティティ1件を表示するビューを作成します
func NewSingle[T models.Entity](s *store.Store[T], id string, onUpdate func(Update[T]), opts ...Option) *View[T] {
	return newView(s, id, onUpdate, opts...)
}

func newView[T models.Entity](s *store.Store[T], id string, onUpdate func(Update[T]), opts ...Option) *View[T] {
	options := options{
		name:     s.Name(),
		clock:    clock.Real(),
		logger:   slog.Default(),
		schedule: FromPolicy(refresh.DefaultPolicy()),
		mode:     store.MergeReplace,
	}
	for _, opt := range opts {
		opt(&options)
	}

	v := &View[T]{
		name:     options.name,
		store:    s,
		clock:    options.clock,
		logger:   options.logger.With("view", options.name),
		mode:     options.mode,
		onUpdate: onUpdate,
		calls:    cancelable.NewRegistry(),
		schedule: options.schedule,
		id:       id,
		query:    cloneQuery(options.query),
		page:     options.page,
	}
	v.poller = poller.New(v.tick, poller.WithClock(options.clock), poller.WithLogger(v.logger))
	return v
}

// Mount はストアの購読を始め、初回取得を開始してポーリングを有効にします。
// 初回取得の完了は待ちません
func (v *View[T]) Mount(ctx context.Context) error {
	v.mu.Lock()
	if v.mounted || v.unmounted {
		v.mu.Unlock()
		return fmt.Errorf("%s: view already mounted", v.name)
	}
	v.mounted = true
	v.ctx, v.cancel = context.WithCancel(ctx)

	events, unsubscribe := v.store.Subscribe(16)
	v.unsubscribe = unsubscribe
	v.mu.Unlock()

	go v.loop(events)

	v.logger.Debug("ビューをマウントしました")
	v.reschedule()
	v.fetch()
	return nil
}

// Unmount は実行中の取得をキャンセルし、ポーリングと購読を止めます。
// 返った後にこのビューの取得結果がストアへマージされることはありません。
// onUpdate の中から呼んでもかまいません
func (v *View[T]) Unmount() {
	v.mu.Lock()
	if !v.mounted || v.unmounted {
		v.unmounted = true
		v.mu.Unlock()
		return
	}
	v.unmounted = true
	v.mounted = false
	unsubscribe := v.unsubscribe
	cancel := v.cancel
	v.mu.Unlock()

	canceled := v.calls.Close()
	v.poller.Stop()
	cancel()
	unsubscribe()

	v.logger.Debug("ビューをアンマウントしました", "canceled_calls", canceled)
}

// Refresh は即座に取得し、完了を待ちます。アクション実行後の再取得に使います
func (v *View[T]) Refresh(ctx context.Context) error {
	call := v.fetch()
	if call == nil {
		return ErrNotMounted
	}
	if _, err := call.Wait(ctx); err != nil && !cancelable.IsCanceled(err) {
		return err
	}
	return nil
}

// SetPage は表示するページを変更します。実行中の取得は破棄して取り直します
func (v *View[T]) SetPage(page int) {
	v.mu.Lock()
	if page < 0 {
		page = 0
	}
	if v.page == page {
		v.mu.Unlock()
		return
	}
	v.page = page
	v.paramsChangedLocked()
	mounted := v.mounted
	v.mu.Unlock()

	v.paramsChanged(mounted)
}

// SetQuery はコレクション取得のクエリを変更します
func (v *View[T]) SetQuery(query url.Values) {
	v.mu.Lock()
	v.query = cloneQuery(query)
	v.paramsChangedLocked()
	mounted := v.mounted
	v.mu.Unlock()

	v.paramsChanged(mounted)
}

// SetSchedule は間隔の決め方を変更し、すぐに再計算します
func (v *View[T]) SetSchedule(s Schedule) {
	v.mu.Lock()
	v.schedule = s
	v.mu.Unlock()

	v.reschedule()
}

// paramsChangedLocked は前のパラメータの結果を表示から外す。v.mu を保持して呼ぶこと
func (v *View[T]) paramsChangedLocked() {
	v.paramsGen++
	v.members = nil
}

func (v *View[T]) paramsChanged(mounted bool) {
	if !mounted {
		return
	}
	// 古いパラメータの取得結果はもう不要
	v.calls.CancelAll()
	v.reschedule()
	v.fetch()
}

// Delay は現在のポーリング間隔を返します
func (v *View[T]) Delay() time.Duration {
	return v.poller.Delay()
}

// InFlight は実行中の取得の数を返します
func (v *View[T]) InFlight() int {
	return v.calls.Len()
}

// Items はビューに表示するエンティティを返します。
// コレクションでは、現在のクエリとページの取得結果のうちストアに残っているものを
// レスポンス順に返す。同じストアを共有する他のビューの結果は含まない
func (v *View[T]) Items() []T {
	v.mu.Lock()
	id := v.id
	members := v.members
	v.mu.Unlock()

	if id != "" {
		item, ok := v.store.Get(id)
		if !ok {
			return nil
		}
		return []T{item}
	}

	items := make([]T, 0, len(members))
	for _, member := range members {
		if item, ok := v.store.Get(member); ok {
			items = append(items, item)
		}
	}
	return items
}

// setMembers は gen のパラメータがまだ有効な場合だけ表示対象を差し替える
func (v *View[T]) setMembers(gen uint64, ids []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.paramsGen {
		return
	}
	v.members = ids
}

// tick はポーラーから呼ばれます。取得は非同期に開始するだけでブロックしません
func (v *View[T]) tick(context.Context) {
	v.fetch()
}

// fetch は現在のパラメータで取得を開始します。マウントされていなければ nil を返します
func (v *View[T]) fetch() *cancelable.Call[struct{}] {
	v.mu.Lock()
	if !v.mounted {
		v.mu.Unlock()
		return nil
	}
	ctx := v.ctx
	id := v.id
	query := pageQuery(v.query, v.page)
	gen := v.paramsGen
	v.mu.Unlock()

	return cancelable.Start(v.calls, ctx, func(ctx context.Context) (struct{}, error) {
		var err error
		if id != "" {
			_, err = v.store.FetchOne(ctx, id)
		} else {
			_, err = v.store.FetchAllWith(ctx, query, v.mode, func(ids []string) {
				v.setMembers(gen, ids)
			})
		}

		switch {
		case err == nil:
			v.reschedule()
		case cancelable.IsCanceled(err):
			v.logger.Debug("取得をキャンセルしました")
		default:
			// 次のティックで再試行する
			v.logger.Warn("取得に失敗しました", "error", err)
		}
		return struct{}{}, err
	})
}

func (v *View[T]) isMounted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mounted
}

// reschedule はキャッシュ中のステータスから次の間隔を計算してポーラーに反映します
func (v *View[T]) reschedule() time.Duration {
	v.schedMu.Lock()
	defer v.schedMu.Unlock()

	v.mu.Lock()
	schedule := v.schedule
	page := v.page
	v.mu.Unlock()

	delay := schedule(models.Statuses(v.Items()), page, v.clock.Now())
	v.poller.SetDelay(delay)
	return delay
}

func (v *View[T]) loop(events <-chan store.Event) {
	for event := range events {
		if !v.isMounted() {
			return
		}
		delay := v.reschedule()
		if v.onUpdate == nil {
			continue
		}
		v.onUpdate(Update[T]{
			Kind:  event.Kind,
			Items: v.Items(),
			Delay: delay,
			Err:   event.Err,
		})
	}
}

// pageQuery はページ番号を付けたクエリを返します（APIのページは1始まり）
func pageQuery(query url.Values, page int) url.Values {
	q := cloneQuery(query)
	if page > 0 {
		if q == nil {
			q = url.Values{}
		}
		q.Set("page", strconv.Itoa(page+1))
	}
	return q
}

func cloneQuery(query url.Values) url.Values {
	if query == nil {
		return nil
	}
	clone := make(url.Values, len(query))
	for k, vs := range query {
		clone[k] = append([]string(nil), vs...)
	}
	return clone
}
