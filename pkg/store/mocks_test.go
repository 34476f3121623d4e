package store

import (
	"context"
	"net/url"
	"sync/atomic"

	"github.com/jinford/pipewatch/pkg/models"
)

// testEntity はテスト用のエンティティ
type testEntity struct {
	ID      string
	Status  models.Status
	Version int
}

func (e testEntity) EntityUUID() string          { return e.ID }
func (e testEntity) EntityStatus() models.Status { return e.Status }

// MockFetcher は Fetcher のモック（テスト用）
type MockFetcher struct {
	FetchOneFunc func(ctx context.Context, id string) (testEntity, error)
	FetchAllFunc func(ctx context.Context, query url.Values) ([]testEntity, error)

	oneCalls atomic.Int32
	allCalls atomic.Int32
}

func (m *MockFetcher) FetchOne(ctx context.Context, id string) (testEntity, error) {
	m.oneCalls.Add(1)
	return m.FetchOneFunc(ctx, id)
}

func (m *MockFetcher) FetchAll(ctx context.Context, query url.Values) ([]testEntity, error) {
	m.allCalls.Add(1)
	return m.FetchAllFunc(ctx, query)
}

// gate はフェッチの開始を通知し、値が送られるまでブロックさせる
type gate[T any] struct {
	entered chan struct{}
	release chan T
}

func newGate[T any]() *gate[T] {
	return &gate[T]{entered: make(chan struct{}, 8), release: make(chan T, 1)}
}

func (g *gate[T]) wait() T {
	g.entered <- struct{}{}
	return <-g.release
}
