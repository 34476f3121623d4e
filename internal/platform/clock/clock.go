// Package clock は時刻取得とタイマー登録を抽象化します。
// 本番コードは Real() を、テストは Fake() を注入して決定的に時間を進めます。
package clock

import "time"

// Clock は時刻操作のインターフェース
type Clock interface {
	// Now は現在時刻を返す
	Now() time.Time

	// AfterFunc は d 経過後に f を呼び出すタイマーを登録する
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer は AfterFunc で登録されたタイマー
type Timer interface {
	// Stop はタイマーを停止する。発火済み・停止済みの場合は false を返す
	Stop() bool
}

// Real は time パッケージに委譲する Clock を返します
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
