package models

// Entity はサーバが所有し、クライアントがポーリングで追従するドメインオブジェクトです。
// EntityUUID はコレクション内で一意かつ不変であること
type Entity interface {
	EntityUUID() string
	EntityStatus() Status
}

// Statuses はエンティティ列のステータスを取り出します
func Statuses[T Entity](entities []T) []Status {
	statuses := make([]Status, 0, len(entities))
	for _, e := range entities {
		statuses = append(statuses, e.EntityStatus())
	}
	return statuses
}
