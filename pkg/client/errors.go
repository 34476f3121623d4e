package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// APIError はバックエンドが返した非2xxレスポンス
type APIError struct {
	Status  int
	Message string
	// Fields は message 以外のトップレベルのフィールド（入力エラー等）
	Fields map[string]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsNotFound は err が404の APIError かを判定します
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// decodeAPIError はレスポンスボディからエラーを組み立てます。
// ボディの message はステータステキストより優先します
func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{
		Status:  status,
		Message: http.StatusText(status),
	}
	if apiErr.Message == "" {
		apiErr.Message = "unexpected status"
	}

	if !gjson.ValidBytes(body) {
		if text := strings.TrimSpace(string(body)); text != "" && len(text) <= 512 {
			apiErr.Message = text
		}
		return apiErr
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return apiErr
	}

	if msg := parsed.Get("message"); msg.Exists() && msg.String() != "" {
		apiErr.Message = msg.String()
	}

	parsed.ForEach(func(key, value gjson.Result) bool {
		if key.String() == "message" {
			return true
		}
		if apiErr.Fields == nil {
			apiErr.Fields = make(map[string]string)
		}
		apiErr.Fields[key.String()] = value.String()
		return true
	})
	return apiErr
}
