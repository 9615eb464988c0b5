// internal/model/error.go
package model

import (
	"errors"
	"fmt"
)

// アプリケーション固有のエラー
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInternalServer     = errors.New("internal server error")
	ErrOffline            = errors.New("network connection required")       // オフライン時の書き込み系操作用
	ErrDuplicate          = errors.New("content-identical item exists")     // 構造的重複エラー用
	ErrRemoteTransient    = errors.New("remote store call failed")          // リトライ対象の一時エラー
	ErrStorageUnavailable = errors.New("local storage unavailable")         // localStorage相当が使えない場合
	ErrLanguageNotFound   = errors.New("language not supported")
	ErrUnauthorized       = errors.New("authentication required")
)

// ErrorDetail はAPIエラーレスポンスに含める詳細情報
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// APIErrorResponse はAPIエラーレスポンスの構造体
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// AppError はエラーコードと表示用メッセージを持つアプリケーションエラー。
// Unwrap で上記のセンチネルエラーに辿れるようにしておく。
type AppError struct {
	Detail ErrorDetail
	Err    error
}

func NewAppError(code, message, field string, err error) *AppError {
	return &AppError{
		Detail: ErrorDetail{Code: code, Message: message, Field: field},
		Err:    err,
	}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Detail.Code, e.Detail.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Detail.Code, e.Detail.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}
