// Package errors 提供帶錯誤碼的應用程式錯誤。
//
// 錯誤碼會原封不動地隨 errorMessage 事件送回客戶端，
// 因此這裡的常數是對外協議的一部分，不可隨意改名。
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeDuplicateJoin 玩家已在該房間內
	ErrCodeDuplicateJoin = "DUPLICATE_JOIN"
	// ErrCodeInvalidState 動作不符合房間當前狀態
	ErrCodeInvalidState = "INVALID_STATE"
	// ErrCodePlayerNotFound 連線不屬於任何房間
	ErrCodePlayerNotFound = "PLAYER_NOT_FOUND"
	// ErrCodeRoomNotFound 房間不存在（與刪除競爭時出現）
	ErrCodeRoomNotFound = "ROOM_NOT_FOUND"
	// ErrCodeRoomFull 房間人數已達上限
	ErrCodeRoomFull = "ROOM_FULL"
	// ErrCodeInvalidJob 未知的職業 ID
	ErrCodeInvalidJob = "INVALID_JOB"
	// ErrCodeJobTaken 職業已被其他玩家選走
	ErrCodeJobTaken = "JOB_TAKEN"
	// ErrCodeInvalidInput 載荷格式錯誤
	ErrCodeInvalidInput = "INVALID_INPUT"
)

// AppError 應用程式錯誤
//
// 所有可回報給客戶端的錯誤都帶一個穩定的 Code；
// Message 僅供顯示，客戶端應以 Code 做分支判斷。
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is（以 Code 判斷同類錯誤）
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// 預定義錯誤
var (
	// ErrDuplicateJoin 重複加入同一房間
	ErrDuplicateJoin = New(ErrCodeDuplicateJoin, "you are already in this room")

	// ErrInvalidState 動作在當前房間狀態下不合法
	ErrInvalidState = New(ErrCodeInvalidState, "action not allowed in current room state")

	// ErrPlayerNotFound 玩家不在任何房間
	ErrPlayerNotFound = New(ErrCodePlayerNotFound, "you are not in any room")

	// ErrRoomNotFound 房間不存在
	ErrRoomNotFound = New(ErrCodeRoomNotFound, "room not found")

	// ErrRoomFull 房間已滿
	ErrRoomFull = New(ErrCodeRoomFull, "room is full")

	// ErrInvalidJob 無效職業
	ErrInvalidJob = New(ErrCodeInvalidJob, "unknown job id")

	// ErrJobTaken 職業已被選走
	ErrJobTaken = New(ErrCodeJobTaken, "job already taken by another player")
)

// CodeOf 取出錯誤碼；非 AppError 一律視為內部錯誤
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "INTERNAL_ERROR"
}

// MessageOf 取出對客戶端顯示的訊息
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

// IsInvalidState 檢查是否為狀態錯誤
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsDuplicateJoin 檢查是否為重複加入錯誤
func IsDuplicateJoin(err error) bool {
	return errors.Is(err, ErrDuplicateJoin)
}
