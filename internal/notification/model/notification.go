// Package model は通知サービスのドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidType は未知の通知種類が指定されたことを表す。
var ErrInvalidType = errors.New("不正な通知種類です")

// Type は通知の種類を表す。
type Type string

const (
	// TypeFriend は友達リクエストや承認に関する通知。
	TypeFriend Type = "FRIEND"
	// TypeComment は日記へのコメントに関する通知。
	TypeComment Type = "COMMENT"
)

// Valid は既知の通知種類かどうかを返す。
func (t Type) Valid() bool {
	switch t {
	case TypeFriend, TypeComment:
		return true
	}
	return false
}

// ParseType は文字列を通知種類に変換する。
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidType, s)
	}
	return t, nil
}

// Notification は保存済みの通知を表す。
// 作成後に変化するのはIsReadのみで、falseからtrueへの一方向にしか変わらない。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string `db:"id" json:"id"`
	// ReceiverID は通知先のユーザーID。
	ReceiverID string `db:"receiver_id" json:"receiverId"`
	// Type は通知の種類。
	Type Type `db:"type" json:"type"`
	// Message は表示用の通知メッセージ。
	Message string `db:"message" json:"message"`
	// URL は通知タップ時の遷移先。
	URL string `db:"url" json:"url"`
	// RelatedID は関連するエンティティ（日記や友達リクエスト）のID。
	RelatedID string `db:"related_id" json:"relatedId"`
	// ThumbnailURL は通知に添える画像のURL。
	ThumbnailURL string `db:"thumbnail_url" json:"thumbnailUrl"`
	// IsRead は既読状態。
	IsRead bool `db:"is_read" json:"isRead"`
	// CreatedAt は作成日時（UTC）。
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
