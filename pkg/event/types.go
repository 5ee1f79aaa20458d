package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeDiary は日記エンティティを表す。
	AggregateTypeDiary AggregateType = "Diary"
	// AggregateTypeFriendship は友達関係エンティティを表す。
	AggregateTypeFriendship AggregateType = "Friendship"
	// AggregateTypeNotification は通知エンティティを表す。
	AggregateTypeNotification AggregateType = "Notification"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeCommentCreated は日記にコメントが付いたことを表す。
	TypeCommentCreated Type = "CommentCreated"
	// TypeFriendRequested は友達リクエストが送られたことを表す。
	TypeFriendRequested Type = "FriendRequested"
	// TypeFriendRequestAccepted は友達リクエストが承認され友達関係が成立したことを表す。
	TypeFriendRequestAccepted Type = "FriendRequestAccepted"
	// TypeNotificationSent は通知が送信されたことを表す。
	TypeNotificationSent Type = "NotificationSent"
)

// routingKeys はイベント種類とメッセージブローカーのルーティングキーの対応。
var routingKeys = map[Type]string{
	TypeCommentCreated:        "comment.created",
	TypeFriendRequested:       "friend.requested",
	TypeFriendRequestAccepted: "friend.accepted",
	TypeNotificationSent:      "notification.sent",
}

// RoutingKey はイベント種類に対応するルーティングキーを返す。
// 未知の種類の場合は空文字列を返す。
func (t Type) RoutingKey() string {
	return routingKeys[t]
}

// Event はサービス間で受け渡す不変のイベントレコードを表す。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// Version はAggregate内でのイベントの順序番号。
	Version int64 `json:"version"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// CommentCreatedData はCommentCreatedイベントのデータ。
type CommentCreatedData struct {
	// DiaryID はコメントが付いた日記のID。
	DiaryID string `json:"diary_id"`
	// CommentID は作成されたコメントのID。
	CommentID string `json:"comment_id"`
	// DiaryOwnerID は日記の所有者（通知先）のユーザーID。
	DiaryOwnerID string `json:"diary_owner_id"`
	// AuthorID はコメントを書いたユーザーのID。
	AuthorID string `json:"author_id"`
	// AuthorNickname はコメントを書いたユーザーの表示名。
	AuthorNickname string `json:"author_nickname"`
	// ThumbnailURL は日記の代表写真のURL。
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// FriendRequestedData はFriendRequestedイベントのデータ。
type FriendRequestedData struct {
	// RequesterID はリクエストを送ったユーザーのID。
	RequesterID string `json:"requester_id"`
	// RequesterNickname はリクエストを送ったユーザーの表示名。
	RequesterNickname string `json:"requester_nickname"`
	// ReceiverID はリクエストを受け取ったユーザー（通知先）のID。
	ReceiverID string `json:"receiver_id"`
	// AvatarURL はリクエスト送信者のアバター画像URL。
	AvatarURL string `json:"avatar_url,omitempty"`
}

// FriendRequestAcceptedData はFriendRequestAcceptedイベントのデータ。
type FriendRequestAcceptedData struct {
	// RequesterID は元のリクエスト送信者（通知先）のID。
	RequesterID string `json:"requester_id"`
	// AccepterID はリクエストを承認したユーザーのID。
	AccepterID string `json:"accepter_id"`
	// AccepterNickname は承認したユーザーの表示名。
	AccepterNickname string `json:"accepter_nickname"`
	// AvatarURL は承認したユーザーのアバター画像URL。
	AvatarURL string `json:"avatar_url,omitempty"`
}

// NotificationSentData はNotificationSentイベントのデータ。
type NotificationSentData struct {
	// NotificationID は保存された通知のID。
	NotificationID string `json:"notification_id"`
	// ReceiverID は通知先のユーザーID。
	ReceiverID string `json:"receiver_id"`
	// NotificationType は通知の種類（FRIEND, COMMENT）。
	NotificationType string `json:"notification_type"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// StreamEventID はSSEで配信したイベントID。
	StreamEventID string `json:"stream_event_id"`
	// Delivered はSSEで配信できた接続数。
	Delivered int `json:"delivered"`
}
