package event

import (
	"encoding/json"
	"testing"
	"time"
)

// TestRoutingKey はイベント種類とルーティングキーの対応を検証する。
func TestRoutingKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		typ  Type
		want string
	}{
		{name: "CommentCreatedはcomment.created", typ: TypeCommentCreated, want: "comment.created"},
		{name: "FriendRequestedはfriend.requested", typ: TypeFriendRequested, want: "friend.requested"},
		{name: "FriendRequestAcceptedはfriend.accepted", typ: TypeFriendRequestAccepted, want: "friend.accepted"},
		{name: "NotificationSentはnotification.sent", typ: TypeNotificationSent, want: "notification.sent"},
		{name: "未知の種類は空文字列", typ: Type("Unknown"), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.typ.RoutingKey(); got != tt.want {
				t.Errorf("RoutingKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestNew はNew関数でイベントが正しく生成されることを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("CommentCreatedDataでイベントを生成できること", func(t *testing.T) {
		t.Parallel()

		data := CommentCreatedData{
			DiaryID:        "diary-5",
			CommentID:      "comment-1",
			DiaryOwnerID:   "user-a",
			AuthorID:       "user-b",
			AuthorNickname: "ビー",
		}

		before := time.Now().UTC()
		ev, err := New("diary-5", AggregateTypeDiary, TypeCommentCreated, 3, data)
		after := time.Now().UTC()
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}

		if ev.ID == "" {
			t.Error("IDが空文字列")
		}
		if ev.AggregateType != AggregateTypeDiary || ev.EventType != TypeCommentCreated || ev.Version != 3 {
			t.Errorf("ev = %+v", ev)
		}
		if ev.CreatedAt.Before(before) || ev.CreatedAt.After(after) {
			t.Errorf("CreatedAt = %v, 期待する範囲: [%v, %v]", ev.CreatedAt, before, after)
		}

		decoded, err := DecodeData[CommentCreatedData](ev)
		if err != nil {
			t.Fatalf("DecodeData()でエラーが発生: %v", err)
		}
		if *decoded != data {
			t.Errorf("decoded = %+v, want %+v", *decoded, data)
		}
	})

	t.Run("シリアライズできないデータはエラーになること", func(t *testing.T) {
		t.Parallel()

		if _, err := New("x", AggregateTypeDiary, TypeCommentCreated, 1, make(chan int)); err == nil {
			t.Fatal("チャネルのシリアライズでエラーが返されるべき")
		}
	})

	t.Run("呼び出しごとに異なるIDが生成されること", func(t *testing.T) {
		t.Parallel()

		a, _ := New("x", AggregateTypeFriendship, TypeFriendRequested, 1, FriendRequestedData{})
		b, _ := New("x", AggregateTypeFriendship, TypeFriendRequested, 1, FriendRequestedData{})
		if a.ID == b.ID {
			t.Errorf("IDが重複: %s", a.ID)
		}
	})
}

// TestParse はParse関数を検証する。
func TestParse(t *testing.T) {
	t.Parallel()

	valid, err := New("friendship-1", AggregateTypeFriendship, TypeFriendRequestAccepted, 1, FriendRequestAcceptedData{
		RequesterID: "user-a", AccepterID: "user-b", AccepterNickname: "ビー",
	})
	if err != nil {
		t.Fatalf("New()でエラーが発生: %v", err)
	}
	validBody, _ := json.Marshal(valid)

	tests := []struct {
		name    string
		body    []byte
		wantErr bool
	}{
		{name: "正しいイベントを解析できること", body: validBody},
		{name: "JSONでない場合はエラー", body: []byte("not json"), wantErr: true},
		{name: "event_typeが無い場合はエラー", body: []byte(`{"id":"1","data":{}}`), wantErr: true},
		{name: "dataが無い場合はエラー", body: []byte(`{"id":"1","event_type":"CommentCreated"}`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ev, err := Parse(tt.body)
			if tt.wantErr {
				if err == nil {
					t.Fatal("エラーが返されるべき")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse()でエラーが発生: %v", err)
			}
			if ev.EventType != TypeFriendRequestAccepted || ev.ID != valid.ID {
				t.Errorf("ev = %+v", ev)
			}
		})
	}
}

// TestDecodeDataError は型が合わない場合のDecodeDataを検証する。
func TestDecodeDataError(t *testing.T) {
	t.Parallel()

	ev := &Event{Data: json.RawMessage(`{"diary_id": 123}`)}
	if _, err := DecodeData[CommentCreatedData](ev); err == nil {
		t.Fatal("型不一致でエラーが返されるべき")
	}
}
