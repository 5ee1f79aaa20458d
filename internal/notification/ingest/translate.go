package ingest

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/MyPicDay/piku-back-sub000/internal/notification/dispatch"
	"github.com/MyPicDay/piku-back-sub000/internal/notification/model"
	"github.com/MyPicDay/piku-back-sub000/pkg/event"
)

// ErrUnsupportedEvent は通知に変換できない種類のイベントであることを表す。
var ErrUnsupportedEvent = errors.New("通知対象外のイベントです")

// Translate はドメインイベントを送信する通知に変換する。
// 通知が不要なイベント（自分の日記への自分のコメントなど）では2番目の戻り値がfalseになる。
func Translate(e *event.Event) (dispatch.Message, bool, error) {
	switch e.EventType {
	case event.TypeCommentCreated:
		data, err := event.DecodeData[event.CommentCreatedData](e)
		if err != nil {
			return dispatch.Message{}, false, err
		}
		if data.AuthorID == data.DiaryOwnerID {
			return dispatch.Message{}, false, nil
		}
		return dispatch.Message{
			ReceiverID:   data.DiaryOwnerID,
			Type:         model.TypeComment,
			Content:      fmt.Sprintf("%sさんがあなたの日記にコメントしました", data.AuthorNickname),
			URL:          "/diary/" + url.PathEscape(data.DiaryID),
			RelatedID:    data.DiaryID,
			ThumbnailURL: data.ThumbnailURL,
		}, true, nil

	case event.TypeFriendRequested:
		data, err := event.DecodeData[event.FriendRequestedData](e)
		if err != nil {
			return dispatch.Message{}, false, err
		}
		return dispatch.Message{
			ReceiverID:   data.ReceiverID,
			Type:         model.TypeFriend,
			Content:      fmt.Sprintf("%sさんから友達リクエストが届きました", data.RequesterNickname),
			URL:          "/friends/requests",
			RelatedID:    data.RequesterID,
			ThumbnailURL: data.AvatarURL,
		}, true, nil

	case event.TypeFriendRequestAccepted:
		data, err := event.DecodeData[event.FriendRequestAcceptedData](e)
		if err != nil {
			return dispatch.Message{}, false, err
		}
		return dispatch.Message{
			ReceiverID:   data.RequesterID,
			Type:         model.TypeFriend,
			Content:      fmt.Sprintf("%sさんと友達になりました", data.AccepterNickname),
			URL:          "/users/" + url.PathEscape(data.AccepterID),
			RelatedID:    data.AccepterID,
			ThumbnailURL: data.AvatarURL,
		}, true, nil
	}
	return dispatch.Message{}, false, fmt.Errorf("%w: %s", ErrUnsupportedEvent, e.EventType)
}
