package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/MyPicDay/piku-back-sub000/pkg/event"
	"github.com/MyPicDay/piku-back-sub000/pkg/httpclient"
)

// HTTPReceiverLookup はユーザーサービスに問い合わせて通知先の存在を確認する。
type HTTPReceiverLookup struct {
	client *httpclient.Client
}

// NewHTTPReceiverLookup は新しいHTTPReceiverLookupを生成する。
func NewHTTPReceiverLookup(client *httpclient.Client) *HTTPReceiverLookup {
	return &HTTPReceiverLookup{client: client}
}

// Exists はユーザーが存在すればtrueを返す。404はfalseとして扱う。
func (l *HTTPReceiverLookup) Exists(ctx context.Context, userID string) (bool, error) {
	err := l.client.GetJSON(ctx, "/api/v1/users/"+url.PathEscape(userID), nil)
	if httpclient.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ユーザーの取得に失敗: %w", err)
	}
	return true, nil
}

// EventStorePublisher はEvent Storeにイベントを追記する。
type EventStorePublisher struct {
	client *httpclient.Client
}

// NewEventStorePublisher は新しいEventStorePublisherを生成する。
func NewEventStorePublisher(client *httpclient.Client) *EventStorePublisher {
	return &EventStorePublisher{client: client}
}

// appendEventRequest はEvent Storeへのイベント追記リクエストのJSON構造。
type appendEventRequest struct {
	AggregateID   string              `json:"aggregate_id"`
	AggregateType event.AggregateType `json:"aggregate_type"`
	EventType     event.Type          `json:"event_type"`
	Data          json.RawMessage     `json:"data"`
}

// Publish はイベントを /api/v1/events に送信する。
func (p *EventStorePublisher) Publish(ctx context.Context, e *event.Event) error {
	req := appendEventRequest{
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		EventType:     e.EventType,
		Data:          e.Data,
	}
	if err := p.client.PostJSON(ctx, "/api/v1/events", req, nil); err != nil {
		return fmt.Errorf("イベントの追記に失敗: %w", err)
	}
	return nil
}
