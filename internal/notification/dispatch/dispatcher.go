// Package dispatch は通知の保存とリアルタイム配信を行う。
//
// Sendは通知を保存した後、再送用キャッシュへ1回だけ書き込み、受信者の
// 生存中の全接続へ配信する。1つの接続への配信失敗は他の接続や呼び出し元に
// 影響しない。どの接続にも届かなかった場合はオフライン通知に回す。
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MyPicDay/piku-back-sub000/internal/notification/model"
	"github.com/MyPicDay/piku-back-sub000/internal/notification/realtime"
	"github.com/MyPicDay/piku-back-sub000/pkg/event"
)

var (
	// ErrReceiverNotFound は通知先のユーザーが存在しないことを表す。
	ErrReceiverNotFound = errors.New("通知先のユーザーが見つかりません")
	// ErrInvalidMessage は送信内容が不足していることを表す。
	ErrInvalidMessage = errors.New("通知の内容が不正です")
)

// Message は送信する通知の内容。
type Message struct {
	// ReceiverID は通知先のユーザーID。
	ReceiverID string
	// Type は通知の種類。
	Type model.Type
	// Content は表示用のメッセージ。
	Content string
	// URL は通知タップ時の遷移先。
	URL string
	// RelatedID は関連エンティティのID。
	RelatedID string
	// ThumbnailURL は通知に添える画像のURL。
	ThumbnailURL string
}

// Result は送信結果。
type Result struct {
	// Notification は保存した通知。
	Notification model.Notification
	// EventID は配信とキャッシュに使ったイベントID。
	EventID realtime.ID
	// Delivered は配信できた接続数。
	Delivered int
	// Failed は配信に失敗し登録解除した接続数。
	Failed int
}

// NotificationStore は通知の保存先。
type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
}

// ReceiverLookup は通知先ユーザーの存在を確認する。
type ReceiverLookup interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// Pusher はリアルタイム配信できなかった通知をオフライン端末へ送る。
type Pusher interface {
	Enqueue(n model.Notification) bool
}

// Publisher は送信済みイベントを記録する。
type Publisher interface {
	Publish(ctx context.Context, e *event.Event) error
}

// Dispatcher は通知の保存と配信を行う。
type Dispatcher struct {
	store     NotificationStore
	registry  *realtime.Registry
	cache     realtime.EventCache
	sequencer *realtime.Sequencer
	logger    *zap.Logger

	lookup    ReceiverLookup
	pusher    Pusher
	publisher Publisher
}

// Option はDispatcherの任意の連携先を設定する。
type Option func(*Dispatcher)

// WithReceiverLookup は通知先ユーザーの存在確認を有効にする。
func WithReceiverLookup(l ReceiverLookup) Option {
	return func(d *Dispatcher) { d.lookup = l }
}

// WithPusher はオフライン通知を有効にする。
func WithPusher(p Pusher) Option {
	return func(d *Dispatcher) { d.pusher = p }
}

// WithPublisher はNotificationSentイベントの記録を有効にする。
func WithPublisher(p Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// New は新しいDispatcherを生成する。
func New(store NotificationStore, registry *realtime.Registry, cache realtime.EventCache, sequencer *realtime.Sequencer, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		registry:  registry,
		cache:     cache,
		sequencer: sequencer,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send は通知を保存し、受信者の全接続へ配信する。
//
// 保存に失敗した場合はエラーを返し、配信もキャッシュも行わない。
// 保存後の処理（キャッシュ、配信、オフライン通知、イベント記録）の失敗は
// ログに残すだけで、保存済みの通知は取り消さない。
func (d *Dispatcher) Send(ctx context.Context, msg Message) (*Result, error) {
	if err := d.validate(ctx, msg); err != nil {
		return nil, err
	}

	n := model.Notification{
		ReceiverID:   msg.ReceiverID,
		Type:         msg.Type,
		Message:      msg.Content,
		URL:          msg.URL,
		RelatedID:    msg.RelatedID,
		ThumbnailURL: msg.ThumbnailURL,
	}
	if err := d.store.Create(ctx, &n); err != nil {
		return nil, fmt.Errorf("通知の保存に失敗: %w", err)
	}

	result := &Result{Notification: n, EventID: d.sequencer.Next(n.ReceiverID)}
	logger := d.logger.With(
		zap.String("receiver_id", n.ReceiverID),
		zap.String("notification_id", n.ID),
		zap.Stringer("event_id", result.EventID),
	)

	// 接続が無くても再接続時に再送できるようキャッシュする
	if err := d.cache.Put(ctx, result.EventID, n); err != nil {
		logger.Warn("イベントのキャッシュに失敗しました", zap.Error(err))
	}

	ev := realtime.NotificationEvent(result.EventID, n)
	for key, e := range d.registry.FindAllForUser(n.ReceiverID) {
		if err := e.Send(ev); err != nil {
			d.registry.Remove(key)
			e.Fail(err)
			result.Failed++
			logger.Warn("接続への配信に失敗したため登録を解除しました", zap.Stringer("key", key), zap.Error(err))
			continue
		}
		result.Delivered++
	}

	if result.Delivered == 0 && d.pusher != nil {
		if !d.pusher.Enqueue(n) {
			logger.Warn("オフライン通知のキューが一杯のため破棄しました")
		}
	}

	d.publish(ctx, logger, result)

	logger.Info("通知を送信しました",
		zap.String("type", string(n.Type)),
		zap.Int("delivered", result.Delivered),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// validate は送信内容と通知先ユーザーを検証する。
func (d *Dispatcher) validate(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.ReceiverID) == "" {
		return fmt.Errorf("%w: 通知先が空です", ErrInvalidMessage)
	}
	if strings.TrimSpace(msg.Content) == "" {
		return fmt.Errorf("%w: メッセージが空です", ErrInvalidMessage)
	}
	if !msg.Type.Valid() {
		return fmt.Errorf("%w: %q", model.ErrInvalidType, msg.Type)
	}
	if d.lookup == nil {
		return nil
	}

	exists, err := d.lookup.Exists(ctx, msg.ReceiverID)
	if err != nil {
		return fmt.Errorf("通知先ユーザーの確認に失敗: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrReceiverNotFound, msg.ReceiverID)
	}
	return nil
}

// publish はNotificationSentイベントを記録する。失敗しても通知自体は成功として扱う。
func (d *Dispatcher) publish(ctx context.Context, logger *zap.Logger, result *Result) {
	if d.publisher == nil {
		return
	}

	n := result.Notification
	e, err := event.New("notification-"+n.ID, event.AggregateTypeNotification, event.TypeNotificationSent, 1, event.NotificationSentData{
		NotificationID:   n.ID,
		ReceiverID:       n.ReceiverID,
		NotificationType: string(n.Type),
		Message:          n.Message,
		StreamEventID:    result.EventID.String(),
		Delivered:        result.Delivered,
	})
	if err != nil {
		logger.Warn("NotificationSentイベントの生成に失敗しました", zap.Error(err))
		return
	}
	if err := d.publisher.Publish(ctx, e); err != nil {
		logger.Warn("NotificationSentイベントの送信に失敗しました", zap.Error(err))
	}
}
