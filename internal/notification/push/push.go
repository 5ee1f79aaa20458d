// Package push はリアルタイム配信できなかった通知をFCMで端末に届ける。
package push

import (
	"context"
	"fmt"
	"sync"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/MyPicDay/piku-back-sub000/internal/notification/model"
)

// Sender はFCMへの一括送信を行う。*messaging.Clientが満たす。
type Sender interface {
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

// TokenStore はユーザーのデバイストークンを管理する。
type TokenStore interface {
	DeviceTokens(ctx context.Context, userID string) ([]string, error)
	DeleteDeviceTokens(ctx context.Context, tokens []string) error
}

// NewFirebaseSender はサービスアカウントの認証情報からFCMクライアントを生成する。
func NewFirebaseSender(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("Firebaseアプリの初期化に失敗: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("FCMクライアントの生成に失敗: %w", err)
	}
	return client, nil
}

// deliverTimeout は1件の通知の送信にかける時間の上限。
const deliverTimeout = 10 * time.Second

// Service は通知をキューに積み、バックグラウンドでFCMへ送信する。
// 送信はレート制限され、FCMが登録解除済みと判定したトークンは削除する。
type Service struct {
	sender  Sender
	tokens  TokenStore
	limiter *rate.Limiter
	logger  *zap.Logger

	// isUnregistered は無効なトークンによる失敗かどうかを判定する。
	isUnregistered func(error) bool

	mu     sync.Mutex
	queue  chan model.Notification
	closed bool
	wg     sync.WaitGroup
}

// NewService は新しいServiceを生成する。ratePerSecondは1秒あたりの最大送信バッチ数。
func NewService(sender Sender, tokens TokenStore, ratePerSecond float64, queueSize int, logger *zap.Logger) *Service {
	burst := int(ratePerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Service{
		sender:         sender,
		tokens:         tokens,
		limiter:        rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		logger:         logger,
		isUnregistered: messaging.IsUnregistered,
		queue:          make(chan model.Notification, queueSize),
	}
}

// Enqueue は通知を送信キューに積む。キューが一杯か停止済みの場合はfalseを返す。
func (s *Service) Enqueue(n model.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.queue <- n:
		return true
	default:
		return false
	}
}

// Start はキューを処理するゴルーチンを起動する。
// ワーカーはStopでキューが閉じられるまで動き続け、ctxの終了後も残りを送り切る。
func (s *Service) Start(ctx context.Context) {
	// 停止シグナルで送信途中の通知を捨てないよう、送信にはキャンセルを伝えない
	base := context.WithoutCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("FCM送信ワーカーを開始します")

		for n := range s.queue {
			sendCtx, cancel := context.WithTimeout(base, deliverTimeout)
			if err := s.deliver(sendCtx, n); err != nil {
				s.logger.Warn("FCM送信に失敗しました",
					zap.String("receiver_id", n.ReceiverID),
					zap.String("notification_id", n.ID),
					zap.Error(err),
				)
			}
			cancel()
		}
		s.logger.Info("FCM送信ワーカーを停止しました")
	}()
}

// Stop は新しい通知の受け付けを止め、キューに残った通知を送り終えるまで待つ。
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// deliver は通知を受信者の全デバイスへ送信する。
func (s *Service) deliver(ctx context.Context, n model.Notification) error {
	tokens, err := s.tokens.DeviceTokens(ctx, n.ReceiverID)
	if err != nil {
		return fmt.Errorf("デバイストークンの取得に失敗: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("送信レートの待機に失敗: %w", err)
	}

	messages := make([]*messaging.Message, 0, len(tokens))
	for _, token := range tokens {
		messages = append(messages, newMessage(token, n))
	}

	resp, err := s.sender.SendEach(ctx, messages)
	if err != nil {
		return fmt.Errorf("FCMへの送信に失敗: %w", err)
	}

	var invalid []string
	for i, r := range resp.Responses {
		if r.Error == nil {
			continue
		}
		if s.isUnregistered(r.Error) {
			invalid = append(invalid, tokens[i])
			continue
		}
		s.logger.Warn("端末への送信に失敗しました", zap.String("receiver_id", n.ReceiverID), zap.Error(r.Error))
	}
	if len(invalid) > 0 {
		if err := s.tokens.DeleteDeviceTokens(ctx, invalid); err != nil {
			return fmt.Errorf("無効なトークンの削除に失敗: %w", err)
		}
		s.logger.Info("無効なデバイストークンを削除しました", zap.Int("count", len(invalid)))
	}

	s.logger.Debug("FCM送信が完了しました",
		zap.String("notification_id", n.ID),
		zap.Int("success", resp.SuccessCount),
		zap.Int("failure", resp.FailureCount),
	)
	return nil
}

// titles は通知種類ごとのプッシュ通知タイトル。
var titles = map[model.Type]string{
	model.TypeFriend:  "友達",
	model.TypeComment: "コメント",
}

// newMessage は1端末向けのFCMメッセージを組み立てる。
func newMessage(token string, n model.Notification) *messaging.Message {
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title:    titles[n.Type],
			Body:     n.Message,
			ImageURL: n.ThumbnailURL,
		},
		Data: map[string]string{
			"notificationId": n.ID,
			"type":           string(n.Type),
			"url":            n.URL,
			"relatedId":      n.RelatedID,
		},
		Android: &messaging.AndroidConfig{Priority: "high"},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
		},
	}
}
