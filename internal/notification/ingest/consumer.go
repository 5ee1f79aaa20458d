// Package ingest はRabbitMQからドメインイベントを受け取り、通知として送信する。
//
// 配信はmanual ackで扱う。解析できないメッセージや通知先が存在しない
// メッセージは再キューせずに破棄し、一時的な失敗は再キューする。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/MyPicDay/piku-back-sub000/internal/notification/dispatch"
	"github.com/MyPicDay/piku-back-sub000/internal/notification/model"
	"github.com/MyPicDay/piku-back-sub000/pkg/event"
)

// Sender は通知を送信する。*dispatch.Dispatcherが満たす。
type Sender interface {
	Send(ctx context.Context, msg dispatch.Message) (*dispatch.Result, error)
}

// Config はConsumerの設定。
type Config struct {
	URL           string
	Exchange      string
	Queue         string
	RoutingKeys   []string
	ConsumerTag   string
	PrefetchCount int
	Workers       int
}

// Validate は必須項目を検証する。
func (c Config) Validate() error {
	switch {
	case c.URL == "":
		return errors.New("rabbitmq url は必須です")
	case c.Exchange == "":
		return errors.New("rabbitmq exchange は必須です")
	case c.Queue == "":
		return errors.New("rabbitmq queue は必須です")
	case c.PrefetchCount < 1:
		return errors.New("rabbitmq prefetch_count は1以上である必要があります")
	case c.Workers < 1:
		return errors.New("rabbitmq workers は1以上である必要があります")
	}
	return nil
}

// Consumer はキューのメッセージを読み取り、ワーカーで並行に処理する。
type Consumer struct {
	cfg    Config
	sender Sender
	logger *zap.Logger

	conn    *amqp.Connection
	ch      *amqp.Channel
	deliver <-chan amqp.Delivery
	ops     chan amqp.Delivery

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// NewConsumer は新しいConsumerを生成する。接続はStartで行う。
func NewConsumer(cfg Config, sender Sender, logger *zap.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "piku-notification"
	}
	if len(cfg.RoutingKeys) == 0 {
		cfg.RoutingKeys = []string{
			event.TypeCommentCreated.RoutingKey(),
			event.TypeFriendRequested.RoutingKey(),
			event.TypeFriendRequestAccepted.RoutingKey(),
		}
	}
	return &Consumer{
		cfg:    cfg,
		sender: sender,
		logger: logger,
		ops:    make(chan amqp.Delivery, cfg.Workers),
		closed: make(chan struct{}),
	}, nil
}

// Start はRabbitMQに接続し、交換機とキューを宣言して購読を開始する。
func (c *Consumer) Start(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("RabbitMQへの接続に失敗: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("チャネルの作成に失敗: %w", err)
	}

	fail := func(format string, err error) error {
		ch.Close()
		conn.Close()
		return fmt.Errorf(format, err)
	}
	if err := ch.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		return fail("prefetchの設定に失敗: %w", err)
	}
	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("交換機の宣言に失敗: %w", err)
	}
	if _, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		return fail("キューの宣言に失敗: %w", err)
	}
	for _, key := range c.cfg.RoutingKeys {
		if err := ch.QueueBind(c.cfg.Queue, key, c.cfg.Exchange, false, nil); err != nil {
			return fail("キューのバインドに失敗: %w", err)
		}
	}
	deliveries, err := ch.Consume(c.cfg.Queue, c.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fail("購読の開始に失敗: %w", err)
	}
	c.conn, c.ch, c.deliver = conn, ch, deliveries

	c.wg.Add(1)
	go c.readLoop(ctx)
	for range c.cfg.Workers {
		c.wg.Add(1)
		go c.workerLoop(ctx)
	}
	c.logger.Info("イベントの購読を開始しました",
		zap.String("exchange", c.cfg.Exchange),
		zap.String("queue", c.cfg.Queue),
		zap.Strings("routing_keys", c.cfg.RoutingKeys),
	)
	return nil
}

// Close は購読を止め、処理中のメッセージを待ってから接続を閉じる。
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.ch != nil {
			_ = c.ch.Cancel(c.cfg.ConsumerTag, false)
		}
		c.wg.Wait()

		var errs []error
		if c.ch != nil {
			if err := c.ch.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if c.conn != nil {
			if err := c.conn.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// readLoop はブローカーからの配信をワーカーに渡す。
func (c *Consumer) readLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case d, ok := <-c.deliver:
			if !ok {
				return
			}
			select {
			case c.ops <- d:
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			}
		}
	}
}

// workerLoop は受け取った配信を1件ずつ処理する。
func (c *Consumer) workerLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case d := <-c.ops:
			c.processDelivery(ctx, d)
		}
	}
}

// processDelivery は1件のメッセージを通知に変換して送信し、ack/nackを返す。
func (c *Consumer) processDelivery(ctx context.Context, d amqp.Delivery) {
	logger := c.logger.With(zap.String("routing_key", d.RoutingKey), zap.Uint64("delivery_tag", d.DeliveryTag))

	e, err := event.Parse(d.Body)
	if err != nil {
		logger.Warn("イベントを解析できないため破棄します", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	logger = logger.With(zap.String("event_id", e.ID), zap.String("event_type", string(e.EventType)))

	msg, ok, err := Translate(e)
	if err != nil {
		logger.Warn("通知に変換できないため破棄します", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	if !ok {
		_ = d.Ack(false)
		return
	}

	if _, err := c.sender.Send(ctx, msg); err != nil {
		if permanent(err) {
			logger.Warn("通知を送信できないため破棄します", zap.Error(err))
			_ = d.Nack(false, false)
			return
		}
		logger.Error("通知の送信に失敗したため再キューします", zap.Error(err))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// permanent は再試行しても成功しないエラーかどうかを返す。
func permanent(err error) bool {
	return errors.Is(err, dispatch.ErrReceiverNotFound) ||
		errors.Is(err, dispatch.ErrInvalidMessage) ||
		errors.Is(err, model.ErrInvalidType)
}
