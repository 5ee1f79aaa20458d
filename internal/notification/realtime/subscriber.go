package realtime

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout は1接続を開いておく時間の既定値。
	DefaultTimeout = time.Hour
	// DefaultHeartbeat はハートビート間隔の既定値。
	DefaultHeartbeat = 30 * time.Second
)

// SubscriberConfig はSubscriberの設定。
type SubscriberConfig struct {
	// Timeout は1接続を開いておく最大時間。
	Timeout time.Duration
	// Heartbeat はハートビートの送信間隔。0で送らない。
	Heartbeat time.Duration
	// Retry はハンドシェイクでクライアントに伝える再接続間隔。
	Retry time.Duration
}

// Subscriber はSSE購読の開始から終了までを管理する。
type Subscriber struct {
	registry  *Registry
	cache     EventCache
	sequencer *Sequencer
	cfg       SubscriberConfig
	logger    *zap.Logger
}

// NewSubscriber は新しいSubscriberを生成する。Timeoutが0以下の場合は既定値を使う。
func NewSubscriber(registry *Registry, cache EventCache, sequencer *Sequencer, cfg SubscriberConfig, logger *zap.Logger) *Subscriber {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Subscriber{
		registry:  registry,
		cache:     cache,
		sequencer: sequencer,
		cfg:       cfg,
		logger:    logger,
	}
}

// Subscribe はuserIDの接続を登録し、ハンドシェイクと再送を行ってACTIVEにする。
//
// 登録直後からDispatcherの配信対象になり、ACTIVEになるまでのライブイベントは
// Emitterに保留される。ハンドシェイクや再送の書き込みに失敗した場合は
// Emitterを失敗で終了させ、そのEmitterとエラーを返す。
func (s *Subscriber) Subscribe(ctx context.Context, userID, lastEventID string, w io.Writer, flush func()) (*Emitter, error) {
	key := s.sequencer.Next(userID)
	e := s.registry.Save(key, NewEmitter(key, w, flush))
	e.OnTerminate(func() { s.registry.Remove(key) })

	logger := s.logger.With(zap.String("user_id", userID), zap.Stringer("key", key))

	if err := e.Handshake(s.cfg.Retry); err != nil {
		e.Fail(err)
		return e, fmt.Errorf("ハンドシェイクに失敗: %w", err)
	}

	if lastEventID != "" {
		events, err := s.cache.FindAllSince(ctx, userID, lastEventID)
		if err != nil {
			// キャッシュが読めなくても接続は続ける
			logger.Warn("再送イベントの取得に失敗しました", zap.String("last_event_id", lastEventID), zap.Error(err))
		}
		if err := e.Replay(events); err != nil {
			e.Fail(err)
			return e, fmt.Errorf("イベントの再送に失敗: %w", err)
		}
		if len(events) > 0 {
			logger.Info("未受信のイベントを再送しました", zap.Int("count", len(events)))
		}
	}

	if err := e.Activate(); err != nil {
		e.Fail(err)
		return e, fmt.Errorf("接続の開始に失敗: %w", err)
	}
	logger.Info("SSE接続を開始しました")
	return e, nil
}

// Serve はEmitterが終了するまでブロックし、終了時の状態を返す。
// ctxの終了（クライアント切断）でCOMPLETED、Timeout経過でTIMED_OUTになる。
// ハートビートの書き込みに失敗した場合はEmitterを失敗で終了させる。
func (s *Subscriber) Serve(ctx context.Context, e *Emitter) State {
	timer := time.NewTimer(s.cfg.Timeout)
	defer timer.Stop()

	var heartbeat <-chan time.Time
	if s.cfg.Heartbeat > 0 {
		ticker := time.NewTicker(s.cfg.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case <-e.Done():
			return s.finished(e)
		case <-ctx.Done():
			e.Complete()
			return s.finished(e)
		case <-timer.C:
			e.TimeOut()
			return s.finished(e)
		case <-heartbeat:
			if err := e.Send(Event{Name: EventHeartbeat, Data: "ping"}); err != nil {
				e.Fail(err)
				return s.finished(e)
			}
		}
	}
}

// finished は終了した接続をログに記録して状態を返す。
func (s *Subscriber) finished(e *Emitter) State {
	state := e.State()
	fields := []zap.Field{
		zap.String("user_id", e.Key().UserID),
		zap.Stringer("key", e.Key()),
		zap.Stringer("state", state),
	}
	if err := e.Err(); err != nil {
		fields = append(fields, zap.Error(err))
	}
	s.logger.Info("SSE接続を終了しました", fields...)
	return state
}
