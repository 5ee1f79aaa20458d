package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MyPicDay/piku-back-sub000/internal/notification/model"
)

const (
	// DefaultMaxEvents はユーザーごとに保持するイベント数の既定値。
	DefaultMaxEvents = 100
	// DefaultTTL はイベントを保持する時間の既定値。
	DefaultTTL = 30 * time.Minute
)

// CachedEvent は再送のために保持する配信済みイベント。
type CachedEvent struct {
	// ID はイベントID。
	ID ID `json:"id"`
	// Notification は配信した通知。
	Notification model.Notification `json:"notification"`
	// StoredAt はキャッシュに書き込んだ日時。
	StoredAt time.Time `json:"storedAt"`
}

// event はSSEで書き出すイベントに変換する。
func (c CachedEvent) event() Event {
	return NotificationEvent(c.ID, c.Notification)
}

// NotificationEvent は通知を運ぶSSEイベントを生成する。
func NotificationEvent(id ID, n model.Notification) Event {
	return Event{ID: id, Name: EventNotification, Data: n}
}

// EventCache は配信済みイベントを再送のために保持する。
// 件数とTTLで上限を持ち、上限を超えたものは破棄される。
type EventCache interface {
	// Put はid.UserID宛のイベントを保存する。
	Put(ctx context.Context, id ID, n model.Notification) error
	// FindAllSince はlastEventIDより後のイベントをseqの昇順で返す。
	// lastEventIDが解析できない場合や他ユーザーのIDの場合は空を返す。
	FindAllSince(ctx context.Context, userID, lastEventID string) ([]CachedEvent, error)
}

// parseLast はlastEventIDを解析し、userIDのものであればそのseqを返す。
func parseLast(userID, lastEventID string) (int64, bool) {
	last, err := ParseID(lastEventID)
	if err != nil || last.UserID != userID {
		return 0, false
	}
	return last.Seq, true
}

// MemoryCache はプロセス内メモリのEventCache。単一インスタンス構成で使う。
type MemoryCache struct {
	mu        sync.Mutex
	events    map[string][]CachedEvent
	maxEvents int
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewMemoryCache は新しいMemoryCacheを生成する。0以下の値には既定値を使う。
func NewMemoryCache(maxEvents int, ttl time.Duration, logger *zap.Logger) *MemoryCache {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		events:    make(map[string][]CachedEvent),
		maxEvents: maxEvents,
		ttl:       ttl,
		now:       time.Now,
		logger:    logger,
	}
}

// Put はイベントを保存し、上限を超えた古いイベントを破棄する。
func (c *MemoryCache) Put(_ context.Context, id ID, n model.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	events := c.evictLocked(id.UserID, now)
	entry := CachedEvent{ID: id, Notification: n, StoredAt: now}

	// 並行する配信で前後することがあるため、seq順を保って挿入する
	i := sort.Search(len(events), func(i int) bool { return events[i].ID.Seq > id.Seq })
	events = append(events, CachedEvent{})
	copy(events[i+1:], events[i:])
	events[i] = entry

	if over := len(events) - c.maxEvents; over > 0 {
		events = append([]CachedEvent(nil), events[over:]...)
	}
	c.events[id.UserID] = events
	return nil
}

// FindAllSince はlastEventIDより後の期限内イベントをseqの昇順で返す。
func (c *MemoryCache) FindAllSince(_ context.Context, userID, lastEventID string) ([]CachedEvent, error) {
	lastSeq, ok := parseLast(userID, lastEventID)
	if !ok {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	events := c.evictLocked(userID, c.now())
	i := sort.Search(len(events), func(i int) bool { return events[i].ID.Seq > lastSeq })
	if i == len(events) {
		return nil, nil
	}
	return append([]CachedEvent(nil), events[i:]...), nil
}

// Len は全ユーザー分の保持イベント数を返す。
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, events := range c.events {
		total += len(events)
	}
	return total
}

// Start はintervalごとに期限切れイベントを掃除するゴルーチンを起動する。
func (c *MemoryCache) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := c.sweep(); removed > 0 {
					c.logger.Debug("期限切れのイベントを破棄しました", zap.Int("removed", removed))
				}
			}
		}
	}()
}

// Stop は掃除ゴルーチンを停止し、終了を待つ。
func (c *MemoryCache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// sweep は全ユーザーの期限切れイベントを破棄し、破棄した件数を返す。
func (c *MemoryCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for userID, events := range c.events {
		before := len(events)
		removed += before - len(c.evictLocked(userID, now))
	}
	return removed
}

// evictLocked はユーザーの期限切れイベントを破棄し、残りを返す。c.muを保持して呼ぶこと。
func (c *MemoryCache) evictLocked(userID string, now time.Time) []CachedEvent {
	events := c.events[userID]
	cutoff := now.Add(-c.ttl)
	kept := events[:0]
	for _, ev := range events {
		if ev.StoredAt.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	if len(kept) == 0 {
		delete(c.events, userID)
		return nil
	}
	c.events[userID] = kept
	return kept
}
