package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MyPicDay/piku-back-sub000/internal/notification/model"
)

// defaultRedisPrefix はイベント用ソート済みセットのキー接頭辞。
const defaultRedisPrefix = "piku:events"

// RedisCache はRedisのソート済みセットに保持するEventCache。
// 複数インスタンスで再送用のイベントを共有する。
//
// キーはユーザーごとに1つで、スコアはseq、メンバーはCachedEventのJSON。
// seqはエポックミリ秒に基づくため、スコアの範囲削除でTTLを表現できる。
// インスタンス間の並び順はホストの時計の一致に依存する（パッケージ文書を参照）。
type RedisCache struct {
	client    redis.Cmdable
	maxEvents int
	ttl       time.Duration
	prefix    string
	now       func() time.Time
}

// NewRedisCache は新しいRedisCacheを生成する。0以下の値には既定値を使う。
func NewRedisCache(client redis.Cmdable, maxEvents int, ttl time.Duration) *RedisCache {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{
		client:    client,
		maxEvents: maxEvents,
		ttl:       ttl,
		prefix:    defaultRedisPrefix,
		now:       time.Now,
	}
}

// Put はイベントを追加し、件数上限と期限切れのイベントを同じパイプラインで削除する。
func (c *RedisCache) Put(ctx context.Context, id ID, n model.Notification) error {
	now := c.now()
	member, err := json.Marshal(CachedEvent{ID: id, Notification: n, StoredAt: now.UTC()})
	if err != nil {
		return fmt.Errorf("キャッシュイベントのシリアライズに失敗: %w", err)
	}

	key := c.key(id.UserID)
	expiredBefore := strconv.FormatInt(now.Add(-c.ttl).UnixMilli(), 10)

	pipe := c.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(id.Seq), Member: member})
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-c.maxEvents-1))
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+expiredBefore)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("イベントのキャッシュに失敗: %w", err)
	}
	return nil
}

// FindAllSince はlastEventIDより後の期限内イベントをseqの昇順で返す。
func (c *RedisCache) FindAllSince(ctx context.Context, userID, lastEventID string) ([]CachedEvent, error) {
	lastSeq, ok := parseLast(userID, lastEventID)
	if !ok {
		return nil, nil
	}

	members, err := c.client.ZRangeByScore(ctx, c.key(userID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(lastSeq, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("キャッシュイベントの取得に失敗: %w", err)
	}

	cutoff := c.now().Add(-c.ttl)
	events := make([]CachedEvent, 0, len(members))
	for _, m := range members {
		var ev CachedEvent
		if err := json.Unmarshal([]byte(m), &ev); err != nil {
			return nil, fmt.Errorf("キャッシュイベントのデシリアライズに失敗: %w", err)
		}
		if !ev.StoredAt.After(cutoff) {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// key はユーザーのソート済みセットのキーを返す。
func (c *RedisCache) key(userID string) string {
	return c.prefix + ":" + userID
}
