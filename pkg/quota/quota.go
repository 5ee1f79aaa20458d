// Package quota はRedisのカウンタを使ったユーザー単位の日次利用制限を提供する。
//
// カウンタキーは日付ごとに分かれ、翌日0時（設定タイムゾーン）に失効する。
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrExceeded は日次の上限を超えたことを表す。
var ErrExceeded = errors.New("日次の利用上限を超えました")

// Usage は現在の利用状況を表す。
type Usage struct {
	// Count は本日の利用回数。
	Count int64
	// Limit は1日あたりの上限。
	Limit int64
	// ResetAt はカウンタがリセットされる日時。
	ResetAt time.Time
}

// Remaining は本日の残り回数を返す。
func (u Usage) Remaining() int64 {
	if u.Count >= u.Limit {
		return 0
	}
	return u.Limit - u.Count
}

// Limiter はRedisのINCRとEXPIREATで日次カウンタを管理する。
type Limiter struct {
	// client はRedisクライアント。
	client redis.Cmdable
	// limit は1日あたりの上限。
	limit int64
	// prefix はキーの接頭辞。
	prefix string
	// loc は日付の境界を決めるタイムゾーン。
	loc *time.Location
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
}

// Option はLimiterの設定を変更する。
type Option func(*Limiter)

// WithLocation は日付の境界に使うタイムゾーンを設定する。
func WithLocation(loc *time.Location) Option {
	return func(l *Limiter) { l.loc = loc }
}

// WithClock は現在時刻の取得関数を設定する。
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithPrefix はキーの接頭辞を設定する。
func WithPrefix(prefix string) Option {
	return func(l *Limiter) { l.prefix = prefix }
}

// New は1日あたりlimit回まで許可するLimiterを生成する。
func New(client redis.Cmdable, limit int64, opts ...Option) *Limiter {
	l := &Limiter{
		client: client,
		limit:  limit,
		prefix: "piku:quota",
		loc:    time.Local,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Consume はscopeとuserIDのカウンタを1つ進める。
// 上限を超えた場合はErrExceededを返す。超過分もカウントされる。
func (l *Limiter) Consume(ctx context.Context, scope, userID string) (Usage, error) {
	now := l.now().In(l.loc)
	key := l.key(scope, userID, now)
	resetAt := nextMidnight(now)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireAt(ctx, key, resetAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return Usage{Limit: l.limit, ResetAt: resetAt}, fmt.Errorf("クォータカウンタの更新に失敗: %w", err)
	}

	usage := Usage{Count: incr.Val(), Limit: l.limit, ResetAt: resetAt}
	if usage.Count > l.limit {
		return usage, ErrExceeded
	}
	return usage, nil
}

// Peek はカウンタを進めずに現在の利用状況を返す。
func (l *Limiter) Peek(ctx context.Context, scope, userID string) (Usage, error) {
	now := l.now().In(l.loc)
	usage := Usage{Limit: l.limit, ResetAt: nextMidnight(now)}

	count, err := l.client.Get(ctx, l.key(scope, userID, now)).Int64()
	if errors.Is(err, redis.Nil) {
		return usage, nil
	}
	if err != nil {
		return usage, fmt.Errorf("クォータカウンタの取得に失敗: %w", err)
	}
	usage.Count = count
	return usage, nil
}

// key は日付を含むカウンタキーを組み立てる。
func (l *Limiter) key(scope, userID string, now time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", l.prefix, scope, userID, now.Format("20060102"))
}

// nextMidnight はtの翌日0時を返す。
func nextMidnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.Location())
}
