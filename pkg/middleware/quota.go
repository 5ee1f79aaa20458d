package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MyPicDay/piku-back-sub000/pkg/quota"
)

// QuotaLimiter はユーザー単位の日次クォータを消費する。
type QuotaLimiter interface {
	Consume(ctx context.Context, scope, userID string) (quota.Usage, error)
}

// DailyQuota は認証済みユーザーごとにscope単位の日次クォータを課すGinミドルウェアを返す。
// JWTAuthの後に適用すること。カウンタストアの障害時はリクエストを通す。
func DailyQuota(limiter QuotaLimiter, scope string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := GetUserID(c)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		usage, err := limiter.Consume(c.Request.Context(), scope, userID)
		switch {
		case errors.Is(err, quota.ErrExceeded):
			c.Header("X-Quota-Limit", strconv.FormatInt(usage.Limit, 10))
			c.Header("X-Quota-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "本日の利用上限に達しました"})
			return
		case err != nil:
			logger.Warn("クォータの確認に失敗したため制限せずに処理します",
				zap.String("scope", scope), zap.String("user_id", userID), zap.Error(err))
		default:
			c.Header("X-Quota-Limit", strconv.FormatInt(usage.Limit, 10))
			c.Header("X-Quota-Remaining", strconv.FormatInt(usage.Remaining(), 10))
		}

		c.Next()
	}
}
