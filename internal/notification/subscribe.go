package notification

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MyPicDay/piku-back-sub000/pkg/middleware"
)

// headerLastEventID はEventSourceが再接続時に送るヘッダー。
const headerLastEventID = "Last-Event-ID"

// handleSubscribe はSSEストリームを開くハンドラ。
// Last-Event-IDヘッダー（またはlastEventIdクエリ）があれば、それ以降の通知を再送する。
// 接続は切断、タイムアウト、書き込み失敗のいずれかで終了する。
func (s *Server) handleSubscribe() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		lastEventID := c.GetHeader(headerLastEventID)
		if lastEventID == "" {
			lastEventID = c.Query("lastEventId")
		}

		h := c.Writer.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
		c.Writer.WriteHeaderNow()
		c.Writer.Flush()

		// クライアント切断とサーバー停止のどちらでも接続を閉じる
		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		stop := context.AfterFunc(s.streams, cancel)
		defer stop()

		e, err := s.subscriber.Subscribe(ctx, userID, lastEventID, c.Writer, c.Writer.Flush)
		if err != nil {
			// ヘッダー送信後のため、ステータスは変えずに接続を閉じる
			s.logger.Warn("SSE購読の開始に失敗しました", zap.String("user_id", userID), zap.Error(err))
			return
		}
		s.subscriber.Serve(ctx, e)
	}
}
