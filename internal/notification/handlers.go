package notification

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MyPicDay/piku-back-sub000/internal/notification/dispatch"
	"github.com/MyPicDay/piku-back-sub000/internal/notification/model"
	"github.com/MyPicDay/piku-back-sub000/internal/notification/store"
	"github.com/MyPicDay/piku-back-sub000/pkg/middleware"
)

// queryInt はクエリパラメータを0以上の整数として読む。未指定ならdefを返す。
func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s は0以上の整数で指定してください", key)
	}
	return v, nil
}

// handleList は認証済みユーザーの通知一覧を新しい順に返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		page, err := queryInt(c, "page", 0)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		size, err := queryInt(c, "size", store.DefaultPageSize)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		notifications, err := s.store.List(c.Request.Context(), userID, page, size)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			s.logger.Error("通知一覧取得エラー", zap.String("user_id", userID), zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, notifications)
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := s.store.ListUnread(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知一覧の取得に失敗しました"})
			s.logger.Error("未読通知一覧取得エラー", zap.String("user_id", userID), zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, notifications)
	}
}

// handleCountUnread は認証済みユーザーの未読通知数を返すハンドラ。
func (s *Server) handleCountUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		count, err := s.store.CountUnread(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知数の取得に失敗しました"})
			s.logger.Error("未読通知数取得エラー", zap.String("user_id", userID), zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notificationID := c.Param("id")
		ctx := c.Request.Context()

		// 通知の存在確認と所有者チェック
		n, err := s.store.GetByID(ctx, notificationID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の取得に失敗しました"})
			s.logger.Error("通知取得エラー", zap.String("notification_id", notificationID), zap.Error(err))
			return
		}
		if n.ReceiverID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
			return
		}

		if err := s.store.MarkAsRead(ctx, notificationID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			s.logger.Error("通知既読処理エラー", zap.String("notification_id", notificationID), zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		updated, err := s.store.MarkAllAsRead(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			s.logger.Error("全通知既読処理エラー", zap.String("user_id", userID), zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました", "updated": updated})
	}
}

// sendRequest は通知送信リクエストのJSON構造。
type sendRequest struct {
	// ReceiverID は通知先のユーザーID。
	ReceiverID string `json:"receiverId" binding:"required"`
	// Type は通知の種類（FRIEND, COMMENT）。
	Type string `json:"type" binding:"required"`
	// Message は通知メッセージ。
	Message string `json:"message" binding:"required"`
	// URL は通知タップ時の遷移先。
	URL string `json:"url"`
	// RelatedID は関連エンティティのID。
	RelatedID string `json:"relatedId"`
	// ThumbnailURL は通知に添える画像のURL。
	ThumbnailURL string `json:"thumbnailUrl"`
}

// handleSend は通知を保存して受信者に配信するハンドラ。
// 内部API（他サービスから呼び出される）。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		result, err := s.dispatcher.Send(c.Request.Context(), dispatch.Message{
			ReceiverID:   req.ReceiverID,
			Type:         model.Type(req.Type),
			Content:      req.Message,
			URL:          req.URL,
			RelatedID:    req.RelatedID,
			ThumbnailURL: req.ThumbnailURL,
		})
		switch {
		case errors.Is(err, dispatch.ErrReceiverNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "通知先のユーザーが見つかりません"})
			return
		case errors.Is(err, model.ErrInvalidType), errors.Is(err, dispatch.ErrInvalidMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の作成に失敗しました"})
			s.logger.Error("通知作成エラー", zap.String("receiver_id", req.ReceiverID), zap.Error(err))
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"id":        result.Notification.ID,
			"eventId":   result.EventID.String(),
			"delivered": result.Delivered,
			"message":   "通知を送信しました",
		})
	}
}
