package notification

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MyPicDay/piku-back-sub000/pkg/middleware"
)

// tokenRequest はデバイストークン登録・削除リクエストのJSON構造。
type tokenRequest struct {
	// Token はFCMの登録トークン。
	Token string `json:"token" binding:"required"`
}

// handleRegisterToken は認証済みユーザーのデバイストークンを登録するハンドラ。
func (s *Server) handleRegisterToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.store.SaveDeviceToken(c.Request.Context(), userID, req.Token); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "デバイストークンの登録に失敗しました"})
			s.logger.Error("デバイストークン登録エラー", zap.String("user_id", userID), zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "デバイストークンを登録しました"})
	}
}

// handleDeleteToken は認証済みユーザーのデバイストークンを削除するハンドラ。
func (s *Server) handleDeleteToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req tokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		if err := s.store.DeleteDeviceToken(c.Request.Context(), userID, req.Token); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "デバイストークンの削除に失敗しました"})
			s.logger.Error("デバイストークン削除エラー", zap.String("user_id", userID), zap.Error(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "デバイストークンを削除しました"})
	}
}
