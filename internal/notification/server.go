package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MyPicDay/piku-back-sub000/internal/config"
	"github.com/MyPicDay/piku-back-sub000/internal/notification/dispatch"
	"github.com/MyPicDay/piku-back-sub000/internal/notification/realtime"
	"github.com/MyPicDay/piku-back-sub000/internal/notification/store"
	"github.com/MyPicDay/piku-back-sub000/pkg/middleware"
)

// quotaScopeDeviceToken はデバイストークン登録の日次上限のスコープ名。
const quotaScopeDeviceToken = "fcm_token"

// Deps はServerが利用するコンポーネント。
type Deps struct {
	Store      *store.Store
	Registry   *realtime.Registry
	Subscriber *realtime.Subscriber
	Dispatcher *dispatch.Dispatcher
	// Quota はデバイストークン登録の日次上限。nilの場合は制限しない。
	Quota  middleware.QuotaLimiter
	Logger *zap.Logger
}

// Server は通知サービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// httpServer はRunで起動するHTTPサーバー。
	httpServer *http.Server
	// streams はSSE接続だけが参照するコンテキスト。Shutdownで閉じる。
	streams context.Context
	// cancelStreams はstreamsを閉じ、開いているSSE接続を終了させる。
	cancelStreams context.CancelFunc
	// store は通知とデバイストークンの保存先。
	store *store.Store
	// registry は生存中のSSE接続。
	registry *realtime.Registry
	// subscriber はSSE購読を管理する。
	subscriber *realtime.Subscriber
	// dispatcher は通知の保存と配信を行う。
	dispatcher *dispatch.Dispatcher
	// quota はデバイストークン登録の日次上限。
	quota middleware.QuotaLimiter
	// logger は構造化ロガー。
	logger *zap.Logger
}

// NewServer は新しい通知サーバーを生成する。認証にはJWTを使う。
func NewServer(cfg config.Config, deps Deps) *Server {
	return newServer(cfg, deps, middleware.JWTAuth(cfg.Auth.JWTSecret))
}

// newServer は認証ミドルウェアを指定してサーバーを生成する。
func newServer(cfg config.Config, deps Deps, auth gin.HandlerFunc) *Server {
	router := gin.New()
	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))

	streams, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:        router,
		streams:       streams,
		cancelStreams: cancel,
		store:         deps.Store,
		registry:      deps.Registry,
		subscriber:    deps.Subscriber,
		dispatcher:    deps.Dispatcher,
		quota:         deps.Quota,
		logger:        deps.Logger,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.setupRoutes(auth)
	return s
}

// Handler はルーティング済みのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、Shutdownされるまでブロックする。
func (s *Server) Run() error {
	s.logger.Info("通知サービスを起動します", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	}
	return nil
}

// Shutdown は新規接続の受け付けを止め、処理中のリクエストの終了を待つ。
// SSE接続は終わりを持たないため、先に閉じてから待つ。
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelStreams()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(auth gin.HandlerFunc) {
	authed := s.router.Group("")
	authed.Use(auth)
	{
		// SSE購読
		authed.GET("/subscribe", s.handleSubscribe())

		notifications := authed.Group("/notifications")
		{
			notifications.GET("", s.handleList())
			notifications.GET("/unread", s.handleListUnread())
			notifications.GET("/unread/count", s.handleCountUnread())
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
		}

		fcm := authed.Group("/api/fcm")
		{
			register := []gin.HandlerFunc{s.handleRegisterToken()}
			if s.quota != nil {
				register = append([]gin.HandlerFunc{middleware.DailyQuota(s.quota, quotaScopeDeviceToken, s.logger)}, register...)
			}
			fcm.POST("", register...)
			fcm.DELETE("", s.handleDeleteToken())
		}

		// 通知送信（内部API - 他サービスから呼び出される）
		authed.POST("/internal/send", s.handleSend())
	}

	s.router.GET("/health", s.handleHealth())
}

// handleHealth はサービスの状態と生存中のSSE接続数を返すハンドラ。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if err := s.store.Ping(c.Request.Context()); err != nil {
			s.logger.Error("データベースに接続できません", zap.Error(err))
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":      status,
			"service":     "notification",
			"connections": s.registry.Len(),
		})
	}
}
