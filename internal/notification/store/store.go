// Package store は通知とデバイストークンの永続化を担当する。
//
// SQLite（modernc.org/sqlite）をsqlx経由で扱う。保存された通知が正であり、
// リアルタイム配信やキャッシュは保存成功後にのみ行われる。
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/MyPicDay/piku-back-sub000/internal/notification/model"
	"github.com/MyPicDay/piku-back-sub000/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// ErrNotFound は対象の行が存在しないことを表す。
var ErrNotFound = errors.New("通知が見つかりません")

const (
	// DefaultPageSize はページサイズ未指定時の件数。
	DefaultPageSize = 20
	// MaxPageSize はページサイズの上限。
	MaxPageSize = 100
)

// Store は通知DBへのアクセスを提供する。
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open はSQLiteデータベースを開き、マイグレーションを適用する。
// pathに":memory:"を指定した場合は接続を1本に制限する。
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s の設定に失敗: %w", pragma, err)
		}
	}

	if _, err := migration.Run(ctx, db, migrations, "migrations", logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping はデータベースへの疎通を確認する。
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Create は通知を保存する。IDとCreatedAtが空の場合は採番して埋める。
func (s *Store) Create(ctx context.Context, n *model.Notification) error {
	if !n.Type.Valid() {
		return fmt.Errorf("%w: %q", model.ErrInvalidType, n.Type)
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	n.IsRead = false

	const query = `
		INSERT INTO notifications (
			id, receiver_id, type, message, url, related_id, thumbnail_url, is_read, created_at
		) VALUES (
			:id, :receiver_id, :type, :message, :url, :related_id, :thumbnail_url, :is_read, :created_at
		)`
	if _, err := s.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("通知の保存に失敗: %w", err)
	}
	return nil
}

// List は受信者の通知を新しい順にページ単位で返す。pageは0始まり。
func (s *Store) List(ctx context.Context, receiverID string, page, size int) ([]model.Notification, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	notifications := []model.Notification{}
	const query = `
		SELECT id, receiver_id, type, message, url, related_id, thumbnail_url, is_read, created_at
		FROM notifications
		WHERE receiver_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`
	if err := s.db.SelectContext(ctx, &notifications, query, receiverID, size, page*size); err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return notifications, nil
}

// ListUnread は受信者の未読通知を新しい順に返す。
func (s *Store) ListUnread(ctx context.Context, receiverID string) ([]model.Notification, error) {
	notifications := []model.Notification{}
	const query = `
		SELECT id, receiver_id, type, message, url, related_id, thumbnail_url, is_read, created_at
		FROM notifications
		WHERE receiver_id = ? AND is_read = 0
		ORDER BY created_at DESC, rowid DESC`
	if err := s.db.SelectContext(ctx, &notifications, query, receiverID); err != nil {
		return nil, fmt.Errorf("未読通知一覧の取得に失敗: %w", err)
	}
	return notifications, nil
}

// CountUnread は受信者の未読通知数を返す。
func (s *Store) CountUnread(ctx context.Context, receiverID string) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM notifications WHERE receiver_id = ? AND is_read = 0", receiverID); err != nil {
		return 0, fmt.Errorf("未読通知数の取得に失敗: %w", err)
	}
	return count, nil
}

// GetByID はIDで通知を取得する。存在しない場合はErrNotFoundを返す。
func (s *Store) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	var n model.Notification
	const query = `
		SELECT id, receiver_id, type, message, url, related_id, thumbnail_url, is_read, created_at
		FROM notifications
		WHERE id = ?`
	if err := s.db.GetContext(ctx, &n, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("通知の取得に失敗: %w", err)
	}
	return &n, nil
}

// MarkAsRead は通知を既読にする。既に既読の場合も成功とする。
func (s *Store) MarkAsRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE notifications SET is_read = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("通知の既読処理に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllAsRead は受信者の未読通知をすべて既読にし、更新件数を返す。
func (s *Store) MarkAllAsRead(ctx context.Context, receiverID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE receiver_id = ? AND is_read = 0", receiverID)
	if err != nil {
		return 0, fmt.Errorf("全通知の既読処理に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗: %w", err)
	}
	return n, nil
}
