package store

import (
	"context"
	"fmt"
)

// SaveDeviceToken はユーザーのデバイストークンを登録する。
// 同じトークンが別ユーザーで登録済みの場合は所有者を付け替える。
func (s *Store) SaveDeviceToken(ctx context.Context, userID, token string) error {
	const query = `
		INSERT INTO device_tokens (token, user_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			user_id = excluded.user_id,
			updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, token, userID, s.now().UTC()); err != nil {
		return fmt.Errorf("デバイストークンの保存に失敗: %w", err)
	}
	return nil
}

// DeleteDeviceToken はユーザーが所有するデバイストークンを削除する。
func (s *Store) DeleteDeviceToken(ctx context.Context, userID, token string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM device_tokens WHERE token = ? AND user_id = ?", token, userID); err != nil {
		return fmt.Errorf("デバイストークンの削除に失敗: %w", err)
	}
	return nil
}

// DeleteDeviceTokens は所有者に関係なくトークンを削除する。
// FCMから無効と判定されたトークンの掃除に使う。
func (s *Store) DeleteDeviceTokens(ctx context.Context, tokens []string) error {
	for _, token := range tokens {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM device_tokens WHERE token = ?", token); err != nil {
			return fmt.Errorf("デバイストークンの削除に失敗: %w", err)
		}
	}
	return nil
}

// DeviceTokens はユーザーのデバイストークンを新しい順に返す。
func (s *Store) DeviceTokens(ctx context.Context, userID string) ([]string, error) {
	tokens := []string{}
	if err := s.db.SelectContext(ctx, &tokens,
		"SELECT token FROM device_tokens WHERE user_id = ? ORDER BY updated_at DESC", userID); err != nil {
		return nil, fmt.Errorf("デバイストークンの取得に失敗: %w", err)
	}
	return tokens, nil
}
