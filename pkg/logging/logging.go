// Package logging はzapベースの構造化ロガーを生成する。
//
// 全コンポーネントは *zap.Logger を受け取り、フィールド付きでログを出力する。
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format はログの出力形式を表す。
type Format string

const (
	// FormatJSON は本番向けのJSON形式。
	FormatJSON Format = "json"
	// FormatConsole は開発向けの人間が読みやすい形式。
	FormatConsole Format = "console"
)

// New は指定されたレベルと形式でロガーを生成する。
// levelには "debug", "info", "warn", "error" のいずれかを指定する。
func New(level string, format Format) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("ログレベル %q の解析に失敗: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case FormatConsole:
		cfg = zap.NewDevelopmentConfig()
	case FormatJSON, "":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("未対応のログ形式です: %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("ロガーの構築に失敗: %w", err)
	}
	return logger, nil
}
