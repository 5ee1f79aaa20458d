package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestNew はロガー生成を検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		level   string
		format  Format
		wantErr bool
		enabled zapcore.Level
	}{
		{name: "JSON形式のinfoロガーを生成できること", level: "info", format: FormatJSON, enabled: zapcore.InfoLevel},
		{name: "console形式のdebugロガーを生成できること", level: "debug", format: FormatConsole, enabled: zapcore.DebugLevel},
		{name: "大文字のレベルも受け付けること", level: "WARN", format: FormatJSON, enabled: zapcore.WarnLevel},
		{name: "形式が空の場合はJSONになること", level: "error", format: "", enabled: zapcore.ErrorLevel},
		{name: "不正なレベルはエラーになること", level: "verbose", format: FormatJSON, wantErr: true},
		{name: "不正な形式はエラーになること", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, err := New(tt.level, tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatal("エラーが返されるべき")
				}
				return
			}
			if err != nil {
				t.Fatalf("New()でエラーが発生: %v", err)
			}
			if !logger.Core().Enabled(tt.enabled) {
				t.Errorf("レベル %v が有効になっていない", tt.enabled)
			}
			if tt.enabled > zapcore.DebugLevel && logger.Core().Enabled(tt.enabled-1) {
				t.Errorf("レベル %v より下が有効になっている", tt.enabled)
			}
		})
	}
}
