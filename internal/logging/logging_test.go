// =============================================================================
// 文件: internal/logging/logging_test.go
// 描述: 日志测试
// =============================================================================
package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
		ok   bool
	}{
		{"debug", zerolog.DebugLevel, true},
		{"INFO", zerolog.InfoLevel, true},
		{"", zerolog.InfoLevel, true},
		{"warn", zerolog.WarnLevel, true},
		{"error", zerolog.ErrorLevel, true},
		{"verbose", zerolog.NoLevel, false},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseLevel(%q) 错误返回不符: %v", tt.in, err)
			continue
		}
		if tt.ok && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, 期望 %v", tt.in, got, tt.want)
		}
	}
}

func TestNewFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("error", &buf)
	if err != nil {
		t.Fatal(err)
	}
	log = Component(log, "listener")

	log.Info().Msg("不应输出")
	log.Error().Uint32("conv", 7).Msg("链路断开")

	out := buf.String()
	if strings.Contains(out, "不应输出") {
		t.Error("低于级别的日志不应输出")
	}
	if !strings.Contains(out, "链路断开") || !strings.Contains(out, "component=listener") {
		t.Errorf("输出缺少内容: %q", out)
	}
}
