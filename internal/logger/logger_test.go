package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	for _, json := range []bool{false, true} {
		l, err := New(json, true)
		if err != nil {
			t.Fatalf("New(json=%v) error = %v", json, err)
		}
		if !l.Core().Enabled(zapcore.DebugLevel) {
			t.Errorf("debug level not enabled")
		}
	}

	l, err := New(false, false)
	if err != nil {
		t.Fatalf("New error = %v", err)
	}
	if l.Core().Enabled(zapcore.DebugLevel) {
		t.Errorf("debug level enabled without debug flag")
	}
}

func TestWithLLM(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)

	WithLLM(zap.New(core), " vertex ", "").Info("ranking")

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx[FieldProvider] != "vertex" {
		t.Errorf("provider = %v, want vertex", ctx[FieldProvider])
	}
	if _, ok := ctx[FieldModel]; ok {
		t.Errorf("empty model should be omitted")
	}

	if WithLLM(nil, "", "") == nil {
		t.Errorf("nil logger should fall back to a no-op logger")
	}
}

func TestTruncateForLog(t *testing.T) {
	tests := []struct {
		name  string
		input string
		limit int
		want  string
	}{
		{"short", "  hola  ", 10, "hola"},
		{"exact", "abcde", 5, "abcde"},
		{"truncated runes", "ñañañaña", 3, "ñañ..."},
		{"zero limit", "abc", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateForLog(tt.input, tt.limit); got != tt.want {
				t.Errorf("TruncateForLog() = %q, want %q", got, tt.want)
			}
		})
	}
}
