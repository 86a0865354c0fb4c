package logger

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		err  bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{" error ", ErrorLevel, false},
		{"fatal", FatalLevel, false},
		{"verbose", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlogLogger_JSON(t *testing.T) {
	t.Setenv("ENV", "")
	var buf bytes.Buffer
	l := NewSlogWithOutput(InfoLevel, false, &buf)

	l.Debug("hidden")
	l.With("component", "link").Info("frame sent", "cmd", "SET")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "frame sent", rec["msg"])
	assert.Equal(t, "link", rec["component"])
	assert.Equal(t, "SET", rec["cmd"])
	assert.Contains(t, rec, "ts")

	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, l.Level())
	l.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestZapLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewZap(WarnLevel, "json", &buf)

	l.Info("hidden")
	l.With("addr", "RELAY 1").Warn("not confirmed", "attempts", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"addr":"RELAY 1"`)
	assert.Contains(t, out, `"attempts":3`)

	assert.Equal(t, WarnLevel, l.Level())
	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, l.Level())
}

func TestZapFrom(t *testing.T) {
	var buf bytes.Buffer
	host := zap.New(zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(&buf),
		zapcore.InfoLevel,
	)).With(zap.String("app", "host"))

	l := NewZapFrom(host)
	assert.Equal(t, InfoLevel, l.Level())

	l.Debug("hidden")
	l.Info("relay set", "addr", "RELAY 1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"app":"host"`)
	assert.Contains(t, out, `"addr":"RELAY 1"`)

	buf.Reset()
	l.SetLevel(WarnLevel)
	l.Info("quiet")
	assert.Empty(t, buf.String())
}

func TestRotatingWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "micros.log")
	w := NewRotatingWriter(RotateConfig{Filename: path, MaxSizeMB: 1})
	defer w.Close()

	l := NewZap(InfoLevel, "json", w)
	l.Info("hello")

	assert.FileExists(t, path)
}

func TestMockLogger(t *testing.T) {
	m := NewMockLogger()
	m.On("Info", "hello", []any{"k", 1}).Return()

	m.Info("hello", "k", 1)

	m.AssertExpectations(t)
}
