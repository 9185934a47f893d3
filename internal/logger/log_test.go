package logger

import (
	"bytes"
	stdlog "log"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

func TestInitLevels(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" INFO ", zerolog.InfoLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.WarnLevel},
		{"chatty", zerolog.WarnLevel},
	}
	for _, tt := range tests {
		l := Init(Options{Level: tt.level, Out: &bytes.Buffer{}})
		if l.GetLevel() != tt.want {
			t.Errorf("Init(%q) level = %v, want %v", tt.level, l.GetLevel(), tt.want)
		}
	}
}

func TestInitJSONOutput(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	Init(Options{Level: "info", Out: &buf})
	zlog.Info().Str("path", "mongod.log").Msg("ingest started")

	out := buf.String()
	for _, want := range []string{`"level":"info"`, `"service":"mongoslow"`, `"path":"mongod.log"`, `"message":"ingest started"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %s: %s", want, out)
		}
	}

	buf.Reset()
	zlog.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug written at info level: %s", buf.String())
	}
}

func TestInitRedirectsStdlib(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	Init(Options{Level: "debug", Out: &buf})
	stdlog.Print("from stdlib")
	if !strings.Contains(buf.String(), "from stdlib") {
		t.Errorf("stdlib log not redirected: %q", buf.String())
	}
}

func TestInitPretty(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	Init(Options{Level: "info", Pretty: true, Out: &buf})
	zlog.Warn().Msg("console line")
	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Errorf("pretty output looks like JSON: %s", out)
	}
	if !strings.Contains(out, "console line") {
		t.Errorf("missing message: %s", out)
	}
}
