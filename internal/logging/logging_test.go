package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func resetLoggingState() {
	mu.Lock()
	defer mu.Unlock()

	baseWriter = os.Stderr
	baseComponent = ""
	baseLogger = zerolog.New(baseWriter).With().Timestamp().Logger()
	log.Logger = baseLogger
	zerolog.TimeFieldFormat = defaultTimeFmt
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func readJSONLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()

	line := strings.TrimSpace(buf.String())
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if line == "" {
		t.Fatalf("expected log output, got empty string")
	}

	var event map[string]interface{}
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	return event
}

func TestInitJSONFormatSetsLevelAndComponent(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var buf bytes.Buffer
	logger := Init(Config{
		Format:    "json",
		Level:     "debug",
		Component: "licensectl",
		Output:    &buf,
	})

	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("expected global level debug, got %s", zerolog.GlobalLevel())
	}

	logger.Debug().Msg("hello")
	event := readJSONLine(t, &buf)
	if event["component"] != "licensectl" {
		t.Fatalf("expected component licensectl, got %v", event["component"])
	}
	if event["message"] != "hello" {
		t.Fatalf("expected message hello, got %v", event["message"])
	}
}

func TestInitConsoleFormatUsesConsoleWriter(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{Format: "console", Level: "info"})

	mu.RLock()
	defer mu.RUnlock()

	if _, ok := baseWriter.(zerolog.ConsoleWriter); !ok {
		t.Fatalf("expected console writer, got %#v", baseWriter)
	}
}

func TestInitAutoFormatWithNonTerminalWriter(t *testing.T) {
	t.Cleanup(resetLoggingState)

	var buf bytes.Buffer
	Init(Config{Format: "auto", Output: &buf})

	mu.RLock()
	defer mu.RUnlock()

	if baseWriter != &buf {
		t.Fatalf("expected base writer to be the provided buffer, got %#v", baseWriter)
	}
}

func TestNewLoggerWithComponentAndFields(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{Format: "json", Level: "info", Component: "root"})

	var buf bytes.Buffer
	logger := New("licenseapi", WithWriter(&buf), WithFields(map[string]interface{}{
		"slug": "my-plugin",
	}))
	logger.Info().Msg("processing")

	event := readJSONLine(t, &buf)
	if event["component"] != "licenseapi" {
		t.Fatalf("expected component licenseapi, got %v", event["component"])
	}
	if event["slug"] != "my-plugin" {
		t.Fatalf("expected slug field, got %v", event["slug"])
	}
	if event["level"] != "info" {
		t.Fatalf("expected level info, got %v", event["level"])
	}
}

func TestNewLoggerInheritsComponentWhenEmpty(t *testing.T) {
	t.Cleanup(resetLoggingState)

	Init(Config{Format: "json", Level: "info", Component: "core"})

	var buf bytes.Buffer
	logger := New("", WithWriter(&buf))
	logger.Warn().Msg("warn")

	event := readJSONLine(t, &buf)
	if event["component"] != "core" {
		t.Fatalf("expected inherited component core, got %v", event["component"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"DEBUG":    zerolog.DebugLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"bogus":    zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestWithRequestIDGeneratesAndPreserves(t *testing.T) {
	ctx, id := WithRequestID(context.Background(), "")
	if id == "" {
		t.Fatal("expected generated request id")
	}
	if RequestID(ctx) != id {
		t.Fatalf("RequestID = %q, want %q", RequestID(ctx), id)
	}

	ctx, id = WithRequestID(ctx, "  fixed-id ")
	if id != "fixed-id" || RequestID(ctx) != "fixed-id" {
		t.Fatalf("expected trimmed fixed id, got %q", id)
	}

	var buf bytes.Buffer
	logger := FromContext(ctx, zerolog.New(&buf))
	logger.Info().Msg("tagged")
	event := readJSONLine(t, &buf)
	if event["request_id"] != "fixed-id" {
		t.Fatalf("expected request_id field, got %v", event["request_id"])
	}
}
