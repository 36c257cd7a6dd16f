package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogFormat(t *testing.T) {
	tests := []struct {
		in   string
		want LogFormat
	}{
		{"json", FormatJSON},
		{"console", FormatConsole},
		{"", FormatJSON},
		{"bogus", FormatJSON},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLogFormat(tt.in))
	}
}

func TestForceSetupJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	ForceSetup(Config{Level: "debug", Format: FormatJSON, Output: &buf})

	Get().Info().Str("key", "value").Msg("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "value", entry["key"])
}

func TestForceSetupLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	ForceSetup(Config{Level: "warn", Format: FormatJSON, Output: &buf})

	Get().Info().Msg("should be dropped")
	assert.Empty(t, buf.String())

	Get().Warn().Msg("should appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestForceSetupInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	ForceSetup(Config{Level: "not-a-level", Format: FormatJSON, Output: &buf})
	assert.Equal(t, zerolog.InfoLevel, Get().GetLevel())
}

func TestWithContextAndFromContext(t *testing.T) {
	var buf bytes.Buffer
	ForceSetup(Config{Level: "info", Format: FormatJSON, Output: &buf})

	child := Get().With("asin")
	ctx := WithContext(context.Background(), child)

	got := FromContext(ctx)
	got.Info().Msg("tagged")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "asin", entry["component"])
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	var buf bytes.Buffer
	ForceSetup(Config{Level: "info", Format: FormatJSON, Output: &buf})

	got := FromContext(context.Background())
	assert.NotNil(t, got)
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	ForceSetup(Config{Level: "info", Format: FormatJSON, Output: &buf})

	Get().With("convert").Info().Msg("job started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "convert", entry["component"])
}

func TestHTTPMiddlewareLogsRequest(t *testing.T) {
	var buf bytes.Buffer
	ForceSetup(Config{Level: "info", Format: FormatJSON, Output: &buf})

	handler := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req = req.WithContext(WithRequestID(req.Context(), "run-123"))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "/healthz", entry["path"])
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, "run-123", entry["request_id"])
}
