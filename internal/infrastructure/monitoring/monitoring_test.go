package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/portal-gateway/internal/config"
	"github.com/turtacn/portal-gateway/pkg/constants"
	"github.com/turtacn/portal-gateway/pkg/logger"
)

func TestZapLogger_MasksSensitiveFieldsAndCarriesContext(t *testing.T) {
	var buf bytes.Buffer
	log, err := newZapLogger(&config.LogConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), constants.ContextKeyRequestID, "req-42")
	log.WithComponent("test").Info(ctx, "hello",
		logger.String("refresh_token", "abcdefghijklmnop"),
		logger.String("course", "CS101"),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, "abcd***mnop", entry["refresh_token"])
	assert.Equal(t, "CS101", entry["course"])
	assert.Contains(t, entry, "timestamp")
}

func TestZapLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := newZapLogger(&config.LogConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)

	log.Debug(context.Background(), "hidden")
	assert.Zero(t, buf.Len())

	log.SetLevel(constants.LogLevelDebug)
	assert.Equal(t, constants.LogLevelDebug, log.GetLevel())
	log.WithComponent("child").Debug(context.Background(), "visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestMetricsAdapter(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	a := NewMetricsAdapter(m)

	a.RecordRefresh("foreground", "success", 20*time.Millisecond)
	a.RecordRefresh("foreground", "success", 30*time.Millisecond)
	a.RecordAuthRetry("graphql")
	a.SetActiveSessions(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Refreshes.WithLabelValues("foreground", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthRetries.WithLabelValues("graphql")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActiveSessions))
}
