package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("order-service", &buf, "debug")

	log.Error("invoice_failed", "Failed to issue invoice", "req-1", errors.New("boom"), map[string]interface{}{
		"order_number": "ORD_20261015_ABC123",
	})

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "order-service", line["service"])
	assert.Equal(t, "invoice_failed", line["action"])
	assert.Equal(t, "req-1", line["request_id"])

	details := line["details"].(map[string]interface{})
	assert.Equal(t, "ORD_20261015_ABC123", details["order_number"])
	errGroup := line["error"].(map[string]interface{})
	assert.Equal(t, "boom", errGroup["msg"])
	assert.NotEmpty(t, errGroup["stack"])
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("svc", &buf, "warn")

	log.Debug("noise", "dropped", "", nil)
	log.Info("noise", "dropped", "", nil)
	assert.Zero(t, buf.Len())

	log.Warn("low_stock", "kept", "", nil)
	assert.NotZero(t, buf.Len())
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	assert.Equal(t, "abc", RequestID(ctx))
	assert.Equal(t, "", RequestID(context.Background()))
	assert.NotEqual(t, GenerateRequestID(), GenerateRequestID())
}
