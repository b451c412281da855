package tracing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("invoice_id", "INV-1"),
		attribute.String("customer_email", "a@b.cz"),
		attribute.String("webhook_secret", "s"),
	)
	assert.Len(t, attrs, 1)
	assert.Equal(t, attribute.Key("invoice_id"), attrs[0].Key)
}

func TestClampRatio(t *testing.T) {
	assert.Equal(t, 0.1, clampRatio(0))
	assert.Equal(t, 1.0, clampRatio(4))
	assert.Equal(t, 0.5, clampRatio(0.5))
}
