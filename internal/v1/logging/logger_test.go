package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "***@example.com", RedactEmail("alice@example.com"))
	assert.Equal(t, "***", RedactEmail("not-an-email"))
	assert.Equal(t, "", RedactEmail(""))
	assert.Equal(t, "***", RedactEmail("@example.com"))
}

func TestAppendContextFields(t *testing.T) {
	ctx := context.WithValue(context.Background(), CorrelationIDKey, "abc-123")
	ctx = context.WithValue(ctx, UserIDKey, int64(7))
	ctx = context.WithValue(ctx, RoomIDKey, int64(9))

	fields := appendContextFields(ctx, nil)

	// correlation_id, user_id, room_id, service
	assert.Len(t, fields, 4)
}

func TestAppendContextFields_NilContext(t *testing.T) {
	fields := appendContextFields(nil, nil)
	assert.Empty(t, fields)
}

func TestGetLoggerFallback(t *testing.T) {
	assert.NotNil(t, GetLogger())
}
