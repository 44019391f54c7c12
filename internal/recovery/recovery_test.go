package recovery

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyKey(t *testing.T) {
	at := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)

	key := IdempotencyKey("u1", at)
	_, err := uuid.Parse(key)
	require.NoError(t, err)

	assert.Equal(t, key, IdempotencyKey("u1", at.In(time.FixedZone("x", 3600))))
	assert.NotEqual(t, key, IdempotencyKey("u2", at))
	assert.NotEqual(t, key, IdempotencyKey("u1", at.Add(time.Millisecond)))
}
