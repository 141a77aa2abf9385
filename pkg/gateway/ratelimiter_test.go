package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageLimiterAllow(t *testing.T) {
	t.Run("should allow frames under the limit", func(t *testing.T) {
		limiter := NewMessageLimiter(10)

		for i := 0; i < 10; i++ {
			assert.True(t, limiter.Allow())
		}
	})

	t.Run("should reject frames over the limit", func(t *testing.T) {
		limiter := NewMessageLimiter(5)

		for i := 0; i < 5; i++ {
			limiter.Allow()
		}

		assert.False(t, limiter.Allow())
		assert.False(t, limiter.Allow())
	})

	t.Run("should not count rejected frames", func(t *testing.T) {
		limiter := NewMessageLimiter(3)

		for i := 0; i < 3; i++ {
			limiter.Allow()
		}
		limiter.Allow()
		limiter.Allow()

		assert.Equal(t, 3, limiter.Count())
	})

	t.Run("should fall back to the default limit", func(t *testing.T) {
		limiter := NewMessageLimiter(0)

		for i := 0; i < DefaultMessagesPerMinute; i++ {
			assert.True(t, limiter.Allow())
		}
		assert.False(t, limiter.Allow())
	})
}
