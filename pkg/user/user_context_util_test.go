package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentId(t *testing.T) {
	t.Run("should return id stored in context", func(t *testing.T) {
		ctx := WithId(context.Background(), "u-1")

		id, err := CurrentId(ctx)

		assert.NoError(t, err)
		assert.Equal(t, "u-1", id)
	})

	t.Run("should fail without user", func(t *testing.T) {
		_, err := CurrentId(context.Background())

		assert.ErrorIs(t, err, ErrNoUser)
	})

	t.Run("should treat empty id as missing", func(t *testing.T) {
		_, err := CurrentId(WithUser(context.Background(), User{DisplayName: "anon"}))

		assert.ErrorIs(t, err, ErrNoUser)
	})
}
