package validator

import (
	"testing"
	"time"

	"social-login-service/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := New(WithClock(func() time.Time { return now }))

	valid := auth.TokenMetadata{
		AppID:     "123",
		UserID:    "fb-1",
		ExpiresAt: now.Add(time.Hour),
		IsValid:   true,
	}

	t.Run("Valid", func(t *testing.T) {
		require.NoError(t, v.Validate(valid, "123"))
	})

	t.Run("ForeignAppNotExpired", func(t *testing.T) {
		meta := valid
		meta.AppID = "999"
		err := v.Validate(meta, "123")
		assert.ErrorIs(t, err, auth.ErrInvalidAppID)
	})

	t.Run("ForeignAppWinsOverExpiry", func(t *testing.T) {
		meta := valid
		meta.AppID = "999"
		meta.ExpiresAt = now.Add(-time.Hour)
		err := v.Validate(meta, "123")
		assert.ErrorIs(t, err, auth.ErrInvalidAppID)
		assert.NotErrorIs(t, err, auth.ErrExpired)
	})

	t.Run("ExpiredOneSecondAgo", func(t *testing.T) {
		meta := valid
		meta.ExpiresAt = now.Add(-time.Second)
		err := v.Validate(meta, "123")
		assert.ErrorIs(t, err, auth.ErrExpired)
	})

	t.Run("ExpiredAndFlaggedInvalid", func(t *testing.T) {
		meta := valid
		meta.IsValid = false
		meta.ExpiresAt = now.Add(-time.Second)
		err := v.Validate(meta, "123")
		assert.ErrorIs(t, err, auth.ErrExpired)
		assert.NotErrorIs(t, err, auth.ErrInvalidToken)
	})

	t.Run("FlaggedInvalidWithoutExpiry", func(t *testing.T) {
		meta := valid
		meta.IsValid = false
		meta.ExpiresAt = time.Time{}
		assert.ErrorIs(t, v.Validate(meta, "123"), auth.ErrInvalidToken)
	})

	t.Run("ExpiresExactlyNow", func(t *testing.T) {
		meta := valid
		meta.ExpiresAt = now
		assert.ErrorIs(t, v.Validate(meta, "123"), auth.ErrExpired)
	})

	t.Run("FlaggedInvalid", func(t *testing.T) {
		meta := valid
		meta.IsValid = false
		assert.ErrorIs(t, v.Validate(meta, "123"), auth.ErrInvalidToken)
	})

	t.Run("EmptyExpectedAppID", func(t *testing.T) {
		meta := valid
		meta.AppID = ""
		assert.ErrorIs(t, v.Validate(meta, ""), auth.ErrInvalidAppID)
	})

	t.Run("SecurityFailureClassification", func(t *testing.T) {
		meta := valid
		meta.AppID = "999"
		assert.True(t, auth.IsSecurityFailure(v.Validate(meta, "123")))
		assert.False(t, auth.IsSecurityFailure(auth.ErrProvider))
	})
}
