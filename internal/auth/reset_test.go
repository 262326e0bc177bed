package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSender records the last code it was asked to deliver.
type captureSender struct {
	email string
	code  string
	err   error
}

func (s *captureSender) SendResetCode(ctx context.Context, email, code string) error {
	s.email, s.code = email, code
	return s.err
}

func newTestReset(sender CodeSender, now *time.Time) *PasswordReset {
	p := NewPasswordReset(NewMemoryResetCodeStore(), sender, 10*time.Minute)
	p.now = func() time.Time { return *now }
	return p
}

func TestPasswordReset_IssueAndRedeem(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	sender := &captureSender{}
	p := newTestReset(sender, &now)

	require.NoError(t, p.Issue(ctx, " Driver@Example.com "))
	assert.Equal(t, "driver@example.com", sender.email)
	assert.Len(t, sender.code, 6)

	assert.ErrorIs(t, p.Redeem(ctx, "driver@example.com", "not-it"), ErrInvalidResetCode)
	require.NoError(t, p.Redeem(ctx, "DRIVER@example.com", sender.code))

	// single use
	assert.ErrorIs(t, p.Redeem(ctx, "driver@example.com", sender.code), ErrInvalidResetCode)
}

func TestPasswordReset_Expired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	sender := &captureSender{}
	p := newTestReset(sender, &now)

	require.NoError(t, p.Issue(ctx, "driver@example.com"))
	now = now.Add(10 * time.Minute)
	assert.ErrorIs(t, p.Redeem(ctx, "driver@example.com", sender.code), ErrInvalidResetCode)
}

func TestPasswordReset_ReissueReplacesCode(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	sender := &captureSender{}
	p := newTestReset(sender, &now)

	require.NoError(t, p.Issue(ctx, "driver@example.com"))
	first := sender.code
	require.NoError(t, p.Issue(ctx, "driver@example.com"))
	if first != sender.code {
		assert.ErrorIs(t, p.Redeem(ctx, "driver@example.com", first), ErrInvalidResetCode)
	}
	require.NoError(t, p.Redeem(ctx, "driver@example.com", sender.code))
}

func TestPasswordReset_SenderFailure(t *testing.T) {
	sender := &captureSender{err: errors.New("smtp down")}
	now := time.Now()
	p := newTestReset(sender, &now)

	err := p.Issue(context.Background(), "driver@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
}

func TestNewPasswordReset_DefaultTTL(t *testing.T) {
	p := NewPasswordReset(NewMemoryResetCodeStore(), LogSender{}, 0)
	assert.Equal(t, DefaultResetCodeTTL, p.ttl)
	assert.NoError(t, p.Issue(context.Background(), "driver@example.com"))
}
