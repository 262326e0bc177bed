package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// ErrInvalidResetCode covers unknown, mismatched and expired reset codes.
var ErrInvalidResetCode = errors.New("invalid or expired verification code")

// DefaultResetCodeTTL is how long a password reset code stays valid.
const DefaultResetCodeTTL = 15 * time.Minute

// ResetCodeStore keeps pending password reset codes keyed by normalized email.
type ResetCodeStore interface {
	// Save replaces any pending code for email.
	Save(ctx context.Context, email, code string, expiresAt time.Time) error
	// Consume reports whether code is pending for email and unexpired at now.
	// A matching code is removed whether or not it has expired.
	Consume(ctx context.Context, email, code string, now time.Time) (bool, error)
}

// CodeSender delivers a reset code to the account owner.
type CodeSender interface {
	SendResetCode(ctx context.Context, email, code string) error
}

// MemoryResetCodeStore is a process-local ResetCodeStore.
type MemoryResetCodeStore struct {
	mu    sync.Mutex
	codes map[string]pendingCode
}

type pendingCode struct {
	code      string
	expiresAt time.Time
}

// NewMemoryResetCodeStore creates an empty store.
func NewMemoryResetCodeStore() *MemoryResetCodeStore {
	return &MemoryResetCodeStore{codes: make(map[string]pendingCode)}
}

func (s *MemoryResetCodeStore) Save(ctx context.Context, email, code string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[email] = pendingCode{code: code, expiresAt: expiresAt}
	return nil
}

func (s *MemoryResetCodeStore) Consume(ctx context.Context, email, code string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.codes[email]
	if !ok || pending.code != code {
		return false, nil
	}
	delete(s.codes, email)
	return now.Before(pending.expiresAt), nil
}

// LogSender writes reset codes to the service log instead of sending mail.
type LogSender struct{}

func (LogSender) SendResetCode(ctx context.Context, email, code string) error {
	log.WithFields(log.Fields{"email": email, "code": code}).Info("Password reset code issued")
	return nil
}

// PasswordReset issues and redeems one-time reset codes.
type PasswordReset struct {
	store  ResetCodeStore
	sender CodeSender
	ttl    time.Duration
	now    func() time.Time
}

// NewPasswordReset creates a reset flow. A non-positive ttl means DefaultResetCodeTTL.
func NewPasswordReset(store ResetCodeStore, sender CodeSender, ttl time.Duration) *PasswordReset {
	if ttl <= 0 {
		ttl = DefaultResetCodeTTL
	}
	return &PasswordReset{store: store, sender: sender, ttl: ttl, now: time.Now}
}

// Issue stores a fresh six digit code for email and hands it to the sender.
func (p *PasswordReset) Issue(ctx context.Context, email string) error {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return fmt.Errorf("failed to generate reset code: %w", err)
	}
	code := fmt.Sprintf("%06d", n.Int64())

	email = NormalizeEmail(email)
	if err := p.store.Save(ctx, email, code, p.now().Add(p.ttl)); err != nil {
		return fmt.Errorf("failed to store reset code: %w", err)
	}
	if err := p.sender.SendResetCode(ctx, email, code); err != nil {
		return fmt.Errorf("failed to send reset code: %w", err)
	}
	return nil
}

// Redeem consumes the code for email. Any failure to match yields ErrInvalidResetCode.
func (p *PasswordReset) Redeem(ctx context.Context, email, code string) error {
	ok, err := p.store.Consume(ctx, NormalizeEmail(email), code, p.now())
	if err != nil {
		return fmt.Errorf("failed to check reset code: %w", err)
	}
	if !ok {
		return ErrInvalidResetCode
	}
	return nil
}
