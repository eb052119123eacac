package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/betterorg/betterorg/pkg/observability"
)

const (
	otpKeyPrefix        = "otp:"
	otpAttemptKeyPrefix = "otp_attempts:"
	otpCodeDigits       = 6
)

var (
	// ErrCodeInvalid means the submitted code does not match or none was sent
	ErrCodeInvalid = errors.New("invalid or expired code")
	// ErrTooManyAttempts means the attempt cap for this code was reached
	ErrTooManyAttempts = errors.New("too many verification attempts")
	// ErrDeliveryFailed means the code could not be handed to the sender
	ErrDeliveryFailed = errors.New("code delivery failed")
)

// Sender delivers a one-time code to an email address
type Sender interface {
	Send(ctx context.Context, email, code string) error
}

// LogSender logs codes instead of delivering them. Development only.
type LogSender struct {
	Logger *observability.Logger
}

func (s *LogSender) Send(ctx context.Context, email, code string) error {
	s.Logger.WithField("email", email).WithField("code", code).Info("one-time code (log sender)")
	return nil
}

// OTPService issues and verifies one-time codes backed by Redis.
// Codes expire after the configured TTL and allow a bounded number of
// verification attempts; sending a new code resets both.
type OTPService struct {
	redis       *redis.Client
	sender      Sender
	ttl         time.Duration
	maxAttempts int
}

// NewOTPService creates a new OTP service
func NewOTPService(rdb *redis.Client, sender Sender, ttl time.Duration, maxAttempts int) *OTPService {
	return &OTPService{
		redis:       rdb,
		sender:      sender,
		ttl:         ttl,
		maxAttempts: maxAttempts,
	}
}

// Send generates a fresh code for the email and hands it to the sender.
// A failed delivery leaves no usable code behind.
func (s *OTPService) Send(ctx context.Context, email string) error {
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, otpKeyPrefix+email, code, s.ttl)
	pipe.Del(ctx, otpAttemptKeyPrefix+email)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store code: %w", err)
	}

	if err := s.sender.Send(ctx, email, code); err != nil {
		s.redis.Del(ctx, otpKeyPrefix+email)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	return nil
}

// Verify checks a submitted code. On success the code is consumed; it
// cannot be replayed. Each failure counts toward the attempt cap, and
// hitting the cap invalidates the code.
func (s *OTPService) Verify(ctx context.Context, email, code string) error {
	stored, err := s.redis.Get(ctx, otpKeyPrefix+email).Result()
	if err == redis.Nil {
		return ErrCodeInvalid
	}
	if err != nil {
		return fmt.Errorf("failed to load code: %w", err)
	}

	attempts, err := s.redis.Incr(ctx, otpAttemptKeyPrefix+email).Result()
	if err != nil {
		return fmt.Errorf("failed to count attempt: %w", err)
	}
	if attempts == 1 {
		s.redis.Expire(ctx, otpAttemptKeyPrefix+email, s.ttl)
	}
	if attempts > int64(s.maxAttempts) {
		s.redis.Del(ctx, otpKeyPrefix+email, otpAttemptKeyPrefix+email)
		return ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return ErrCodeInvalid
	}

	if err := s.redis.Del(ctx, otpKeyPrefix+email, otpAttemptKeyPrefix+email).Err(); err != nil {
		return fmt.Errorf("failed to consume code: %w", err)
	}

	return nil
}

// generateCode produces a zero-padded numeric code using crypto/rand
func generateCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpCodeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpCodeDigits, n), nil
}
