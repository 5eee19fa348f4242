package account

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/primal-host/consorcio/internal/database"
)

// VerificationTTL is how long an email verification code stays valid.
const VerificationTTL = 30 * time.Minute

var (
	ErrInvalidCode     = errors.New("account: invalid verification code")
	ErrCodeExpired     = errors.New("account: verification code expired")
	ErrAlreadyVerified = errors.New("account: email already verified")
	ErrResendTooSoon   = errors.New("account: current verification code is still valid")
)

// Notifier delivers verification codes.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, email, firstName, code string, expiresAt time.Time) error
}

type verification struct {
	UserID     string
	Code       string
	ExpiresAt  time.Time
	IsVerified bool
}

// Verifier checks and reissues the codes stored in
// public.email_verifications.
type Verifier struct {
	db       database.Querier
	users    *Store
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

func NewVerifier(db database.Querier, users *Store, notifier Notifier, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{db: db, users: users, notifier: notifier, log: logger, now: time.Now}
}

const verificationSelect = `SELECT user_id, code, expires_at, is_verified FROM email_verifications`

func scanVerification(row pgx.Row) (*verification, error) {
	var rec verification
	if err := row.Scan(&rec.UserID, &rec.Code, &rec.ExpiresAt, &rec.IsVerified); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Verify marks the email verified when code matches its latest unexpired
// code, and returns the user.
func (v *Verifier) Verify(ctx context.Context, email, code string) (*User, error) {
	email = normalizeEmail(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return nil, fmt.Errorf("%w: email and code are required", ErrInvalid)
	}

	rec, err := scanVerification(v.db.QueryRow(ctx,
		verificationSelect+` WHERE email = $1 AND code = $2 ORDER BY created_at DESC LIMIT 1`,
		email, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, fmt.Errorf("account: read verification for %q: %w", email, err)
	}
	if rec.IsVerified {
		return nil, ErrAlreadyVerified
	}
	if v.now().After(rec.ExpiresAt) {
		return nil, ErrCodeExpired
	}

	if _, err := v.db.Exec(ctx,
		`UPDATE email_verifications SET is_verified = TRUE WHERE user_id = $1 AND code = $2`,
		rec.UserID, code); err != nil {
		return nil, fmt.Errorf("account: mark %q verified: %w", email, err)
	}
	v.log.Info("email verified", zap.String("user_id", rec.UserID))
	return v.users.GetByID(ctx, rec.UserID)
}

// Resend issues a new code once the previous one has expired. sent is
// false when the code was stored but the email could not be dispatched.
func (v *Verifier) Resend(ctx context.Context, email string) (sent bool, err error) {
	u, err := v.users.GetByEmail(ctx, email)
	if err != nil {
		return false, err
	}

	now := v.now()
	last, err := scanVerification(v.db.QueryRow(ctx,
		verificationSelect+` WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, u.ID))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("account: read verification for %q: %w", u.Email, err)
	case last.IsVerified:
		return false, ErrAlreadyVerified
	case now.Before(last.ExpiresAt):
		wait := int(math.Ceil(last.ExpiresAt.Sub(now).Minutes()))
		return false, fmt.Errorf("%w: try again in %d minutes", ErrResendTooSoon, wait)
	}

	code, err := GenerateVerificationCode()
	if err != nil {
		return false, err
	}
	expires := now.Add(VerificationTTL)
	if _, err := v.db.Exec(ctx,
		`INSERT INTO email_verifications (user_id, email, code, expires_at) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Email, code, expires); err != nil {
		return false, fmt.Errorf("account: store verification code: %w", err)
	}

	if v.notifier == nil {
		return false, nil
	}
	if err := v.notifier.SendVerificationEmail(ctx, u.Email, u.FirstName, code, expires); err != nil {
		v.log.Warn("verification email not sent", zap.String("email", u.Email), zap.Error(err))
		return false, nil
	}
	return true, nil
}
