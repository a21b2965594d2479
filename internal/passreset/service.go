package passreset

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	accountdomain "storefront-auth/internal/account/domain"
	"storefront-auth/internal/audit"
	"storefront-auth/internal/ids"
	"storefront-auth/internal/passreset/domain"
	"storefront-auth/internal/passreset/repository"
	revocationdomain "storefront-auth/internal/revocation/domain"
	"storefront-auth/internal/security"
	sessiondomain "storefront-auth/internal/session/domain"
)

// Sentinel errors for the reset flow; the HTTP layer maps them to responses.
var (
	ErrResetTokenNotFound = errors.New("reset token not found")
	ErrResetTokenExpired  = errors.New("reset token expired")
	ErrResetTokenUsed     = errors.New("reset token already used")
)

// AccountStore is the minimal credential-store access the reset flow needs.
type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (*accountdomain.Account, error)
}

// SessionStore deactivates sessions after a completed reset.
type SessionStore interface {
	DeactivateAllByAccount(ctx context.Context, accountID string, channel sessiondomain.Channel) error
}

// RevocationStore denylists outstanding tokens after a completed reset.
type RevocationStore interface {
	Add(ctx context.Context, e *revocationdomain.Entry) error
}

// Service issues, validates, and consumes single-use password-reset tokens.
// Tokens are opaque "id.secret" pairs: the id locates the row, the secret is
// stored only as a SHA-256 hash.
type Service struct {
	accounts    AccountStore
	tokens      repository.Repository
	sessions    SessionStore
	revocations RevocationStore
	hasher      *security.Hasher
	sender      Sender
	auditor     audit.Recorder
	ttl         time.Duration
	log         *zap.Logger
	now         func() time.Time
}

// NewService returns a reset Service with the given collaborators.
func NewService(
	accounts AccountStore,
	tokens repository.Repository,
	sessions SessionStore,
	revocations RevocationStore,
	hasher *security.Hasher,
	sender Sender,
	auditor audit.Recorder,
	ttl time.Duration,
	log *zap.Logger,
) *Service {
	if sender == nil {
		sender = NoopSender{}
	}
	if auditor == nil {
		auditor = audit.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		accounts:    accounts,
		tokens:      tokens,
		sessions:    sessions,
		revocations: revocations,
		hasher:      hasher,
		sender:      sender,
		auditor:     auditor,
		ttl:         ttl,
		log:         log,
		now:         time.Now,
	}
}

// WithClock overrides the time source. For tests.
func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Request issues a reset token for the account behind email and mails it.
// Unknown emails return nil all the same, so the response never confirms
// whether an address is registered; the audit trail records the miss. Any
// prior token for the account is invalidated.
func (s *Service) Request(ctx context.Context, email, origin string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil
	}
	acct, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if acct == nil {
		s.auditor.Record(ctx, "", "", "reset_request_unknown", origin, email)
		return nil
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	now := s.now().UTC()
	tok := &domain.Token{
		ID:         ids.New(),
		AccountID:  acct.ID,
		SecretHash: hashSecret(secret),
		ExpiresAt:  now.Add(s.ttl),
		Consumed:   false,
		CreatedAt:  now,
	}
	if err := s.tokens.Replace(ctx, tok); err != nil {
		return err
	}
	s.auditor.Record(ctx, acct.ID, "", "reset_request", origin, "")

	// Delivery failures are logged, not surfaced: surfacing them would leak
	// which addresses exist.
	if err := s.sender.SendResetToken(ctx, acct.Email, tok.ID+"."+secret, tok.ExpiresAt); err != nil {
		s.log.Error("reset mail delivery failed", zap.String("account_id", acct.ID), zap.Error(err))
	}
	return nil
}

// Validate checks a presented token and returns the owning account id.
// An expired token is lazily consumed so it cannot validate later either.
func (s *Service) Validate(ctx context.Context, token string) (string, error) {
	rec, err := s.lookup(ctx, token)
	if err != nil {
		return "", err
	}
	return rec.AccountID, nil
}

// Complete sets the account's password to newSecret and consumes the token.
// The password write and the consume commit together; all of the account's
// sessions are then deactivated and denylisted, since the old credential can
// no longer vouch for them.
func (s *Service) Complete(ctx context.Context, token, newSecret, origin string) error {
	rec, err := s.lookup(ctx, token)
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash([]byte(newSecret))
	if err != nil {
		return err
	}
	if err := s.tokens.CompleteReset(ctx, rec.ID, rec.AccountID, hash); err != nil {
		return err
	}
	s.auditor.Record(ctx, rec.AccountID, "", "reset_complete", origin, "")

	now := s.now().UTC()
	for _, ch := range []sessiondomain.Channel{sessiondomain.ChannelCustomer, sessiondomain.ChannelAdmin} {
		if err := s.revocations.Add(ctx, &revocationdomain.Entry{
			ID:        ids.New(),
			AccountID: rec.AccountID,
			Channel:   ch,
			Reason:    "password_reset",
			CreatedAt: now,
		}); err != nil {
			s.log.Error("post-reset revocation failed", zap.String("account_id", rec.AccountID), zap.Error(err))
		}
		if err := s.sessions.DeactivateAllByAccount(ctx, rec.AccountID, ch); err != nil {
			s.log.Error("post-reset session deactivation failed", zap.String("account_id", rec.AccountID), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) lookup(ctx context.Context, token string) (*domain.Token, error) {
	id, secret, ok := splitToken(token)
	if !ok {
		return nil, ErrResetTokenNotFound
	}
	rec, err := s.tokens.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrResetTokenNotFound
	}
	if rec.Consumed {
		return nil, ErrResetTokenUsed
	}
	if rec.Expired(s.now().UTC()) {
		// Burn it so it cannot be retried around the expiry boundary.
		if err := s.tokens.MarkConsumed(ctx, rec.ID); err != nil {
			s.log.Warn("consuming expired reset token failed", zap.String("token_id", rec.ID), zap.Error(err))
		}
		return nil, ErrResetTokenExpired
	}
	if !secretHashEqual(rec.SecretHash, secret) {
		return nil, ErrResetTokenNotFound
	}
	return rec, nil
}

func splitToken(raw string) (id, secret string, ok bool) {
	parts := strings.SplitN(raw, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secretHashEqual(storedHash, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(storedHash), []byte(hashSecret(secret))) == 1
}
