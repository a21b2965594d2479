// Package auth implements the session lifecycle: login, authenticated-request
// verification, refresh rotation, and the two logout scopes.
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	accountdomain "storefront-auth/internal/account/domain"
	"storefront-auth/internal/audit"
	"storefront-auth/internal/ids"
	"storefront-auth/internal/lockout"
	"storefront-auth/internal/obs"
	revocationdomain "storefront-auth/internal/revocation/domain"
	"storefront-auth/internal/security"
	sessiondomain "storefront-auth/internal/session/domain"
)

// AccountStore is the credential-store access the lifecycle needs.
type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (*accountdomain.Account, error)
	GetByID(ctx context.Context, id string) (*accountdomain.Account, error)
}

// SessionStore is the session persistence the lifecycle needs.
type SessionStore interface {
	GetByAnchor(ctx context.Context, anchor string) (*sessiondomain.Session, error)
	Create(ctx context.Context, s *sessiondomain.Session) error
	Deactivate(ctx context.Context, anchor string) error
	DeactivateByDevice(ctx context.Context, accountID string, channel sessiondomain.Channel, deviceID string) error
	DeactivateAllByAccount(ctx context.Context, accountID string, channel sessiondomain.Channel) error
	Touch(ctx context.Context, anchor string, lastActivityAt, expiresAt time.Time) error
}

// RevocationStore is the denylist access the lifecycle needs.
type RevocationStore interface {
	Add(ctx context.Context, e *revocationdomain.Entry) error
	IsRevoked(ctx context.Context, anchor, accountID string, channel sessiondomain.Channel, issuedAt time.Time) (bool, error)
}

// TokenPair is one issued access/refresh pair. Both tokens carry the same
// session anchor.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Device describes the client a login arrives from. An empty ID gets a
// generated one; the caller must hand it back to the client so the next login
// from the same device replaces this session instead of stacking a new one.
type Device struct {
	ID              string
	Metadata        string
	OriginAddress   string
	ClientSignature string
}

// LoginResult is a successful login: the account, the freshly created
// session row, and the first token pair for it.
type LoginResult struct {
	Account *accountdomain.Account
	Session *sessiondomain.Session
	Pair    TokenPair
}

// RefreshResult is a successful rotation: new pair, same anchor.
type RefreshResult struct {
	Account *accountdomain.Account
	Session *sessiondomain.Session
	Pair    TokenPair
}

// A syntactically valid bcrypt hash matching no password. Compared against
// when the identifier is unknown, so unknown-identifier and wrong-password
// take similar time.
const phantomHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// Service drives the session state machine for every channel. Each channel
// gets its own TokenProvider so audiences (and optionally keys) stay disjoint.
type Service struct {
	accounts    AccountStore
	sessions    SessionStore
	revocations RevocationStore
	lockout     *lockout.Tracker
	hasher      *security.Hasher
	providers   map[sessiondomain.Channel]*security.TokenProvider
	sessionTTL  time.Duration
	auditor     audit.Recorder
	metrics     *obs.Metrics
	log         *zap.Logger
	now         func() time.Time
}

// NewService returns a lifecycle Service. providers must contain an entry for
// every channel the deployment serves.
func NewService(
	accounts AccountStore,
	sessions SessionStore,
	revocations RevocationStore,
	tracker *lockout.Tracker,
	hasher *security.Hasher,
	providers map[sessiondomain.Channel]*security.TokenProvider,
	sessionTTL time.Duration,
	auditor audit.Recorder,
	metrics *obs.Metrics,
	log *zap.Logger,
) *Service {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		accounts:    accounts,
		sessions:    sessions,
		revocations: revocations,
		lockout:     tracker,
		hasher:      hasher,
		providers:   providers,
		sessionTTL:  sessionTTL,
		auditor:     auditor,
		metrics:     metrics,
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

func (s *Service) provider(channel sessiondomain.Channel) (*security.TokenProvider, error) {
	p, ok := s.providers[channel]
	if !ok {
		return nil, fmt.Errorf("no token provider for channel %q", channel)
	}
	return p, nil
}

// issuedAt extracts the token's iat. A token somehow lacking one is treated
// as issued at the zero time, so any account-wide entry revokes it.
func issuedAt(claims *security.Claims) time.Time {
	if claims.IssuedAt == nil {
		return time.Time{}
	}
	return claims.IssuedAt.Time
}

func roleFor(channel sessiondomain.Channel) accountdomain.Role {
	if channel == sessiondomain.ChannelAdmin {
		return accountdomain.RoleAdmin
	}
	return accountdomain.RoleCustomer
}

// Login authenticates the identifier/secret pair on the given channel and
// opens a session for the device. The lockout gate runs before the credential
// check; an unknown identifier and a wrong password are indistinguishable to
// the caller.
func (s *Service) Login(ctx context.Context, channel sessiondomain.Channel, identifier, secret string, dev Device) (*LoginResult, error) {
	provider, err := s.provider(channel)
	if err != nil {
		return nil, err
	}
	identifier = strings.TrimSpace(strings.ToLower(identifier))

	if st := s.lockout.Check(ctx, identifier, dev.OriginAddress); st.Locked {
		s.metrics.Login(string(channel), "locked")
		s.auditor.Record(ctx, "", string(channel), "login_locked", dev.OriginAddress, identifier)
		return nil, &LockedError{Remaining: st.Remaining}
	}

	acct, err := s.accounts.GetByEmail(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if acct == nil {
		_ = s.hasher.Compare(phantomHash, []byte(secret))
		return nil, s.failLogin(ctx, channel, identifier, dev.OriginAddress, "login_unknown_identifier")
	}
	if acct.Role != roleFor(channel) {
		_ = s.hasher.Compare(phantomHash, []byte(secret))
		return nil, s.failLogin(ctx, channel, identifier, dev.OriginAddress, "login_wrong_channel")
	}
	if err := s.hasher.Compare(acct.PasswordHash, []byte(secret)); err != nil {
		return nil, s.failLogin(ctx, channel, identifier, dev.OriginAddress, "login_bad_secret")
	}

	if dev.ID == "" {
		dev.ID = uuid.NewString()
	}
	// One active row per (account, device): retire the predecessor, and only
	// it, before inserting.
	if err := s.sessions.DeactivateByDevice(ctx, acct.ID, channel, dev.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	now := s.now().UTC()
	sess := &sessiondomain.Session{
		Anchor:          ids.New(),
		AccountID:       acct.ID,
		Channel:         channel,
		DeviceID:        dev.ID,
		DeviceMetadata:  dev.Metadata,
		OriginAddress:   dev.OriginAddress,
		ClientSignature: dev.ClientSignature,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.sessionTTL),
		LastActivityAt:  now,
		IsActive:        true,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	pair, err := s.issuePair(provider, acct, sess.Anchor, dev.ID)
	if err != nil {
		return nil, err
	}

	s.lockout.Reset(ctx, identifier, dev.OriginAddress)
	s.metrics.Login(string(channel), "success")
	s.auditor.Record(ctx, acct.ID, string(channel), "login", dev.OriginAddress, dev.ID)
	return &LoginResult{Account: acct, Session: sess, Pair: pair}, nil
}

func (s *Service) failLogin(ctx context.Context, channel sessiondomain.Channel, identifier, origin, action string) error {
	st := s.lockout.RecordFailure(ctx, identifier, origin)
	s.metrics.Login(string(channel), "failure")
	s.auditor.Record(ctx, "", string(channel), action, origin, identifier)
	if st.Locked {
		return &LockedError{Remaining: st.Remaining}
	}
	return ErrInvalidCredentials
}

// Authenticate verifies an access token for the channel and consults the
// revocation registry. The claims are trusted as-is on success; no session row
// is read on this path. A registry read failure fails closed.
func (s *Service) Authenticate(ctx context.Context, channel sessiondomain.Channel, accessToken string) (*security.Claims, error) {
	provider, err := s.provider(channel)
	if err != nil {
		return nil, err
	}
	claims, err := provider.Verify(accessToken, security.ClassAccess)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.SessionAnchor, claims.Subject, channel, issuedAt(claims))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if revoked {
		return nil, ErrRevokedSession
	}
	return claims, nil
}

// Refresh rotates the pair behind refreshToken: verify, revocation check,
// session-row checks, then a new pair under the same anchor. The row's expiry
// slides forward; no new row is created, so concurrent refreshes of the same
// session may both succeed and both pairs stay valid.
func (s *Service) Refresh(ctx context.Context, channel sessiondomain.Channel, refreshToken, deviceID string) (*RefreshResult, error) {
	provider, err := s.provider(channel)
	if err != nil {
		return nil, err
	}
	claims, err := provider.Verify(refreshToken, security.ClassRefresh)
	if err != nil {
		s.metrics.Refresh(string(channel), "failure")
		return nil, err
	}
	revoked, err := s.revocations.IsRevoked(ctx, claims.SessionAnchor, claims.Subject, channel, issuedAt(claims))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if revoked {
		s.metrics.Refresh(string(channel), "revoked")
		return nil, ErrRevokedSession
	}

	sess, err := s.sessions.GetByAnchor(ctx, claims.SessionAnchor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if sess == nil {
		s.metrics.Refresh(string(channel), "failure")
		return nil, ErrSessionNotFound
	}
	if !sess.IsActive {
		s.metrics.Refresh(string(channel), "failure")
		return nil, ErrSessionInactive
	}
	if deviceID == "" {
		deviceID = claims.DeviceID
	}
	if sess.DeviceID != deviceID {
		s.metrics.Refresh(string(channel), "failure")
		s.auditor.Record(ctx, sess.AccountID, string(channel), "refresh_device_mismatch", sess.OriginAddress, deviceID)
		return nil, ErrDeviceMismatch
	}
	now := s.now().UTC()
	if sess.Expired(now) {
		if err := s.sessions.Deactivate(ctx, sess.Anchor); err != nil {
			s.log.Warn("deactivating expired session failed", zap.String("anchor", sess.Anchor), zap.Error(err))
		}
		s.metrics.Refresh(string(channel), "failure")
		return nil, ErrSessionExpired
	}

	// Reload the account so role or email changes take effect at rotation,
	// not only at the next login.
	acct, err := s.accounts.GetByID(ctx, sess.AccountID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if acct == nil || acct.Role != roleFor(channel) {
		if err := s.sessions.Deactivate(ctx, sess.Anchor); err != nil {
			s.log.Warn("deactivating orphaned session failed", zap.String("anchor", sess.Anchor), zap.Error(err))
		}
		s.metrics.Refresh(string(channel), "failure")
		return nil, ErrSessionInactive
	}

	sess.LastActivityAt = now
	sess.ExpiresAt = now.Add(s.sessionTTL)
	if err := s.sessions.Touch(ctx, sess.Anchor, sess.LastActivityAt, sess.ExpiresAt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	pair, err := s.issuePair(provider, acct, sess.Anchor, sess.DeviceID)
	if err != nil {
		return nil, err
	}
	s.metrics.Refresh(string(channel), "success")
	s.auditor.Record(ctx, acct.ID, string(channel), "refresh", sess.OriginAddress, sess.DeviceID)
	return &RefreshResult{Account: acct, Session: sess, Pair: pair}, nil
}

// Logout ends the session the access token points at. Idempotent: a
// malformed, forged, or already-dead token is a no-op success. Expiry alone
// does not block a logout, so a tab left open past the access TTL can still
// close its session.
func (s *Service) Logout(ctx context.Context, channel sessiondomain.Channel, accessToken string) error {
	provider, err := s.provider(channel)
	if err != nil {
		return err
	}
	claims, err := provider.Peek(accessToken, security.ClassAccess)
	if err != nil {
		return nil
	}
	if err := s.sessions.Deactivate(ctx, claims.SessionAnchor); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	s.metrics.Logout(string(channel), "device")
	s.auditor.Record(ctx, claims.Subject, string(channel), "logout", "", claims.DeviceID)
	return nil
}

// LogoutAllDevices ends every session of the token's account on this channel.
// The account-wide revocation entry is written synchronously before the
// session fan-out: once Add returns, outstanding unexpired access tokens are
// dead even if the fan-out is interrupted. Accepts an access or refresh token.
func (s *Service) LogoutAllDevices(ctx context.Context, channel sessiondomain.Channel, token string) error {
	provider, err := s.provider(channel)
	if err != nil {
		return err
	}
	claims, err := provider.Peek(token, security.ClassAccess)
	if err != nil {
		claims, err = provider.Peek(token, security.ClassRefresh)
	}
	if err != nil {
		return nil
	}
	entry := &revocationdomain.Entry{
		ID:        ids.New(),
		AccountID: claims.Subject,
		Channel:   channel,
		Reason:    "logout_all",
		CreatedAt: s.now().UTC(),
	}
	if err := s.revocations.Add(ctx, entry); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := s.sessions.DeactivateAllByAccount(ctx, claims.Subject, channel); err != nil {
		// The registry entry already invalidates every token; the rows catch
		// up on the next janitor pass.
		s.log.Warn("global logout session fan-out failed",
			zap.String("account_id", claims.Subject), zap.Error(err))
	}
	s.metrics.Logout(string(channel), "account")
	s.auditor.Record(ctx, claims.Subject, string(channel), "logout_all", "", "")
	return nil
}

func (s *Service) issuePair(provider *security.TokenProvider, acct *accountdomain.Account, anchor, deviceID string) (TokenPair, error) {
	access, accessExp, err := provider.Issue(security.ClassAccess, acct.ID, acct.Email, string(acct.Role), anchor, deviceID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := provider.Issue(security.ClassRefresh, acct.ID, acct.Email, string(acct.Role), anchor, deviceID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}
