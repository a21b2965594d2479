package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	accountdomain "storefront-auth/internal/account/domain"
	"storefront-auth/internal/lockout"
	lockoutdomain "storefront-auth/internal/lockout/domain"
	revocationdomain "storefront-auth/internal/revocation/domain"
	"storefront-auth/internal/security"
	sessiondomain "storefront-auth/internal/session/domain"
)

type memAccounts struct {
	mu   sync.Mutex
	byID map[string]*accountdomain.Account
}

func (m *memAccounts) GetByEmail(ctx context.Context, email string) (*accountdomain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memAccounts) GetByID(ctx context.Context, id string) (*accountdomain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byID[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *memAccounts) setRole(id string, role accountdomain.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].Role = role
}

type memSessions struct {
	mu       sync.Mutex
	byAnchor map[string]*sessiondomain.Session
}

func (m *memSessions) GetByAnchor(ctx context.Context, anchor string) (*sessiondomain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byAnchor[anchor]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *memSessions) Create(ctx context.Context, s *sessiondomain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.byAnchor[s.Anchor] = &cp
	return nil
}

func (m *memSessions) Deactivate(ctx context.Context, anchor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byAnchor[anchor]; ok {
		s.IsActive = false
	}
	return nil
}

func (m *memSessions) DeactivateByDevice(ctx context.Context, accountID string, channel sessiondomain.Channel, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byAnchor {
		if s.AccountID == accountID && s.Channel == channel && s.DeviceID == deviceID {
			s.IsActive = false
		}
	}
	return nil
}

func (m *memSessions) DeactivateAllByAccount(ctx context.Context, accountID string, channel sessiondomain.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byAnchor {
		if s.AccountID == accountID && s.Channel == channel {
			s.IsActive = false
		}
	}
	return nil
}

func (m *memSessions) Touch(ctx context.Context, anchor string, lastActivityAt, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byAnchor[anchor]; ok {
		s.LastActivityAt = lastActivityAt
		s.ExpiresAt = expiresAt
	}
	return nil
}

func (m *memSessions) activeCount(accountID string, channel sessiondomain.Channel, deviceID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.byAnchor {
		if s.AccountID == accountID && s.Channel == channel && s.DeviceID == deviceID && s.IsActive {
			n++
		}
	}
	return n
}

func (m *memSessions) expire(anchor string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byAnchor[anchor].ExpiresAt = at
}

type memRevocations struct {
	mu      sync.Mutex
	entries []*revocationdomain.Entry
	failing error
}

func (m *memRevocations) Add(ctx context.Context, e *revocationdomain.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing != nil {
		return m.failing
	}
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memRevocations) IsRevoked(ctx context.Context, anchor, accountID string, channel sessiondomain.Channel, issuedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing != nil {
		return false, m.failing
	}
	for _, e := range m.entries {
		if e.SessionAnchor != "" && e.SessionAnchor == anchor {
			return true, nil
		}
		if e.SessionAnchor == "" && e.AccountID == accountID && e.Channel == channel && e.CreatedAt.After(issuedAt) {
			return true, nil
		}
	}
	return false, nil
}

type memLockouts struct {
	mu sync.Mutex
	m  map[string]*lockoutdomain.Record
}

func (m *memLockouts) key(identifier, origin string) string { return identifier + "|" + origin }

func (m *memLockouts) Get(ctx context.Context, identifier, origin string) (*lockoutdomain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.m[m.key(identifier, origin)]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (m *memLockouts) Upsert(ctx context.Context, r *lockoutdomain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.m[m.key(r.Identifier, r.OriginAddress)] = &cp
	return nil
}

func (m *memLockouts) Delete(ctx context.Context, identifier, origin string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, m.key(identifier, origin))
	return nil
}

func (m *memLockouts) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fixture struct {
	svc         *Service
	accounts    *memAccounts
	sessions    *memSessions
	revocations *memRevocations
	providers   map[sessiondomain.Channel]*security.TokenProvider
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(h)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	accounts := &memAccounts{byID: map[string]*accountdomain.Account{
		"acct-cust": {ID: "acct-cust", Email: "shopper@example.com", Role: accountdomain.RoleCustomer, PasswordHash: mustHash(t, "shopper-pass")},
		"acct-adm":  {ID: "acct-adm", Email: "staff@example.com", Role: accountdomain.RoleAdmin, PasswordHash: mustHash(t, "staff-pass")},
	}}
	sessions := &memSessions{byAnchor: map[string]*sessiondomain.Session{}}
	revocations := &memRevocations{}
	tracker := lockout.NewTracker(&memLockouts{m: map[string]*lockoutdomain.Record{}}, 3, 15*time.Minute, nil)

	custProv, err := security.NewTestTokenProvider("storefront-shop")
	if err != nil {
		t.Fatal(err)
	}
	admProv, err := security.NewTestTokenProvider("storefront-admin")
	if err != nil {
		t.Fatal(err)
	}
	providers := map[sessiondomain.Channel]*security.TokenProvider{
		sessiondomain.ChannelCustomer: custProv,
		sessiondomain.ChannelAdmin:    admProv,
	}
	svc := NewService(accounts, sessions, revocations, tracker,
		security.NewHasher(bcrypt.MinCost), providers, 7*24*time.Hour, nil, nil, nil)
	return &fixture{svc: svc, accounts: accounts, sessions: sessions, revocations: revocations, providers: providers}
}

func (f *fixture) login(t *testing.T, channel sessiondomain.Channel, email, pass, device string) *LoginResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), channel, email, pass, Device{ID: device, OriginAddress: "192.0.2.1"})
	if err != nil {
		t.Fatalf("Login(%s): %v", email, err)
	}
	return res
}

func TestLoginIssuesVerifiablePair(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "dev-1")

	if res.Session.Anchor == "" || !res.Session.IsActive {
		t.Fatalf("bad session row: %+v", res.Session)
	}
	claims, err := f.svc.Authenticate(context.Background(), sessiondomain.ChannelCustomer, res.Pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if claims.Subject != "acct-cust" || claims.SessionAnchor != res.Session.Anchor {
		t.Errorf("claims = subject %q anchor %q", claims.Subject, claims.SessionAnchor)
	}
	if claims.Role != "customer" {
		t.Errorf("role claim = %q", claims.Role)
	}
}

func TestLoginUnknownAndWrongPasswordIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, errUnknown := f.svc.Login(ctx, sessiondomain.ChannelCustomer, "ghost@example.com", "whatever", Device{})
	_, errWrong := f.svc.Login(ctx, sessiondomain.ChannelCustomer, "shopper@example.com", "not-it", Device{})

	if !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Errorf("unknown identifier: %v", errUnknown)
	}
	if !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Errorf("wrong password: %v", errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Errorf("messages differ: %q vs %q", errUnknown, errWrong)
	}
}

func TestLoginChannelRoleGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Valid customer credentials do not open an admin session.
	if _, err := f.svc.Login(ctx, sessiondomain.ChannelAdmin, "shopper@example.com", "shopper-pass", Device{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("customer on admin channel: %v", err)
	}
	if _, err := f.svc.Login(ctx, sessiondomain.ChannelCustomer, "staff@example.com", "staff-pass", Device{}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("admin on customer channel: %v", err)
	}
}

func TestLoginLockoutAfterRepeatedFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dev := Device{OriginAddress: "192.0.2.7"}

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Login(ctx, sessiondomain.ChannelCustomer, "shopper@example.com", "not-it", dev); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	// Third failure crosses the threshold.
	_, err := f.svc.Login(ctx, sessiondomain.ChannelCustomer, "shopper@example.com", "not-it", dev)
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("threshold attempt: %v", err)
	}
	if locked.Remaining <= 0 {
		t.Errorf("Remaining = %v, want positive", locked.Remaining)
	}
	// Correct password is rejected while the lock holds.
	if _, err := f.svc.Login(ctx, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", dev); !errors.Is(err, ErrAccountLocked) {
		t.Errorf("while locked: %v", err)
	}
}

func TestLoginReplacesSameDeviceSessionOnly(t *testing.T) {
	f := newFixture(t)

	first := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "laptop")
	other := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "phone")
	second := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "laptop")

	if n := f.sessions.activeCount("acct-cust", sessiondomain.ChannelCustomer, "laptop"); n != 1 {
		t.Errorf("active laptop sessions = %d, want 1", n)
	}
	if got, _ := f.sessions.GetByAnchor(context.Background(), first.Session.Anchor); got.IsActive {
		t.Error("first laptop session still active after relogin")
	}
	if got, _ := f.sessions.GetByAnchor(context.Background(), other.Session.Anchor); !got.IsActive {
		t.Error("phone session was collaterally deactivated")
	}
	if second.Session.Anchor == first.Session.Anchor {
		t.Error("relogin reused the old anchor")
	}
}

func TestAuthenticateFailsClosedOnRegistryError(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "dev-1")

	f.revocations.failing = errors.New("registry down")
	_, err := f.svc.Authenticate(context.Background(), sessiondomain.ChannelCustomer, res.Pair.AccessToken)
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("err = %v, want ErrStorageUnavailable", err)
	}
}

func TestRefreshKeepsAnchorAndRotatesPair(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "dev-1")

	rot, err := f.svc.Refresh(context.Background(), sessiondomain.ChannelCustomer, res.Pair.RefreshToken, "dev-1")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rot.Session.Anchor != res.Session.Anchor {
		t.Errorf("anchor changed: %q -> %q", res.Session.Anchor, rot.Session.Anchor)
	}
	// Concurrent rotation: the first pair's refresh token still works.
	again, err := f.svc.Refresh(context.Background(), sessiondomain.ChannelCustomer, res.Pair.RefreshToken, "dev-1")
	if err != nil {
		t.Fatalf("second Refresh of original token: %v", err)
	}
	if again.Session.Anchor != res.Session.Anchor {
		t.Error("anchor changed on concurrent rotation")
	}
}

func TestConcurrentRefreshesAllKeepAnchor(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "dev-1")

	const n = 8
	results := make([]*RefreshResult, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Refresh(context.Background(), sessiondomain.ChannelCustomer, res.Pair.RefreshToken, "dev-1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("refresh %d: %v", i, errs[i])
		}
		if results[i].Session.Anchor != res.Session.Anchor {
			t.Errorf("refresh %d: anchor changed to %q", i, results[i].Session.Anchor)
		}
		if results[i].Pair.RefreshToken == "" {
			t.Errorf("refresh %d: empty rotated pair", i)
		}
	}

	// Exactly one session row, still the original one, still active.
	row, err := f.sessions.GetByAnchor(context.Background(), res.Session.Anchor)
	if err != nil || row == nil || !row.IsActive {
		t.Fatalf("session row after refreshes: %+v, %v", row, err)
	}
	if got := len(f.sessions.byAnchor); got != 1 {
		t.Errorf("session rows = %d, want 1", got)
	}
}

func TestRefreshRejectsWrongDevice(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "dev-1")

	if _, err := f.svc.Refresh(context.Background(), sessiondomain.ChannelCustomer, res.Pair.RefreshToken, "dev-2"); !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("err = %v, want ErrDeviceMismatch", err)
	}
}

func TestRefreshRejectsAccessTokenClass(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "dev-1")

	if _, err := f.svc.Refresh(context.Background(), sessiondomain.ChannelCustomer, res.Pair.AccessToken, "dev-1"); !errors.Is(err, security.ErrTokenWrongClass) {
		t.Fatalf("err = %v, want ErrTokenWrongClass", err)
	}
}

func TestRefreshExpiredSessionDeactivatesRow(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "dev-1")
	f.sessions.expire(res.Session.Anchor, time.Now().Add(-time.Minute))

	if _, err := f.svc.Refresh(context.Background(), sessiondomain.ChannelCustomer, res.Pair.RefreshToken, "dev-1"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	row, _ := f.sessions.GetByAnchor(context.Background(), res.Session.Anchor)
	if row.IsActive {
		t.Error("expired row left active")
	}
}

func TestRefreshAfterLogoutIsSessionInactive(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "dev-1")

	if err := f.svc.Logout(context.Background(), sessiondomain.ChannelCustomer, res.Pair.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.svc.Refresh(context.Background(), sessiondomain.ChannelCustomer, res.Pair.RefreshToken, "dev-1"); !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("err = %v, want ErrSessionInactive", err)
	}
}

func TestRefreshPicksUpRoleChange(t *testing.T) {
	f := newFixture(t)
	res := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "dev-1")

	// Role no longer matches the channel: the session dies at rotation.
	f.accounts.setRole("acct-cust", accountdomain.RoleAdmin)
	if _, err := f.svc.Refresh(context.Background(), sessiondomain.ChannelCustomer, res.Pair.RefreshToken, "dev-1"); !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("err = %v, want ErrSessionInactive", err)
	}
	row, _ := f.sessions.GetByAnchor(context.Background(), res.Session.Anchor)
	if row.IsActive {
		t.Error("row left active after role change")
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "dev-1")

	if err := f.svc.Logout(ctx, sessiondomain.ChannelCustomer, res.Pair.AccessToken); err != nil {
		t.Fatalf("first Logout: %v", err)
	}
	if err := f.svc.Logout(ctx, sessiondomain.ChannelCustomer, res.Pair.AccessToken); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if err := f.svc.Logout(ctx, sessiondomain.ChannelCustomer, "not-a-token"); err != nil {
		t.Fatalf("garbage token Logout: %v", err)
	}
}

func TestLogoutAcceptsExpiredAccessToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Issue the pair an hour in the past so the access token is expired.
	past := time.Now().Add(-time.Hour)
	f.providers[sessiondomain.ChannelCustomer].WithClock(func() time.Time { return past })
	res := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "dev-1")
	f.providers[sessiondomain.ChannelCustomer].WithClock(time.Now)

	if _, err := f.svc.Authenticate(ctx, sessiondomain.ChannelCustomer, res.Pair.AccessToken); !errors.Is(err, security.ErrTokenExpired) {
		t.Fatalf("sanity: access token should be expired, got %v", err)
	}
	if err := f.svc.Logout(ctx, sessiondomain.ChannelCustomer, res.Pair.AccessToken); err != nil {
		t.Fatalf("Logout with expired token: %v", err)
	}
	row, _ := f.sessions.GetByAnchor(ctx, res.Session.Anchor)
	if row.IsActive {
		t.Error("session still active after logout with expired token")
	}
}

func TestLogoutAllRevokesUnexpiredAccessTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	laptop := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "laptop")
	phone := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "phone")

	// Global logout via the refresh token from one device.
	if err := f.svc.LogoutAllDevices(ctx, sessiondomain.ChannelCustomer, laptop.Pair.RefreshToken); err != nil {
		t.Fatalf("LogoutAllDevices: %v", err)
	}

	// The other device's access token is unexpired but must now be rejected.
	if _, err := f.svc.Authenticate(ctx, sessiondomain.ChannelCustomer, phone.Pair.AccessToken); !errors.Is(err, ErrRevokedSession) {
		t.Errorf("phone access token: %v, want ErrRevokedSession", err)
	}
	if _, err := f.svc.Refresh(ctx, sessiondomain.ChannelCustomer, phone.Pair.RefreshToken, "phone"); !errors.Is(err, ErrRevokedSession) {
		t.Errorf("phone refresh token: %v, want ErrRevokedSession", err)
	}
	if n := f.sessions.activeCount("acct-cust", sessiondomain.ChannelCustomer, "phone"); n != 0 {
		t.Errorf("phone still has %d active sessions", n)
	}
}

func TestLogoutAllFailsClosedWhenRegistryDown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "dev-1")

	f.revocations.failing = errors.New("registry down")
	if err := f.svc.LogoutAllDevices(ctx, sessiondomain.ChannelCustomer, res.Pair.RefreshToken); !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("err = %v, want ErrStorageUnavailable", err)
	}
}

func TestChannelsAreDisjoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cust := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "dev-1")
	adm := f.login(t, sessiondomain.ChannelAdmin, "staff@example.com", "staff-pass", "dev-1")

	// A customer token never authenticates on the admin channel.
	if _, err := f.svc.Authenticate(ctx, sessiondomain.ChannelAdmin, cust.Pair.AccessToken); err == nil {
		t.Error("customer token accepted on admin channel")
	}

	// A customer global logout leaves admin sessions untouched.
	if err := f.svc.LogoutAllDevices(ctx, sessiondomain.ChannelCustomer, cust.Pair.RefreshToken); err != nil {
		t.Fatalf("LogoutAllDevices: %v", err)
	}
	if _, err := f.svc.Authenticate(ctx, sessiondomain.ChannelAdmin, adm.Pair.AccessToken); err != nil {
		t.Errorf("admin token after customer global logout: %v", err)
	}
}

func TestLoginAfterGlobalLogoutWorks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "dev-1")
	if err := f.svc.LogoutAllDevices(ctx, sessiondomain.ChannelCustomer, old.Pair.RefreshToken); err != nil {
		t.Fatalf("LogoutAllDevices: %v", err)
	}

	fresh := f.login(t, sessiondomain.ChannelCustomer, "shopper@example.com", "shopper-pass", "dev-1")
	if _, err := f.svc.Authenticate(ctx, sessiondomain.ChannelCustomer, fresh.Pair.AccessToken); err != nil {
		t.Fatalf("fresh session after global logout: %v", err)
	}
}
