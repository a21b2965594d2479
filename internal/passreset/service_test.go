package passreset

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	accountdomain "storefront-auth/internal/account/domain"
	"storefront-auth/internal/passreset/domain"
	revocationdomain "storefront-auth/internal/revocation/domain"
	"storefront-auth/internal/security"
	sessiondomain "storefront-auth/internal/session/domain"
)

type memAccounts struct {
	mu      sync.Mutex
	byEmail map[string]*accountdomain.Account
}

func (m *memAccounts) GetByEmail(ctx context.Context, email string) (*accountdomain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byEmail[email], nil
}

type memTokens struct {
	mu        sync.Mutex
	m         map[string]*domain.Token
	passwords map[string]string // accountID -> hash written by CompleteReset
}

func (m *memTokens) GetByID(ctx context.Context, id string) (*domain.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.m[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (m *memTokens) Replace(ctx context.Context, t *domain.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, old := range m.m {
		if old.AccountID == t.AccountID {
			delete(m.m, id)
		}
	}
	cp := *t
	m.m[t.ID] = &cp
	return nil
}

func (m *memTokens) MarkConsumed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.m[id]; ok {
		t.Consumed = true
	}
	return nil
}

func (m *memTokens) CompleteReset(ctx context.Context, tokenID, accountID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.m[tokenID]
	if !ok {
		return errors.New("token missing")
	}
	m.passwords[accountID] = passwordHash
	t.Consumed = true
	return nil
}

func (m *memTokens) PurgeDead(ctx context.Context, now time.Time) (int64, error) { return 0, nil }

type memSessions struct {
	mu          sync.Mutex
	deactivated []string
}

func (m *memSessions) DeactivateAllByAccount(ctx context.Context, accountID string, channel sessiondomain.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivated = append(m.deactivated, accountID+"/"+string(channel))
	return nil
}

type memRevocations struct {
	mu      sync.Mutex
	entries []*revocationdomain.Entry
}

func (m *memRevocations) Add(ctx context.Context, e *revocationdomain.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

type captureSender struct {
	mu     sync.Mutex
	tokens []string
	emails []string
}

func (c *captureSender) SendResetToken(ctx context.Context, email, token string, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emails = append(c.emails, email)
	c.tokens = append(c.tokens, token)
	return nil
}

func newTestService(t *testing.T) (*Service, *memAccounts, *memTokens, *memSessions, *memRevocations, *captureSender) {
	t.Helper()
	accounts := &memAccounts{byEmail: map[string]*accountdomain.Account{
		"a@example.com": {ID: "acct-1", Email: "a@example.com", Role: accountdomain.RoleCustomer},
	}}
	tokens := &memTokens{m: map[string]*domain.Token{}, passwords: map[string]string{}}
	sessions := &memSessions{}
	revocations := &memRevocations{}
	sender := &captureSender{}
	svc := NewService(accounts, tokens, sessions, revocations,
		security.NewHasher(bcrypt.MinCost), sender, nil, 30*time.Minute, nil)
	return svc, accounts, tokens, sessions, revocations, sender
}

func TestRequestUnknownEmailIsGenericSuccess(t *testing.T) {
	svc, _, tokens, _, _, sender := newTestService(t)

	if err := svc.Request(context.Background(), "nobody@example.com", "203.0.113.9"); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if len(tokens.m) != 0 {
		t.Error("no token should be stored for unknown email")
	}
	if len(sender.tokens) != 0 {
		t.Error("no mail should be sent for unknown email")
	}
}

func TestRequestInvalidatesPriorToken(t *testing.T) {
	svc, _, tokens, _, _, sender := newTestService(t)
	ctx := context.Background()

	if err := svc.Request(ctx, "a@example.com", ""); err != nil {
		t.Fatalf("first Request: %v", err)
	}
	first := sender.tokens[0]
	if err := svc.Request(ctx, "a@example.com", ""); err != nil {
		t.Fatalf("second Request: %v", err)
	}
	second := sender.tokens[1]

	if len(tokens.m) != 1 {
		t.Fatalf("token rows = %d, want 1", len(tokens.m))
	}
	if _, err := svc.Validate(ctx, first); !errors.Is(err, ErrResetTokenNotFound) {
		t.Errorf("first token after reissue: err = %v, want ErrResetTokenNotFound", err)
	}
	if acct, err := svc.Validate(ctx, second); err != nil || acct != "acct-1" {
		t.Errorf("second token: acct=%q err=%v", acct, err)
	}
}

func TestValidateExpiredConsumesLazily(t *testing.T) {
	svc, _, _, _, _, sender := newTestService(t)
	ctx := context.Background()

	now := time.Now()
	cur := &now
	svc.WithClock(func() time.Time { return *cur })

	if err := svc.Request(ctx, "a@example.com", ""); err != nil {
		t.Fatalf("Request: %v", err)
	}
	token := sender.tokens[0]

	*cur = cur.Add(31 * time.Minute)
	if _, err := svc.Validate(ctx, token); !errors.Is(err, ErrResetTokenExpired) {
		t.Fatalf("expired: err = %v, want ErrResetTokenExpired", err)
	}
	// Lazily consumed: even rolling the clock back cannot revive it.
	*cur = cur.Add(-31 * time.Minute)
	if _, err := svc.Validate(ctx, token); !errors.Is(err, ErrResetTokenUsed) {
		t.Fatalf("after lazy consume: err = %v, want ErrResetTokenUsed", err)
	}
}

func TestCompleteIsSingleUse(t *testing.T) {
	svc, _, tokens, sessions, revocations, sender := newTestService(t)
	ctx := context.Background()

	if err := svc.Request(ctx, "a@example.com", ""); err != nil {
		t.Fatalf("Request: %v", err)
	}
	token := sender.tokens[0]

	if err := svc.Complete(ctx, token, "new-Password-1!", ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	hash, ok := tokens.passwords["acct-1"]
	if !ok {
		t.Fatal("password hash not written")
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("new-Password-1!")) != nil {
		t.Error("stored hash does not match new password")
	}
	if len(sessions.deactivated) != 2 {
		t.Errorf("deactivated channels = %v, want both", sessions.deactivated)
	}
	if len(revocations.entries) != 2 {
		t.Errorf("revocation entries = %d, want 2", len(revocations.entries))
	}

	if err := svc.Complete(ctx, token, "another-Password-1!", ""); !errors.Is(err, ErrResetTokenUsed) {
		t.Fatalf("second Complete: err = %v, want ErrResetTokenUsed", err)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	svc, _, tokens, _, _, _ := newTestService(t)
	ctx := context.Background()

	if err := svc.Request(ctx, "a@example.com", ""); err != nil {
		t.Fatalf("Request: %v", err)
	}
	var id string
	for k := range tokens.m {
		id = k
	}
	if _, err := svc.Validate(ctx, id+".wrong-secret"); !errors.Is(err, ErrResetTokenNotFound) {
		t.Errorf("wrong secret: err = %v, want ErrResetTokenNotFound", err)
	}
}
