package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClass discriminates access tokens from refresh tokens. The class is
// carried in the token_use claim and checked explicitly on verification; it is
// never inferred from lifetime.
type TokenClass string

const (
	ClassAccess  TokenClass = "access"
	ClassRefresh TokenClass = "refresh"
)

// VerifyLeeway is the clock skew tolerated when checking exp/iat. All expiry
// comparisons use the server clock in whole seconds; this leeway is the only
// allowance for skewed callers.
const VerifyLeeway = 5 * time.Second

// The revocation registry compares token iat against entry creation times.
// Whole-second iat would make a login in the same second as a global logout
// ambiguous, so timestamps keep microsecond precision.
func init() {
	jwt.TimePrecision = time.Microsecond
}

// Typed verification failures. Callers branch on these; none of the expected
// failure paths panic.
var (
	ErrTokenMalformed    = errors.New("token malformed")
	ErrTokenSignature    = errors.New("token signature invalid")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenWrongClass   = errors.New("token presented with wrong class")
	ErrTokenWrongChannel = errors.New("token issued for a different channel")
)

// Claims are the self-contained token claims. Everything here is duplicated
// from the issuing session row; the token carries no additional state.
type Claims struct {
	jwt.RegisteredClaims
	Email         string `json:"email,omitempty"`
	Role          string `json:"role,omitempty"`
	SessionAnchor string `json:"session_anchor"`
	DeviceID      string `json:"device_id"`
	TokenUse      string `json:"token_use"`
}

// TokenProvider issues and verifies JWTs for exactly one channel: the audience
// claim is fixed at construction and enforced on verification, so a token
// minted by another channel's provider fails with ErrTokenWrongChannel (or
// ErrTokenSignature when the channels use distinct keys). Signing is RS256 or
// ES256 depending on the key type.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider signing with privateKey for the
// given issuer and channel audience.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// WithClock overrides the provider's time source. For tests.
func (p *TokenProvider) WithClock(fn func() time.Time) *TokenProvider {
	if fn != nil {
		p.now = fn
	}
	return p
}

// Issue signs a token of the given class for the account/session/device
// triple. Pure apart from reading the clock; no storage side effects.
func (p *TokenProvider) Issue(class TokenClass, accountID, email, role, anchor, deviceID string) (token string, expiresAt time.Time, err error) {
	ttl := p.accessTTL
	if class == ClassRefresh {
		ttl = p.refreshTTL
	}
	now := p.now().UTC().Truncate(jwt.TimePrecision)
	expiresAt = now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:         email,
		Role:          role,
		SessionAnchor: anchor,
		DeviceID:      deviceID,
		TokenUse:      string(class),
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidKey
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

func (p *TokenProvider) keyfunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
		return p.publicKey, nil
	}
	if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
		return p.publicKey, nil
	}
	return nil, ErrTokenSignature
}

// Verify checks signature, expiry (with VerifyLeeway), issuer, channel
// audience, and the class discriminator, in that order. Returns the claims or
// one of the typed errors above.
func (p *TokenProvider) Verify(tokenString string, expected TokenClass) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, p.keyfunc,
		jwt.WithLeeway(VerifyLeeway),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return p.now() }),
	)
	if err != nil {
		return nil, mapParseError(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}
	if err := p.checkChannel(claims); err != nil {
		return nil, err
	}
	if claims.TokenUse != string(expected) {
		return nil, ErrTokenWrongClass
	}
	return claims, nil
}

// Peek verifies the signature and channel but ignores expiry. Used by logout,
// which must resolve the session anchor from an access token that may have
// aged out; unsigned or foreign tokens still fail.
func (p *TokenProvider) Peek(tokenString string, expected TokenClass) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, p.keyfunc,
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, mapParseError(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, ErrTokenMalformed
	}
	if err := p.checkChannel(claims); err != nil {
		return nil, err
	}
	if claims.TokenUse != string(expected) {
		return nil, ErrTokenWrongClass
	}
	return claims, nil
}

func (p *TokenProvider) checkChannel(claims *Claims) error {
	if claims.Issuer != p.issuer {
		return ErrTokenMalformed
	}
	for _, a := range claims.Audience {
		if a == p.audience {
			return nil
		}
	}
	return ErrTokenWrongChannel
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrTokenSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return ErrTokenMalformed
	}
}
