package token

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Issuer mints and verifies the time-limited signup tokens that provisioning
// emails carry. Tokens are keyed by email, which stays stable when a pending
// user is relinked to a new store, and signed so the signup endpoint can
// trust the claims without a lookup round-trip.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

type Signup struct {
	Email     string
	StoreID   string
	ExpiresAt time.Time
}

type signupClaims struct {
	jwtlib.RegisteredClaims
	StoreID string `json:"store_id"`
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if secret == "" {
		secret = "dev-change-me"
	}
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

func (i *Issuer) TTL() time.Duration { return i.ttl }

func (i *Issuer) IssueSignup(email string, storeID string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(i.ttl)
	claims := signupClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "gerailink",
			Audience:  jwtlib.ClaimStrings{"signup"},
		},
		StoreID: storeID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (i *Issuer) VerifySignup(tokenStr string) (Signup, error) {
	claims := &signupClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithAudience("signup"))
	if err != nil || !token.Valid {
		return Signup{}, errors.New("invalid or expired signup token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Signup{}, errors.New("invalid signup token subject")
	}
	return Signup{
		Email:     sub,
		StoreID:   claims.StoreID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
