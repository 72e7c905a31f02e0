package utils

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Payload is the claim set carried by every token this service signs.
// Exp is a unix timestamp in seconds; zero means the token never expires and
// the claim is omitted from the wire form.
type Payload struct {
	Sub     uint64   `json:"sub"`
	Iat     int64    `json:"iat"`
	Exp     int64    `json:"exp,omitempty"`
	Scopes  []string `json:"scopes"`
	TokenID string   `json:"tokenId"`
}

// Payload satisfies jwt.Claims so the library's validator handles exp.

func (p Payload) GetExpirationTime() (*jwt.NumericDate, error) {
	if p.Exp == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(p.Exp, 0)), nil
}

func (p Payload) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(p.Iat, 0)), nil
}

func (p Payload) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }

func (p Payload) GetIssuer() (string, error) { return "", nil }

func (p Payload) GetSubject() (string, error) { return strconv.FormatUint(p.Sub, 10), nil }

func (p Payload) GetAudience() (jwt.ClaimStrings, error) { return nil, nil }

var errMissingClaims = errors.New("jwt: sub, iat and tokenId are required")

// JWTEngine signs and verifies HS256 tokens with a shared secret.
type JWTEngine struct {
	secret []byte
	now    func() time.Time
}

// NewJWTEngine builds an engine. now may be nil, in which case time.Now is used.
func NewJWTEngine(secret string, now func() time.Time) *JWTEngine {
	if now == nil {
		now = time.Now
	}
	return &JWTEngine{secret: []byte(secret), now: now}
}

// Create signs p. It only computes; nothing is stored.
func (e *JWTEngine) Create(p Payload) (string, error) {
	if p.Sub == 0 || p.Iat == 0 || p.TokenID == "" {
		return "", errMissingClaims
	}
	if p.Scopes == nil {
		p.Scopes = []string{}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, p).SignedString(e.secret)
}

// Verify returns the payload of a well-formed, correctly signed, unexpired
// token. Any failure, including garbage input, yields (nil, false); it never
// panics and has no side effects.
func (e *JWTEngine) Verify(raw string) (*Payload, bool) {
	if strings.Count(raw, ".") != 2 {
		return nil, false
	}
	var p Payload
	tok, err := jwt.ParseWithClaims(raw, &p, func(t *jwt.Token) (interface{}, error) {
		// Type assert the signing method to HMAC; reject others.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return e.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(e.now),
	)
	if err != nil || !tok.Valid {
		return nil, false
	}
	if p.Sub == 0 || p.TokenID == "" {
		return nil, false
	}
	return &p, true
}

// IssueAccessToken builds and signs a token for userID valid for ttl.
// A ttl <= 0 produces a token without exp.
func (e *JWTEngine) IssueAccessToken(userID uint64, scopes []string, ttl time.Duration) (string, Payload, error) {
	now := e.now().UTC()
	p := Payload{
		Sub:     userID,
		Iat:     now.Unix(),
		Scopes:  scopes,
		TokenID: uuid.NewString(),
	}
	if ttl > 0 {
		p.Exp = now.Add(ttl).Unix()
	}
	signed, err := e.Create(p)
	if err != nil {
		return "", Payload{}, err
	}
	return signed, p, nil
}

// LooksLikeJWT distinguishes a compact JWT from an opaque API token.
func LooksLikeJWT(raw string) bool {
	return strings.Count(raw, ".") == 2
}
