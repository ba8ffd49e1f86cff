package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	serrors "github.com/portfoliolab/authcore/errors"
)

// Type is the token type discriminator embedded in every issued token. A
// refresh token is never accepted where an access token is expected, and vice
// versa.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// DefaultLeeway is the clock-skew tolerance applied to expiry checks.
const DefaultLeeway = 30 * time.Second

// Claims is the signed claim set carried by both token types.
type Claims struct {
	Roles     []string `json:"roles,omitempty"`
	TokenType Type     `json:"typ"`
	jwt.RegisteredClaims
}

// Codec issues and validates signed tokens. It is stateless: validity is
// entirely signature plus expiry, with no record of issued access tokens.
type Codec struct {
	keyring *Keyring
	issuer  string
	leeway  time.Duration
	parser  *jwt.Parser
}

// NewCodec creates a codec signing with the keyring's active key and
// verifying against its full key set.
func NewCodec(keyring *Keyring, issuer string) *Codec {
	return &Codec{
		keyring: keyring,
		issuer:  issuer,
		leeway:  DefaultLeeway,
		// Claims are validated by hand below so structural, signature, type
		// and expiry failures are reported as distinct errors.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
}

// Issue signs a new token of the given type. Any signing fault is fatal to
// the request; a partially signed token is never returned.
func (c *Codec) Issue(subject string, roles []string, typ Type, ttl time.Duration) (string, *Claims, error) {
	kid, secret, err := c.keyring.SigningKey()
	if err != nil {
		return "", nil, fmt.Errorf("issue %s token: %w", typ, err)
	}

	now := time.Now()
	claims := &Claims{
		Roles:     roles,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = kid

	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", nil, fmt.Errorf("issue %s token: %w", typ, err)
	}
	return signed, claims, nil
}

// Validate checks a token in order: structure, signature, type discriminator,
// then expiry with leeway. The first failing step determines the error.
func (c *Codec) Validate(tokenValue string, expected Type) (*Claims, error) {
	parsed, err := c.parser.ParseWithClaims(tokenValue, &Claims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKeyID
		}
		return c.keyring.VerificationKey(kid)
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: %v", serrors.ErrMalformedToken, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid),
			errors.Is(err, jwt.ErrTokenUnverifiable),
			errors.Is(err, ErrUnknownKeyID):
			return nil, fmt.Errorf("%w: %v", serrors.ErrSignatureInvalid, err)
		default:
			return nil, fmt.Errorf("%w: %v", serrors.ErrMalformedToken, err)
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, serrors.ErrMalformedToken
	}

	if claims.TokenType != expected {
		return nil, fmt.Errorf("%w: got %q, want %q", serrors.ErrTypeMismatch, claims.TokenType, expected)
	}

	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing exp claim", serrors.ErrMalformedToken)
	}
	if time.Now().After(claims.ExpiresAt.Time.Add(c.leeway)) {
		return nil, serrors.ErrExpiredToken
	}

	return claims, nil
}
