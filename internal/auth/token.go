package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	identityClaim = "identity"
	expClaim      = "exp"
	iatClaim      = "iat"
	issClaim      = "iss"

	issuer = "chatservice"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims are the parts of an access token the chat service acts on.
type Claims struct {
	Identity  string
	ExpiresAt time.Time
}

type TokenIssuer struct {
	signingKey []byte
	ttl        time.Duration
}

func NewTokenIssuer(signingKey []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		signingKey: signingKey,
		ttl:        ttl,
	}
}

// Issue signs an access token for identity valid for the issuer's TTL.
func (ti *TokenIssuer) Issue(identity string) (string, Claims, error) {
	if identity == "" {
		return "", Claims{}, fmt.Errorf("identity cannot be empty")
	}

	now := time.Now()
	exp := now.Add(ti.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		identityClaim: identity,
		iatClaim:      now.Unix(),
		expClaim:      exp.Unix(),
		issClaim:      issuer,
	})

	signed, err := token.SignedString(ti.signingKey)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, Claims{Identity: identity, ExpiresAt: time.Unix(exp.Unix(), 0)}, nil
}

// Verify checks the signature and expiry of tokenString. Expired tokens
// yield ErrTokenExpired, everything else that fails yields ErrInvalidToken.
func (ti *TokenIssuer) Verify(tokenString string) (Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return ti.signingKey, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors == jwt.ValidationErrorExpired {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}

	return claimsFromMap(claims)
}

// ExpiresAt reads the exp claim without verifying the signature. Clients
// use it to schedule refreshes of a token they cannot verify.
func ExpiresAt(tokenString string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := new(jwt.Parser).ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	c, err := claimsFromMap(claims)
	if err != nil {
		return time.Time{}, err
	}

	return c.ExpiresAt, nil
}

func claimsFromMap(claims jwt.MapClaims) (Claims, error) {
	identity, ok := claims[identityClaim].(string)
	if !ok || identity == "" {
		return Claims{}, fmt.Errorf("%w: missing identity claim", ErrInvalidToken)
	}

	exp, ok := claims[expClaim].(float64)
	if !ok {
		return Claims{}, fmt.Errorf("%w: missing exp claim", ErrInvalidToken)
	}

	return Claims{
		Identity:  identity,
		ExpiresAt: time.Unix(int64(exp), 0),
	}, nil
}
