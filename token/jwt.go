package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the signature algorithm used by [JWTCodec].
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
)

// ErrSigningUnavailable is returned by Encode on a verify-only codec.
var ErrSigningUnavailable = errors.New("token signing key not configured")

// JWTConfig configures a [JWTCodec].
type JWTConfig struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	KeyID         string
}

// JWTCodec encodes claims as signed JWTs and verifies signatures on decode.
//
// Expiry is deliberately left to [IsExpired] so callers can tell an expired token
// apart from a malformed one.
type JWTCodec struct {
	config  JWTConfig
	signKey any
	verify  any
}

type jwtClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// NewJWTCodec validates cfg and parses its keys.
func NewJWTCodec(cfg JWTConfig) (*JWTCodec, error) {
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	c := &JWTCodec{config: cfg}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires private key")
		}
		c.signKey = cfg.PrivateKey
		c.verify = cfg.PrivateKey
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			priv, err := parseEdPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			c.signKey = priv
			c.verify = priv.Public()
		}
		if len(cfg.PublicKey) > 0 {
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			c.verify = pub
		}
		if c.verify == nil {
			return nil, errors.New("ed25519 requires public or private key")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	return c, nil
}

// Encode implements [Codec].
func (c *JWTCodec) Encode(claims Claims) (string, error) {
	if err := claims.Check(); err != nil {
		return "", err
	}
	if c.signKey == nil {
		return "", ErrSigningUnavailable
	}

	jc := jwtClaims{
		Email: claims.Email,
		Role:  claims.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.SubjectID,
			Issuer:    c.config.Issuer,
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAtTime()),
		},
	}
	if claims.IssuedAt != 0 {
		jc.IssuedAt = jwt.NewNumericDate(unixTime(claims.IssuedAt))
	}

	tok := jwt.NewWithClaims(c.method(), jc)
	if c.config.KeyID != "" {
		tok.Header["kid"] = c.config.KeyID
	}
	return tok.SignedString(c.signKey)
}

// Decode implements [Codec].
func (c *JWTCodec) Decode(tokenString string) (Claims, error) {
	if _, err := splitSegments(tokenString); err != nil {
		return Claims{}, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method().Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	parsed, err := parser.ParseWithClaims(tokenString, &jwtClaims{}, func(t *jwt.Token) (interface{}, error) {
		if c.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != c.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return c.verify, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	jc, ok := parsed.Claims.(*jwtClaims)
	if !ok || !parsed.Valid {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, jwt.ErrTokenInvalidClaims)
	}

	if c.config.Issuer != "" && jc.Issuer != c.config.Issuer {
		return Claims{}, fmt.Errorf("%w: unexpected issuer %q", ErrMalformed, jc.Issuer)
	}

	claims := Claims{
		SubjectID: jc.Subject,
		Email:     jc.Email,
		Role:      jc.Role,
	}
	if jc.IssuedAt != nil {
		claims.IssuedAt = jc.IssuedAt.Unix()
	}
	if jc.ExpiresAt != nil {
		claims.ExpiresAt = jc.ExpiresAt.Unix()
	}
	if err := claims.Check(); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return claims, nil
}

func (c *JWTCodec) method() jwt.SigningMethod {
	switch c.config.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
