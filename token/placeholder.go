package token

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PlaceholderSignature is the literal third segment written by [PlaceholderCodec].
const PlaceholderSignature = "MOCK_SIGNATURE"

var errSegmentNotObject = errors.New("segment is not an object")

type placeholderHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

// PlaceholderCodec is the reversible, unsigned token format used by the portal.
//
// It provides no integrity protection and must not be treated as a security
// boundary.
type PlaceholderCodec struct{}

// Encode implements [Codec]. Output is deterministic for equal claims.
func (PlaceholderCodec) Encode(claims Claims) (string, error) {
	if err := claims.Check(); err != nil {
		return "", err
	}
	header, err := json.Marshal(placeholderHeader{Alg: "none", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		PlaceholderSignature, nil
}

// Decode implements [Codec].
func (PlaceholderCodec) Decode(tokenString string) (Claims, error) {
	parts, err := splitSegments(tokenString)
	if err != nil {
		return Claims{}, err
	}

	var header map[string]any
	if err := decodeSegment(parts[0], &header); err != nil {
		return Claims{}, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}

	var claims Claims
	if err := decodeSegment(parts[1], &claims); err != nil {
		return Claims{}, fmt.Errorf("%w: claims: %v", ErrMalformed, err)
	}
	if err := claims.Check(); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return claims, nil
}

func splitSegments(tokenString string) ([]string, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformed, len(parts))
	}
	for i, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: segment %d is empty", ErrMalformed, i)
		}
	}
	return parts, nil
}

// decodeSegment accepts unpadded URL-safe base64 as written by Encode and padded
// standard base64 as written by older portal builds.
func decodeSegment(segment string, out any) error {
	raw, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(segment)
		if err != nil {
			raw, err = base64.RawStdEncoding.DecodeString(segment)
			if err != nil {
				return err
			}
		}
	}
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return errSegmentNotObject
	}
	return json.Unmarshal(raw, out)
}
