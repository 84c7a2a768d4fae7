package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var errSessionTokenRequired = errors.New("session token required")

// TokenCodec is the one component that creates and interprets session token
// material. Encode mints a fresh opaque token; Decode maps a presented token
// to the key it is stored under. Nothing else parses tokens.
type TokenCodec struct {
	length int
}

// NewTokenCodec returns a codec minting tokens of the given byte length.
// Non-positive lengths fall back to 32 bytes.
func NewTokenCodec(length int) TokenCodec {
	if length <= 0 {
		length = 32
	}
	return TokenCodec{length: length}
}

// Encode mints a new opaque token: the hex encoding of random bytes.
func (c TokenCodec) Encode() (string, error) {
	buf := make([]byte, c.length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Decode maps a presented token to its storage key, the hex SHA-256 digest
// of the token. Tokens are never stored raw, so a leaked store yields no
// presentable credential.
func (c TokenCodec) Decode(token string) (string, error) {
	if token == "" {
		return "", errSessionTokenRequired
	}
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:]), nil
}
