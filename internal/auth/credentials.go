package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Role identifies the authorization level attached to a session.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleViewer
}

const (
	secretHashSaltLength = 16
	secretHashIterations = 120000
	secretHashKeyLength  = 32
)

var (
	// ErrInvalidCredentials is returned when a submitted secret matches no role.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSharedSecret is returned at startup when two roles are configured
	// with the same secret, which would make role resolution ambiguous.
	ErrSharedSecret = errors.New("admin and viewer secrets must differ")
)

type roleSecret struct {
	role Role
	hash string
}

// Verifier maps a submitted secret to a role. Only salted one-way hashes of
// the configured secrets are retained for the process lifetime.
type Verifier struct {
	secrets []roleSecret
}

// NewVerifier hashes the configured role secrets and returns a Verifier.
// Both secrets are required and must differ; a shared secret is a
// configuration error, not something resolved at request time.
func NewVerifier(adminSecret, viewerSecret string) (*Verifier, error) {
	if adminSecret == "" {
		return nil, errors.New("admin secret is required")
	}
	if viewerSecret == "" {
		return nil, errors.New("viewer secret is required")
	}
	if adminSecret == viewerSecret {
		return nil, ErrSharedSecret
	}
	adminHash, err := hashSecret(adminSecret)
	if err != nil {
		return nil, fmt.Errorf("hash admin secret: %w", err)
	}
	viewerHash, err := hashSecret(viewerSecret)
	if err != nil {
		return nil, fmt.Errorf("hash viewer secret: %w", err)
	}
	return &Verifier{secrets: []roleSecret{
		{role: RoleAdmin, hash: adminHash},
		{role: RoleViewer, hash: viewerHash},
	}}, nil
}

// Verify compares the submitted secret against each configured role hash in
// order, admin first, and returns the first matching role.
func (v *Verifier) Verify(secret string) (Role, bool) {
	if v == nil || secret == "" {
		return "", false
	}
	for _, candidate := range v.secrets {
		if verifySecret(candidate.hash, secret) == nil {
			return candidate.role, true
		}
	}
	return "", false
}

func hashSecret(secret string) (string, error) {
	salt := make([]byte, secretHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	derived := pbkdf2.Key([]byte(secret), salt, secretHashIterations, secretHashKeyLength, sha256.New)
	encodedSalt := base64.RawStdEncoding.EncodeToString(salt)
	encodedKey := base64.RawStdEncoding.EncodeToString(derived)
	return fmt.Sprintf("pbkdf2$sha256$%d$%s$%s", secretHashIterations, encodedSalt, encodedKey), nil
}

func verifySecret(encodedHash, candidate string) error {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 5 {
		return fmt.Errorf("verify secret: invalid hash format")
	}
	if parts[0] != "pbkdf2" || parts[1] != "sha256" {
		return fmt.Errorf("verify secret: unsupported hash identifier")
	}
	iterations, err := strconv.Atoi(parts[2])
	if err != nil || iterations <= 0 {
		return fmt.Errorf("verify secret: invalid iteration count")
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return fmt.Errorf("verify secret: decode salt: %w", err)
	}
	storedKey, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("verify secret: decode hash: %w", err)
	}
	derived := pbkdf2.Key([]byte(candidate), salt, iterations, len(storedKey), sha256.New)
	if len(derived) != len(storedKey) || subtle.ConstantTimeCompare(derived, storedKey) != 1 {
		return ErrInvalidCredentials
	}
	return nil
}
