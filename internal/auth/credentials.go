// Package auth implements password credentials, recovery tokens and
// browser sessions for CoachKit accounts.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is the bcrypt cost factor used for password hashing.
const bcryptCost = 12

// MinPasswordLength is the floor for the configurable recovery password length.
const MinPasswordLength = 8

// PasswordHasher abstracts bcrypt operations for testability.
type PasswordHasher interface {
	CompareHashAndPassword(hashedPassword, password string) error
	GenerateFromPassword(password string) (string, error)
}

// bcryptHasher is the production implementation of PasswordHasher.
type bcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a PasswordHasher. A cost of zero uses the default.
func NewBcryptHasher(cost int) PasswordHasher {
	if cost == 0 {
		cost = bcryptCost
	}
	return &bcryptHasher{cost: cost}
}

func (b *bcryptHasher) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func (b *bcryptHasher) GenerateFromPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// HashToken produces a hex-encoded SHA-256 hash of a raw token string.
// Recovery tokens are stored hashed so they stay searchable without the
// plaintext ever reaching the database.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenGenerator abstracts entropy sources for testability.
type TokenGenerator interface {
	GenerateSessionID() (string, error)
	GenerateSecureToken() (string, error)
}

// CryptoTokenGenerator is the production TokenGenerator.
type CryptoTokenGenerator struct {
	// SessionIDPrefix is prepended to generated session IDs.
	SessionIDPrefix string
}

// NewCryptoTokenGenerator creates a CryptoTokenGenerator with the standard
// "sess_" prefix.
func NewCryptoTokenGenerator() *CryptoTokenGenerator {
	return &CryptoTokenGenerator{SessionIDPrefix: sessionPrefix}
}

// GenerateSessionID returns "sess_" followed by a random UUID.
func (g *CryptoTokenGenerator) GenerateSessionID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate session ID: %w", err)
	}
	return g.SessionIDPrefix + id.String(), nil
}

// GenerateSecureToken returns 32 random bytes, hex encoded.
func (g *CryptoTokenGenerator) GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secure token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Credentials issues the credentials of accounts created on a customer's
// behalf: an unusable random password and a recovery token.
type Credentials struct {
	tokens TokenGenerator
	hasher PasswordHasher
}

// NewCredentials creates a Credentials issuer.
func NewCredentials(tokens TokenGenerator, hasher PasswordHasher) *Credentials {
	return &Credentials{tokens: tokens, hasher: hasher}
}

// TemporaryPasswordHash hashes a random password that is discarded
// immediately. The account is only reachable through recovery.
func (c *Credentials) TemporaryPasswordHash() (string, error) {
	password, err := c.tokens.GenerateSecureToken()
	if err != nil {
		return "", err
	}
	// bcrypt ignores input past 72 bytes; a 64 char hex token fits.
	return c.hasher.GenerateFromPassword(password)
}

// NewRecoveryToken returns the plaintext token to mail and its stored hash.
func (c *Credentials) NewRecoveryToken() (string, string, error) {
	token, err := c.tokens.GenerateSecureToken()
	if err != nil {
		return "", "", err
	}
	return token, HashToken(token), nil
}
