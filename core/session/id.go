package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

// IDGenerator produces new session identifiers.
type IDGenerator interface {
	GenerateID() (string, error)
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func() (string, error)

// GenerateID calls f.
func (f IDGeneratorFunc) GenerateID() (string, error) { return f() }

// RandomIDGenerator returns 32 bytes from crypto/rand encoded as unpadded base64url.
// The result is safe for cookies and headers without further escaping.
type RandomIDGenerator struct{}

// GenerateID implements IDGenerator.
func (RandomIDGenerator) GenerateID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Join(ErrIDGeneration, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// UUIDGenerator returns random (v4) UUID strings.
type UUIDGenerator struct{}

// GenerateID implements IDGenerator.
func (UUIDGenerator) GenerateID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", errors.Join(ErrIDGeneration, err)
	}
	return id.String(), nil
}

var defaultIDGenerator IDGenerator = RandomIDGenerator{}
