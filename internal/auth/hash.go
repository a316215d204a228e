// Package auth verifies annotator credentials against argon2id hashes.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	defaultMemory     = 64 * 1024
	defaultIterations = 3
	defaultThreads    = 1
	defaultSaltLength = 16
	defaultKeyLength  = 32
)

var ErrInvalidHash = errors.New("invalid argon2id hash")

type Argon2idHash struct {
	m    uint32
	t    uint32
	p    uint8
	salt []byte
	sum  []byte
}

// HashPassword returns a PHC-formatted argon2id hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	salt := make([]byte, defaultSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	sum := argon2.IDKey([]byte(password), salt, defaultIterations, defaultMemory, defaultThreads, defaultKeyLength)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		defaultMemory,
		defaultIterations,
		defaultThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

func ParseArgon2idHash(phc string) (*Argon2idHash, error) {
	parts := strings.Split(phc, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, fmt.Errorf("%w: format", ErrInvalidHash)
	}
	if parts[2] != "v=19" {
		return nil, fmt.Errorf("%w: unsupported version %s", ErrInvalidHash, parts[2])
	}
	h := &Argon2idHash{}
	seen := 0
	for _, param := range strings.Split(parts[3], ",") {
		name, raw, ok := strings.Cut(param, "=")
		if !ok {
			return nil, fmt.Errorf("%w: params", ErrInvalidHash)
		}
		bits := 32
		if name == "p" {
			bits = 8
		}
		val, err := strconv.ParseUint(raw, 10, bits)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidHash, name)
		}
		switch name {
		case "m":
			h.m = uint32(val)
		case "t":
			h.t = uint32(val)
		case "p":
			h.p = uint8(val)
		default:
			return nil, fmt.Errorf("%w: unknown param %s", ErrInvalidHash, name)
		}
		seen++
	}
	if seen != 3 {
		return nil, fmt.Errorf("%w: params", ErrInvalidHash)
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, fmt.Errorf("%w: salt", ErrInvalidHash)
	}
	if h.sum, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, fmt.Errorf("%w: sum", ErrInvalidHash)
	}
	return h, nil
}

func (h *Argon2idHash) Verify(password string) bool {
	sum := argon2.IDKey([]byte(password), h.salt, h.t, h.m, h.p, uint32(len(h.sum)))
	return subtle.ConstantTimeCompare(sum, h.sum) == 1
}
