package password

import (
	"errors"
	"fmt"
	"strings"
)

// Algorithm names accepted by [New].
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// ErrUnknownFormat is returned for stored hashes no Hasher recognises.
var ErrUnknownFormat = errors.New("unknown password hash format")

// Hasher produces encoded hashes and checks passwords against them.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	// NeedsRehash reports whether encodedHash should be replaced by a
	// fresh Hash on the next successful sign-in.
	NeedsRehash(encodedHash string) bool
}

// Config selects and tunes a Hasher.
type Config struct {
	Algorithm  string
	BcryptCost int
	Argon2     Argon2Config
}

// New builds the Hasher named by cfg.Algorithm. An empty name means bcrypt.
func New(cfg Config) (Hasher, error) {
	switch strings.ToLower(cfg.Algorithm) {
	case "", AlgorithmBcrypt:
		return NewBcrypt(cfg.BcryptCost)
	case AlgorithmArgon2id:
		return NewArgon2(cfg.Argon2)
	default:
		return nil, fmt.Errorf("unsupported password algorithm %q", cfg.Algorithm)
	}
}

// Verify checks password against a hash produced by any supported
// algorithm.
func Verify(password, encodedHash string) (bool, error) {
	switch {
	case isBcrypt(encodedHash):
		return verifyBcrypt(password, encodedHash)
	case strings.HasPrefix(encodedHash, "$"+AlgorithmArgon2id+"$"):
		return verifyArgon2(password, encodedHash)
	default:
		return false, ErrUnknownFormat
	}
}
