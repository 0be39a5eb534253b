package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Lower bounds enforced on configuration and on stored hashes.
const (
	minMemoryKB   uint32 = 8 * 1024
	minSaltLength        = 16
	minKeyLength  uint32 = 16
)

var errMalformedArgon2 = errors.New("malformed argon2id hash")

// b64 is the unpadded alphabet PHC strings use.
var b64 = base64.RawStdEncoding

// Argon2Config tunes argon2id. Memory is in KiB. Zero fields take the
// values of DefaultArgon2Config.
type Argon2Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Config is 64 MiB, 3 passes, 2 lanes, 16 byte salt and 32
// byte key.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

func (c Argon2Config) withDefaults() Argon2Config {
	d := DefaultArgon2Config()
	pick := func(v, def uint32) uint32 {
		if v == 0 {
			return def
		}
		return v
	}
	c.Memory = pick(c.Memory, d.Memory)
	c.Time = pick(c.Time, d.Time)
	c.SaltLength = pick(c.SaltLength, d.SaltLength)
	c.KeyLength = pick(c.KeyLength, d.KeyLength)
	if c.Parallelism == 0 {
		c.Parallelism = d.Parallelism
	}
	return c
}

func (c Argon2Config) validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("argon2 memory must be >= %d KiB", minMemoryKB)
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("argon2 salt length must be >= %d", minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("argon2 key length must be >= %d", minKeyLength)
	}
	return nil
}

// Argon2 hashes with argon2id into PHC strings of the form
// $argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<key>.
type Argon2 struct {
	params Argon2Config
}

// NewArgon2 fills zero fields of cfg with defaults and validates the result.
func NewArgon2(cfg Argon2Config) (*Argon2, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{params: cfg}, nil
}

func (a *Argon2) Hash(password string) (string, error) {
	salt := make([]byte, a.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, a.params.Time, a.params.Memory, a.params.Parallelism, a.params.KeyLength)
	return encodeArgon2(a.params, salt, key), nil
}

// Verify accepts any supported format so stored bcrypt hashes keep working
// after a switch to argon2id.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	return Verify(password, encodedHash)
}

// NeedsRehash is true for hashes this Argon2 cannot parse and for hashes
// made with weaker parameters or a different key length.
func (a *Argon2) NeedsRehash(encodedHash string) bool {
	stored, _, _, err := decodeArgon2(encodedHash)
	if err != nil {
		return true
	}
	return stored.Memory < a.params.Memory ||
		stored.Time < a.params.Time ||
		stored.Parallelism < a.params.Parallelism ||
		stored.KeyLength != a.params.KeyLength
}

func verifyArgon2(password, encodedHash string) (bool, error) {
	p, salt, want, err := decodeArgon2(encodedHash)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func encodeArgon2(p Argon2Config, salt, key []byte) string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		AlgorithmArgon2id, argon2.Version, p.Memory, p.Time, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key))
}

// decodeArgon2 returns the parameters, salt and key of a PHC string.
// KeyLength and SaltLength are taken from the decoded bytes.
func decodeArgon2(encoded string) (Argon2Config, []byte, []byte, error) {
	var p Argon2Config
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != AlgorithmArgon2id {
		return p, nil, nil, errMalformedArgon2
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return p, nil, nil, fmt.Errorf("%w: version: %v", errMalformedArgon2, err)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: unsupported version %d", errMalformedArgon2, version)
	}

	var lanes uint32
	n, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &lanes)
	if err != nil || n != 3 || fmt.Sprintf("m=%d,t=%d,p=%d", p.Memory, p.Time, lanes) != fields[3] {
		return p, nil, nil, fmt.Errorf("%w: parameters %q", errMalformedArgon2, fields[3])
	}
	if p.Memory < minMemoryKB || p.Time == 0 || lanes == 0 || lanes > 255 {
		return p, nil, nil, fmt.Errorf("%w: parameters out of range", errMalformedArgon2)
	}
	p.Parallelism = uint8(lanes)

	salt, err := b64.DecodeString(fields[4])
	if err != nil || len(salt) < minSaltLength {
		return p, nil, nil, fmt.Errorf("%w: salt", errMalformedArgon2)
	}
	key, err := b64.DecodeString(fields[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("%w: key", errMalformedArgon2)
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
