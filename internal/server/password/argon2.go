// Package password hashes and verifies account passwords with argon2id.
// Digests are self-describing PHC strings, so parameters can be raised later
// without invalidating stored hashes.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

const (
	minMemoryKB   uint32 = 8 * 1024
	minTime       uint32 = 1
	minThreads    uint8  = 1
	minSaltLength uint32 = 16
	minKeyLength  uint32 = 16
)

// Params are the argon2id cost parameters. Memory is in KiB.
type Params struct {
	Memory     uint32
	Time       uint32
	Threads    uint8
	SaltLength uint32
	KeyLength  uint32
}

// DefaultParams follow the RFC 9106 second recommended option.
func DefaultParams() Params {
	return Params{
		Memory:     64 * 1024,
		Time:       1,
		Threads:    4,
		SaltLength: 16,
		KeyLength:  32,
	}
}

// Argon2 implements Hash/Verify. It holds no mutable state and is safe for
// concurrent use.
type Argon2 struct {
	params Params
	rand   io.Reader
}

// NewArgon2 validates params and returns a hasher.
func NewArgon2(p Params) (*Argon2, error) {
	switch {
	case p.Memory < minMemoryKB:
		return nil, fmt.Errorf("argon2 memory must be at least %d KiB", minMemoryKB)
	case p.Time < minTime:
		return nil, errors.New("argon2 time must be at least 1")
	case p.Threads < minThreads:
		return nil, errors.New("argon2 threads must be at least 1")
	case p.SaltLength < minSaltLength:
		return nil, fmt.Errorf("salt length must be at least %d bytes", minSaltLength)
	case p.KeyLength < minKeyLength:
		return nil, fmt.Errorf("key length must be at least %d bytes", minKeyLength)
	}
	return &Argon2{params: p, rand: rand.Reader}, nil
}

// Hash derives a digest of password under a fresh random salt.
func (a *Argon2) Hash(password string) (string, error) {
	salt := make([]byte, a.params.SaltLength)
	if _, err := io.ReadFull(a.rand, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, a.params.Time, a.params.Memory, a.params.Threads, a.params.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		a.params.Memory,
		a.params.Time,
		a.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches digest. A digest that cannot be
// parsed never matches.
func (a *Argon2) Verify(password, digest string) bool {
	d, err := decode(digest)
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(password), d.salt, d.params.Time, d.params.Memory, d.params.Threads, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(key, d.key) == 1
}

type decoded struct {
	params Params
	salt   []byte
	key    []byte
}

// decode parses "$argon2id$v=19$m=65536,t=1,p=4$<salt>$<key>".
func decode(digest string) (*decoded, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	d := &decoded{}
	for _, kv := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, errors.New("invalid parameter entry")
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid parameter %q", name)
		}
		switch name {
		case "m":
			d.params.Memory = uint32(n)
		case "t":
			d.params.Time = uint32(n)
		case "p":
			if n > 255 {
				return nil, errors.New("invalid parallelism")
			}
			d.params.Threads = uint8(n)
		default:
			return nil, fmt.Errorf("unknown parameter %q", name)
		}
	}
	if d.params.Memory < minMemoryKB || d.params.Time < minTime || d.params.Threads < minThreads {
		return nil, errors.New("parameters below minimum")
	}

	var err error
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(d.salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt")
	}
	if d.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(d.key) < int(minKeyLength) {
		return nil, errors.New("invalid key")
	}
	return d, nil
}
