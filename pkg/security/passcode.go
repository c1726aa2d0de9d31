// Package security hashes the shared role passcodes with argon2id, encoded in
// the PHC string format so parameters travel with each hash.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/angelmondragon/confops/pkg/config"
)

var ErrMalformedHash = errors.New("security: malformed argon2id hash")

var b64 = base64.RawStdEncoding

type Params struct {
	MemoryKB uint32
	Passes   uint32
	Threads  uint8
	SaltLen  uint32
	KeyLen   uint32
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// ParamsFrom bounds cfg so a bad env value cannot yield a trivially weak or
// memory-exhausting hash.
func ParamsFrom(cfg config.PasswordConfig) Params {
	return Params{
		MemoryKB: uint32(clamp(cfg.ArgonMemoryKB, 8, 512*1024)),
		Passes:   uint32(clamp(cfg.ArgonTime, 1, 10)),
		Threads:  uint8(clamp(cfg.ArgonParallelism, 1, 255)),
		SaltLen:  uint32(clamp(cfg.ArgonSaltLen, 8, 64)),
		KeyLen:   uint32(clamp(cfg.ArgonKeyLen, 16, 64)),
	}
}

func (p Params) key(secret string, salt []byte) []byte {
	return argon2.IDKey([]byte(secret), salt, p.Passes, p.MemoryKB, p.Threads, p.KeyLen)
}

// HashPasscode returns $argon2id$v=19$m=..,t=..,p=..$salt$key.
func HashPasscode(secret string, p Params) (string, error) {
	if secret == "" {
		return "", errors.New("security: empty passcode")
	}
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("security: salt: %w", err)
	}
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.MemoryKB, p.Passes, p.Threads,
		b64.EncodeToString(salt), b64.EncodeToString(p.key(secret, salt))), nil
}

// VerifyPasscode compares in constant time. A malformed hash is an error, a
// wrong passcode is just false.
func VerifyPasscode(secret, encoded string) (bool, error) {
	p, salt, want, err := parse(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(p.key(secret, salt), want) == 1, nil
}

// NeedsRehash reports whether encoded was made with weaker settings than p.
func NeedsRehash(encoded string, p Params) bool {
	got, _, _, err := parse(encoded)
	if err != nil {
		return true
	}
	return got.MemoryKB < p.MemoryKB || got.Passes < p.Passes || got.KeyLen < p.KeyLen
}

func parse(encoded string) (Params, []byte, []byte, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return Params{}, nil, nil, ErrMalformedHash
	}
	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Params{}, nil, nil, ErrMalformedHash
	}
	var p Params
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.MemoryKB, &p.Passes, &p.Threads); err != nil {
		return Params{}, nil, nil, ErrMalformedHash
	}
	if p.MemoryKB == 0 || p.Passes == 0 || p.Threads == 0 {
		return Params{}, nil, nil, ErrMalformedHash
	}
	salt, err := b64.DecodeString(fields[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, ErrMalformedHash
	}
	key, err := b64.DecodeString(fields[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, ErrMalformedHash
	}
	p.SaltLen, p.KeyLen = uint32(len(salt)), uint32(len(key))
	return p, salt, key, nil
}
