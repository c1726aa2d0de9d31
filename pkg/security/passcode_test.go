package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/confops/pkg/config"
)

var fast = Params{MemoryKB: 1024, Passes: 1, Threads: 1, SaltLen: 16, KeyLen: 32}

func TestHashAndVerify(t *testing.T) {
	hash, err := HashPasscode("plenary-2026", fast)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := VerifyPasscode("plenary-2026", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPasscode("plenary-2025", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := HashPasscode("plenary-2026", fast)
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "salts differ per hash")
}

func TestHashRejectsEmpty(t *testing.T) {
	_, err := HashPasscode("", fast)
	assert.Error(t, err)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plain",
		"$bcrypt$v=19$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!$a2V5",
	} {
		_, err := VerifyPasscode("anything", encoded)
		assert.ErrorIs(t, err, ErrMalformedHash, encoded)
	}
}

func TestNeedsRehash(t *testing.T) {
	hash, err := HashPasscode("plenary-2026", fast)
	require.NoError(t, err)

	assert.False(t, NeedsRehash(hash, fast))
	stronger := fast
	stronger.MemoryKB *= 2
	assert.True(t, NeedsRehash(hash, stronger))
	assert.True(t, NeedsRehash("junk", fast))
}

func TestParamsFromClamps(t *testing.T) {
	p := ParamsFrom(config.PasswordConfig{ArgonMemoryKB: 1, ArgonTime: 99, ArgonParallelism: 0, ArgonSaltLen: 4, ArgonKeyLen: 128})
	assert.Equal(t, Params{MemoryKB: 8, Passes: 10, Threads: 1, SaltLen: 8, KeyLen: 64}, p)
}
