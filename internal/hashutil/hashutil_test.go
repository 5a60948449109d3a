package hashutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashBytes(t *testing.T) {
	got := HashBytes([]byte("abc"))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", got)
	assert.Len(t, got, 64)
}

func TestHashStringsSeparatesParts(t *testing.T) {
	assert.NotEqual(t, HashStrings("ab", "c"), HashStrings("a", "bc"))
	assert.Equal(t, HashStrings("x", "y"), HashStrings("x", "y"))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("abcd", "abcd"))
	assert.False(t, Equal("abcd", "abce"))
	assert.False(t, Equal("abc", "abcd"))
}
