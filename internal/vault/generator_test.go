package vault

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateLengthClamp(t *testing.T) {
	for _, tt := range []struct{ in, want int }{{0, 12}, {5, 12}, {12, 12}, {30, 30}, {64, 64}, {200, 64}} {
		pw, err := Generate(GeneratorOptions{Length: tt.in, Lowercase: true})
		require.NoError(t, err)
		assert.Len(t, pw, tt.want, "length %d", tt.in)
	}
}

func TestGenerateCharacterClasses(t *testing.T) {
	pw, err := Generate(GeneratorOptions{Length: 64, Numbers: true})
	require.NoError(t, err)
	assert.Equal(t, "", strings.Trim(pw, digitChars), "only digits expected")

	pw, err = Generate(GeneratorOptions{Length: 64, Uppercase: true, Symbols: true})
	require.NoError(t, err)
	assert.Equal(t, "", strings.Trim(pw, upperChars+symbolChars))

	// no class selected falls back to lowercase and digits
	pw, err = Generate(GeneratorOptions{Length: 64})
	require.NoError(t, err)
	assert.Equal(t, "", strings.Trim(pw, lowerChars+digitChars))
}

func TestGenerateExcludesAmbiguous(t *testing.T) {
	opts := DefaultGeneratorOptions()
	opts.Length = 64
	opts.ExcludeAmbiguous = true

	for i := 0; i < 20; i++ {
		pw, err := Generate(opts)
		require.NoError(t, err)
		assert.False(t, strings.ContainsAny(pw, ambiguous), pw)
	}
}

func TestGenerateMemorable(t *testing.T) {
	pw, err := GenerateMemorable(1)
	require.NoError(t, err)

	parts := strings.Split(pw, "-")
	require.Len(t, parts, 4, "at least three words plus a number")
	for _, w := range parts[:3] {
		assert.Contains(t, memorableWords, w)
	}
	assert.Len(t, parts[3], 4)

	pw, err = GenerateMemorable(5)
	require.NoError(t, err)
	assert.Len(t, strings.Split(pw, "-"), 6)
}

func TestEntropy(t *testing.T) {
	assert.Equal(t, 0.0, Entropy(""))
	assert.Equal(t, 0.0, Entropy("aaaa"))
	assert.InDelta(t, 4.0, Entropy("abab"), 1e-9)
	assert.InDelta(t, 16*math.Log2(16), Entropy("0123456789abcdef"), 1e-9)
}
