package vault

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strings"
)

const (
	MinGeneratedLength = 12
	MaxGeneratedLength = 64
	minMemorableWords  = 3
)

const (
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()_+-=[]{}|;:,.<>?"
	ambiguous   = "0Ool1I"
)

var memorableWords = []string{
	"orbit", "signal", "forest", "amber", "cipher",
	"voyage", "delta", "harbor", "silent", "matrix",
}

// GeneratorOptions selects the alphabet and length of a random password
type GeneratorOptions struct {
	Length           int  `json:"length"`
	Uppercase        bool `json:"uppercase"`
	Lowercase        bool `json:"lowercase"`
	Numbers          bool `json:"numbers"`
	Symbols          bool `json:"symbols"`
	ExcludeAmbiguous bool `json:"excludeAmbiguous"`
}

// DefaultGeneratorOptions returns a 20 character mixed alphabet
func DefaultGeneratorOptions() GeneratorOptions {
	return GeneratorOptions{Length: 20, Uppercase: true, Lowercase: true, Numbers: true, Symbols: true}
}

// Generate returns a random password. Length is clamped to 12..64; with no
// class selected lowercase letters and digits are used.
func Generate(opts GeneratorOptions) (string, error) {
	var charset strings.Builder
	if opts.Uppercase {
		charset.WriteString(upperChars)
	}
	if opts.Lowercase {
		charset.WriteString(lowerChars)
	}
	if opts.Numbers {
		charset.WriteString(digitChars)
	}
	if opts.Symbols {
		charset.WriteString(symbolChars)
	}
	chars := charset.String()
	if chars == "" {
		chars = lowerChars + digitChars
	}
	if opts.ExcludeAmbiguous {
		chars = strings.Map(func(r rune) rune {
			if strings.ContainsRune(ambiguous, r) {
				return -1
			}
			return r
		}, chars)
	}

	length := max(MinGeneratedLength, min(MaxGeneratedLength, opts.Length))
	out := make([]byte, length)
	for i := range out {
		n, err := randomInt(len(chars))
		if err != nil {
			return "", err
		}
		out[i] = chars[n]
	}
	return string(out), nil
}

// GenerateMemorable returns at least three dictionary words joined by
// dashes with a four digit suffix.
func GenerateMemorable(words int) (string, error) {
	words = max(minMemorableWords, words)

	parts := make([]string, 0, words+1)
	for i := 0; i < words; i++ {
		n, err := randomInt(len(memorableWords))
		if err != nil {
			return "", err
		}
		parts = append(parts, memorableWords[n])
	}

	n, err := randomInt(9000)
	if err != nil {
		return "", err
	}
	parts = append(parts, fmt.Sprintf("%d", 1000+n))
	return strings.Join(parts, "-"), nil
}

// Entropy estimates password entropy in bits as length * log2(distinct symbols)
func Entropy(password string) float64 {
	distinct := make(map[rune]struct{})
	length := 0
	for _, r := range password {
		distinct[r] = struct{}{}
		length++
	}
	if len(distinct) == 0 {
		return 0
	}
	return float64(length) * math.Log2(float64(len(distinct)))
}

func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random number: %w", err)
	}
	return int(v.Int64()), nil
}
