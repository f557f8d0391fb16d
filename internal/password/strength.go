package password

import "unicode/utf8"

const (
	MinLength   = 12
	LongLength  = 16
	StrongScore = 3
	maxScore    = 4
)

// Strength is the result of evaluating a candidate password
type Strength struct {
	Score    int      `json:"score"`
	Feedback []string `json:"feedback"`
	Strong   bool     `json:"isStrong"`
}

// Evaluate scores a password. Pure function of its input.
func Evaluate(password []byte) Strength {
	// character classes are ASCII only
	var upper, lower, digit bool
	for _, c := range password {
		switch {
		case 'A' <= c && c <= 'Z':
			upper = true
		case 'a' <= c && c <= 'z':
			lower = true
		case '0' <= c && c <= '9':
			digit = true
		}
	}
	length := utf8.RuneCount(password)

	score := 0
	feedback := make([]string, 0, 5)
	check := func(ok bool, hint string) {
		if ok {
			score++
			return
		}
		feedback = append(feedback, hint)
	}

	check(length >= MinLength, "Use at least 12 characters")
	check(upper, "Add at least one uppercase letter")
	check(lower, "Add at least one lowercase letter")
	check(digit, "Add at least one number")
	check(length >= LongLength, "Recommended: 16+ characters")

	return Strength{
		Score:    min(score, maxScore),
		Feedback: feedback,
		Strong:   score >= StrongScore,
	}
}
