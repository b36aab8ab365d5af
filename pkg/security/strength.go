// Package security scores the health of stored passwords: strength,
// reuse, rotation age and metadata coverage.
package security

// Strength is the quality level of a single password.
type Strength int

const (
	// StrengthWeak marks passwords under 8 characters.
	StrengthWeak Strength = iota
	// StrengthFair marks minimally acceptable passwords.
	StrengthFair
	// StrengthGood marks passwords of 14 characters or more.
	StrengthGood
	// StrengthStrong marks passwords of 20 characters or more.
	StrengthStrong
)

// String returns a human-readable label for the strength level.
func (s Strength) String() string {
	switch s {
	case StrengthWeak:
		return "Weak"
	case StrengthFair:
		return "Fair"
	case StrengthGood:
		return "Good"
	case StrengthStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// points returns the contribution of this level to the strength
// component: Weak=0, Fair=8, Good=17, Strong=25.
func (s Strength) points() int {
	switch s {
	case StrengthFair:
		return 8
	case StrengthGood:
		return 17
	case StrengthStrong:
		return 25
	default:
		return 0
	}
}

// Classify rates a password by length. Length is the primary factor per
// NIST SP 800-63B; composition rules are not enforced.
func Classify(password string) Strength {
	switch length := len(password); {
	case length >= 20:
		return StrengthStrong
	case length >= 14:
		return StrengthGood
	case length >= 8:
		return StrengthFair
	default:
		return StrengthWeak
	}
}
