package util

import (
	"regexp"

	"github.com/google/uuid"
)

const (
	MinVerificationCodeLength = 4
	MaxVerificationCodeLength = 8
)

var phoneRegex = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// IsValidSessionID accepts canonical UUID strings only.
func IsValidSessionID(s string) bool {
	if s == "" {
		return false
	}
	id, err := uuid.Parse(s)
	return err == nil && id.String() == s
}

// IsNumericCode reports whether code is made only of ASCII digits and its
// length is within [min, max].
func IsNumericCode(code string, min, max int) bool {
	if len(code) < min || len(code) > max {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func IsValidVerificationCode(code string) bool {
	return IsNumericCode(code, MinVerificationCodeLength, MaxVerificationCodeLength)
}

func IsValidPhone(phone string) bool {
	return phoneRegex.MatchString(phone)
}
