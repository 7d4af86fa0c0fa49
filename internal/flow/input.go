package flow

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxLocalCoinSwapIDLength keeps "ref_" + base64 of the id within Telegram's 64 char deep link limit
const MaxLocalCoinSwapIDLength = 32

// DefaultMinLocalCoinSwapIDLength is used when no minimum is configured
const DefaultMinLocalCoinSwapIDLength = 3

const referralPayloadPrefix = "ref_"

var (
	ErrEmptyInput         = errors.New("input is empty")
	ErrContainsWhitespace = errors.New("input contains whitespace")
	ErrTooShort           = errors.New("input is too short")
	ErrTooLong            = errors.New("input is too long")
)

// NormalizeXHandle trims the handle and strips a leading @
func NormalizeXHandle(text string) (string, error) {
	handle := strings.TrimSpace(text)
	handle = strings.TrimPrefix(handle, "@")
	if handle == "" {
		return "", ErrEmptyInput
	}
	if strings.IndexFunc(handle, unicode.IsSpace) >= 0 {
		return "", ErrContainsWhitespace
	}
	return handle, nil
}

// ValidateLocalCoinSwapID checks an external id: non-empty, no embedded whitespace, length within bounds
func ValidateLocalCoinSwapID(text string, minLength int) (string, error) {
	if minLength <= 0 {
		minLength = DefaultMinLocalCoinSwapIDLength
	}
	id := strings.TrimSpace(text)
	if id == "" {
		return "", ErrEmptyInput
	}
	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return "", ErrContainsWhitespace
	}
	n := utf8.RuneCountInString(id)
	if n < minLength {
		return "", fmt.Errorf("%w: minimum is %d characters", ErrTooShort, minLength)
	}
	if len(id) > MaxLocalCoinSwapIDLength {
		return "", fmt.Errorf("%w: maximum is %d characters", ErrTooLong, MaxLocalCoinSwapIDLength)
	}
	return id, nil
}

// ReferralCode derives the referral code from a LocalCoinSwap id
func ReferralCode(localCoinSwapID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(localCoinSwapID))
}

// ReferralLink builds the deep link a user shares with others
func ReferralLink(botUsername, code string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s%s", botUsername, referralPayloadPrefix, code)
}

// ParseStartPayload extracts a referral code from a /start payload
func ParseStartPayload(payload string) (string, bool) {
	payload = strings.TrimSpace(payload)
	if !strings.HasPrefix(payload, referralPayloadPrefix) {
		return "", false
	}
	code := strings.TrimPrefix(payload, referralPayloadPrefix)
	if code == "" {
		return "", false
	}
	if _, err := base64.RawURLEncoding.DecodeString(code); err != nil {
		return "", false
	}
	return code, true
}
