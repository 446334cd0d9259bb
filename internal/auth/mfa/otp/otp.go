// Package otp implements HOTP (RFC 4226) and TOTP (RFC 6238) with
// HMAC-SHA1 and 6-digit codes.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // G505: RFC 4226 mandates HMAC-SHA1
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Code parameters.
const (
	Digits = 6
	Period = 30 * time.Second
	// Skew is how many periods before and after now are accepted.
	Skew = 1

	secretBytes = 20
)

// ErrInvalidSecret is returned for secrets that are not base32.
var ErrInvalidSecret = errors.New("invalid otp secret")

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewSecret returns a random base32 secret.
func NewSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating otp secret: %w", err)
	}
	return b32.EncodeToString(raw), nil
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.TrimRight(strings.ReplaceAll(secret, " ", ""), "="))
	raw, err := b32.DecodeString(s)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSecret, secret)
	}
	return raw, nil
}

// HOTP returns the code for counter.
func HOTP(secret string, counter uint64) (string, error) {
	raw, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotpCode(raw, counter), nil
}

func hotpCode(secret []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	return fmt.Sprintf("%0*d", Digits, bin%1_000_000)
}

// VerifyHOTP checks code against counter exactly.
func VerifyHOTP(secret, code string, counter uint64) (bool, error) {
	want, err := HOTP(secret, counter)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(normalize(code))) == 1, nil
}

// TOTP returns the code for the period containing t.
func TOTP(secret string, t time.Time) (string, error) {
	return HOTP(secret, timeCounter(t))
}

// VerifyTOTP checks code against the period containing now and Skew
// periods on either side. Every candidate is compared.
func VerifyTOTP(secret, code string, now time.Time) (bool, error) {
	raw, err := decodeSecret(secret)
	if err != nil {
		return false, err
	}
	code = normalize(code)
	base := timeCounter(now)

	match := 0
	for step := -Skew; step <= Skew; step++ {
		c := int64(base) + int64(step) //nolint:gosec // G115: unix periods fit int64
		if c < 0 {
			continue
		}
		match |= subtle.ConstantTimeCompare([]byte(hotpCode(raw, uint64(c))), []byte(code)) //nolint:gosec // G115: c is non-negative
	}
	return match == 1, nil
}

func timeCounter(t time.Time) uint64 {
	return uint64(t.Unix() / int64(Period/time.Second)) //nolint:gosec // G115: times before 1970 are not used
}

func normalize(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), " ", "")
}

// ProvisionURI returns the otpauth:// URI authenticator apps scan.
func ProvisionURI(secret, account, issuer string) string {
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(int(Period/time.Second)))
	v.Set("digits", strconv.Itoa(Digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}
