package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the request header carrying the provider signature
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance is the maximum accepted clock skew between the provider
// timestamp and the local clock
const DefaultTolerance = 5 * time.Minute

const signingScheme = "v1"

var (
	// ErrMissingHeader is returned when no signature header was sent
	ErrMissingHeader = errors.New("missing signature header")
	// ErrMalformedHeader is returned when the header cannot be parsed
	ErrMalformedHeader = errors.New("malformed signature header")
	// ErrNoValidSignature is returned when no v1 signature matches
	ErrNoValidSignature = errors.New("no valid signature found")
	// ErrTooOld is returned when the timestamp is outside the tolerance
	ErrTooOld = errors.New("timestamp outside tolerance")
)

// Sign returns a signature header for payload at ts
func Sign(payload []byte, secret string, ts time.Time) string {
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,%s=%s", unix, signingScheme, computeSignature(payload, secret, unix))
}

// Verify checks header against payload. A tolerance of zero or less disables
// the timestamp check.
func Verify(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if strings.TrimSpace(header) == "" {
		return ErrMissingHeader
	}

	unix, signatures, err := parseHeader(header)
	if err != nil {
		return err
	}

	if tolerance > 0 {
		skew := now.Sub(time.Unix(unix, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return ErrTooOld
		}
	}

	expected := []byte(computeSignature(payload, secret, unix))
	for _, sig := range signatures {
		if hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}
	return ErrNoValidSignature
}

func parseHeader(header string) (int64, []string, error) {
	var (
		unix       int64
		haveTime   bool
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return 0, nil, ErrMalformedHeader
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: invalid timestamp", ErrMalformedHeader)
			}
			unix = ts
			haveTime = true
		case signingScheme:
			signatures = append(signatures, strings.ToLower(value))
		}
	}
	if !haveTime {
		return 0, nil, fmt.Errorf("%w: no timestamp", ErrMalformedHeader)
	}
	if len(signatures) == 0 {
		return 0, nil, ErrNoValidSignature
	}
	return unix, signatures, nil
}

// computeSignature generates the hex HMAC-SHA256 of "<unix>.<payload>"
func computeSignature(payload []byte, secret string, unix int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(unix, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
