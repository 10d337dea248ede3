package billing

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

// Signature header format: "t=<unix>,v1=<hex hmac>" where the MAC covers
// "<unix>.<raw body>" with the shared provider secret.

var (
	ErrSignatureMissing   = errors.New("signature header missing")
	ErrSignatureMalformed = errors.New("signature header malformed")
	ErrSignatureExpired   = errors.New("signature timestamp outside tolerance")
	ErrSignatureMismatch  = errors.New("signature mismatch")
)

// SignBody computes the v1 signature for a raw body at the given timestamp.
func SignBody(secret []byte, ts time.Time, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = fmt.Fprintf(mac, "%d.", ts.Unix())
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader renders a complete header value for a body, used by tests
// and by the provider simulator.
func SignatureHeader(secret []byte, ts time.Time, body []byte) string {
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), SignBody(secret, ts, body))
}

// VerifySignature checks a provider signature header against the raw body.
func VerifySignature(secret []byte, header string, body []byte, now time.Time, tolerance time.Duration) error {
	if header == "" {
		return ErrSignatureMissing
	}
	var tsPart, sigPart string
	for _, field := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			return ErrSignatureMalformed
		}
		switch k {
		case "t":
			tsPart = v
		case "v1":
			sigPart = v
		}
	}
	if tsPart == "" || sigPart == "" {
		return ErrSignatureMalformed
	}
	unix, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return ErrSignatureMalformed
	}
	ts := time.Unix(unix, 0)
	if tolerance > 0 {
		drift := now.Sub(ts)
		if drift < 0 {
			drift = -drift
		}
		if drift > tolerance {
			return ErrSignatureExpired
		}
	}
	expected := SignBody(secret, ts, body)
	if !hmac.Equal([]byte(expected), []byte(sigPart)) {
		return ErrSignatureMismatch
	}
	return nil
}
