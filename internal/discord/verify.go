package discord

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

var (
	ErrMissingSignature = errors.New("missing discord signature")
	ErrInvalidSignature = errors.New("invalid discord signature")
	ErrStaleTimestamp   = errors.New("stale discord timestamp")
)

// ParsePublicKey decodes the application's hex encoded public key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, errors.New("invalid discord public key size")
	}
	return ed25519.PublicKey(b), nil
}

// VerifySignature checks an interaction request against the application key.
func VerifySignature(key ed25519.PublicKey, signature, timestamp string, body []byte, now time.Time) error {
	if signature == "" || timestamp == "" {
		return ErrMissingSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	requestTime := time.Unix(ts, 0)
	if now.Sub(requestTime) > 5*time.Minute || requestTime.Sub(now) > 5*time.Minute {
		return ErrStaleTimestamp
	}

	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}

	msg := append([]byte(timestamp), body...)
	if !ed25519.Verify(key, msg, sig) {
		return ErrInvalidSignature
	}
	return nil
}
