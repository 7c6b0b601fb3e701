package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for derived keys. The version suffix allows the key
// algorithm to change without colliding with old keys.
const (
	DomainFact   = "docrules/fact/v1"
	DomainRunKey = "docrules/run/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// FactKey identifies one resolution of a fact: the fact name plus the params
// it was asked for. Two condition leaves asking for the same fact with equal
// params share a key and therefore a single resolution.
func FactKey(name string, params map[string]any) (string, error) {
	if len(params) == 0 {
		return name, nil
	}
	canonical, err := MarshalCanonical(params)
	if err != nil {
		return "", fmt.Errorf("FactKey: failed to marshal params: %w", err)
	}
	return name + "#" + hashWithDomain(DomainFact, canonical)[:16], nil
}

// RuleSetHash fingerprints a rule set body. Logged with each run so a log
// line can be tied to the exact rule set revision that produced it.
func RuleSetHash(rs RuleSet) (string, error) {
	canonical, err := MarshalCanonical(rs)
	if err != nil {
		return "", fmt.Errorf("RuleSetHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRunKey, canonical), nil
}

// MustFactKey is like FactKey but panics on error.
// Use only in tests or when params are known to be valid.
func MustFactKey(name string, params map[string]any) string {
	key, err := FactKey(name, params)
	if err != nil {
		panic(err)
	}
	return key
}
