package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash computes the optimistic-concurrency token for a production: a SHA-256
// over the compact JSON encoding. encoding/json emits struct fields in
// declaration order, so the serialization is canonical for equal trees.
func (p *Production) Hash() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal production: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Clone returns a deep copy of the production via a JSON round trip. Used by
// in-memory stores and tests so callers can mutate trees independently.
func (p *Production) Clone() (*Production, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal production: %w", err)
	}
	var out Production
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal production: %w", err)
	}
	return &out, nil
}
