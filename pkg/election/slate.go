package election

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/tiller/pkg/contracts"
)

// normalizeSlate returns the canonical form of a ballot: candidates
// sorted lexicographically with duplicates and sentinel entries removed.
// Full locked weight goes to every named candidate once (bloc voting),
// so duplicates carry no meaning.
func normalizeSlate(candidates []contracts.Address) []contracts.Address {
	seen := make(map[contracts.Address]struct{}, len(candidates))
	out := make([]contracts.Address, 0, len(candidates))
	for _, c := range candidates {
		if c == contracts.AddressNone {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SlateID returns the deterministic identifier of a normalized slate:
// SHA-256 over the RFC 8785 canonical JSON array of candidate addresses.
func SlateID(candidates []contracts.Address) (string, error) {
	normalized := normalizeSlate(candidates)
	names := make([]string, len(normalized))
	for i, c := range normalized {
		names[i] = string(c)
	}

	raw, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("slate id: marshal: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("slate id: canonicalize: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
