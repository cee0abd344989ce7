package types

import (
	"fmt"
	"sort"
	"strings"
)

// Signature is the set of labels summarizing one classification of an input.
// The empty signature is the discard sentinel: crashes and timeouts produce
// it, and the engine never tracks such inputs.
type Signature []string

// Discard is the sentinel signature for outcomes that are not shrink targets.
var Discard = Signature{}

// NewSignature builds a sorted, deduplicated signature from labels.
func NewSignature(labels ...string) Signature {
	seen := make(map[string]struct{}, len(labels))
	sig := make(Signature, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		sig = append(sig, l)
	}
	sort.Strings(sig)
	return sig
}

func (s Signature) IsDiscard() bool {
	return len(s) == 0
}

// Key returns a stable string form usable as a map key or for persistence.
func (s Signature) Key() string {
	return strings.Join(s, " ")
}

func (s Signature) Equal(other Signature) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// ParseSignature is the inverse of Key. An empty key parses to the discard
// sentinel.
func ParseSignature(key string) Signature {
	if key == "" {
		return Discard
	}
	return NewSignature(strings.Split(key, " ")...)
}

// ReturnLabel is the label family for the target's exit status.
func ReturnLabel(code int) string {
	return fmt.Sprintf("return-%d", code)
}

// OutputLabel is the label family for the target's output artifact. An empty
// digest means the target produced no output file, which is itself a
// distinguishing signal.
func OutputLabel(digest string) string {
	if digest == "" {
		return "output-none"
	}
	return "output-" + digest
}

// CorpusEvent mirrors one corpus notification for external consumers.
type CorpusEvent struct {
	Kind        string   `json:"kind"` // added, removed, changed, unstable
	Labels      []string `json:"labels,omitempty"`
	Fingerprint string   `json:"fingerprint"`
	Size        int      `json:"size"`
}
