package shrink

import "bytes"

// Pass is one structural reduction strategy. Apply emits reduced variants of
// input in order; emit returns false to stop early. Variants are always
// fresh slices, candidates are never mutated in place.
type Pass interface {
	Name() string
	Apply(input []byte, emit func([]byte) bool)
}

// DefaultPasses returns the reduction strategies in the order the sweep
// applies them: gross deletion first, then structural deduplication, then
// pointwise value lowering.
func DefaultPasses() []Pass {
	return []Pass{
		blockRemoval{},
		duplicateCollapse{},
		byteLowering{},
	}
}

// blockRemoval deletes aligned contiguous ranges coarse-to-fine: the whole
// input first, then halves, quarters, and so on down to single bytes. This
// is the classic delta-debugging sweep.
type blockRemoval struct{}

func (blockRemoval) Name() string { return "block-removal" }

func (blockRemoval) Apply(input []byte, emit func([]byte) bool) {
	n := len(input)
	for size := n; size >= 1; size /= 2 {
		for start := 0; start+size <= n; start += size {
			variant := make([]byte, 0, n-size)
			variant = append(variant, input[:start]...)
			variant = append(variant, input[start+size:]...)
			if !emit(variant) {
				return
			}
		}
	}
}

// duplicateCollapse removes the second copy of adjacent duplicated
// substrings, widest first. The width is capped: repeats longer than that
// are still collapsed, just over several applications.
type duplicateCollapse struct{}

const maxCollapseWidth = 64

func (duplicateCollapse) Name() string { return "duplicate-collapse" }

func (duplicateCollapse) Apply(input []byte, emit func([]byte) bool) {
	n := len(input)
	maxW := n / 2
	if maxW > maxCollapseWidth {
		maxW = maxCollapseWidth
	}
	for w := maxW; w >= 1; w-- {
		for i := 0; i+2*w <= n; i++ {
			if !bytes.Equal(input[i:i+w], input[i+w:i+2*w]) {
				continue
			}
			variant := make([]byte, 0, n-w)
			variant = append(variant, input[:i+w]...)
			variant = append(variant, input[i+2*w:]...)
			if !emit(variant) {
				return
			}
			i += w - 1
		}
	}
}

// byteLowering replaces single bytes with smaller values, biased toward
// zero: zero is tried first, then the halved value, then the decrement.
type byteLowering struct{}

func (byteLowering) Name() string { return "byte-lowering" }

func (byteLowering) Apply(input []byte, emit func([]byte) bool) {
	for i, b := range input {
		if b == 0 {
			continue
		}
		for _, v := range lowerValues(b) {
			variant := make([]byte, len(input))
			copy(variant, input)
			variant[i] = v
			if !emit(variant) {
				return
			}
		}
	}
}

func lowerValues(b byte) []byte {
	values := []byte{0}
	if half := b / 2; half != 0 {
		values = append(values, half)
	}
	if dec := b - 1; dec != 0 && dec != b/2 {
		values = append(values, dec)
	}
	return values
}
