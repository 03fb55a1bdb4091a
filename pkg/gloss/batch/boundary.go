package batch

import (
	"fmt"

	"github.com/cognicore/gloss/pkg/gloss/token"
)

// Batch is the ephemeral unit of dispatch: a closed token range, the word
// positions it owns, and a stable segment identifier. Batches are rebuilt
// deterministically from the token sequence every run and never persisted.
type Batch struct {
	Index      int // 1-based
	StartToken int // inclusive
	EndToken   int // inclusive

	// WordKeys holds the owned word positions in ascending order. Empty for
	// a range with no word tokens.
	WordKeys []int

	SegmentID    string
	StartWordKey int
	EndWordKey   int
}

// Empty reports whether the batch owns no word positions. Empty batches are
// vacuously processed: StartWordKey exceeds EndWordKey by construction.
func (b Batch) Empty() bool { return len(b.WordKeys) == 0 }

// Text reconstructs the exact batch text from the token sequence.
func (b Batch) Text(tokens []token.Token) string {
	return token.Join(tokens, b.StartToken, b.EndToken)
}

// SegmentID derives the stable segment identifier for a word range.
func SegmentID(startKey, endKey int) string {
	return fmt.Sprintf("seg-%d-%d", startKey, endKey)
}

// Boundaries derives one Batch per consecutive split-point pair. The ranges
// cover the token sequence with no gap or overlap, and the word keys across
// all batches partition 1..totalWords in order.
func Boundaries(tokens []token.Token, splitPoints []int) []Batch {
	batches := make([]Batch, 0, len(splitPoints))
	start := 0
	prevWord := 0

	for i, end := range splitPoints {
		b := Batch{
			Index:      i + 1,
			StartToken: start,
			EndToken:   end,
		}
		for j := start; j <= end && j < len(tokens); j++ {
			if tokens[j].IsWord() {
				wp := tokens[j].WordPos
				b.WordKeys = append(b.WordKeys, wp)
				if b.StartWordKey == 0 {
					b.StartWordKey = wp
				}
				b.EndWordKey = wp
			}
		}
		if len(b.WordKeys) == 0 {
			// Punctuation-only trailing range: synthesize an empty word range
			// anchored just past the previous batch's last word.
			b.StartWordKey = prevWord + 1
			b.EndWordKey = b.StartWordKey - 1
		} else {
			prevWord = b.EndWordKey
		}
		b.SegmentID = SegmentID(b.StartWordKey, b.EndWordKey)
		batches = append(batches, b)
		start = end + 1
	}

	return batches
}
