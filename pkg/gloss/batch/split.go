// Package batch partitions a token sequence into contiguous, non-overlapping
// batches near a target word count, preferring natural breakpoints.
//
// The split points are token indices. Concatenating the closed ranges
// [0,p1], [p1+1,p2], ..., [p_{n-1}+1,len-1] reconstructs the full token
// sequence, and the word positions those ranges contain partition
// 1..totalWords in order.
package batch

import (
	"github.com/cognicore/gloss/pkg/gloss/token"
)

// Params controls the boundary search.
type Params struct {
	// TargetWords is the word count each batch aims for.
	TargetWords int
	// BackwardRange and ForwardRange bound the search window, in word
	// positions, around the target position.
	BackwardRange int
	ForwardRange  int
}

// Boundary preference, lower is better. Tokens that score negative do not
// qualify as boundaries.
const (
	scoreParagraph   = 0 // multi-newline break
	scoreSentenceEnd = 1 // . ! ? : ;
	scoreComma       = 2
	scoreNewline     = 3 // single newline
	scoreOtherPunct  = 4
)

func boundaryScore(t token.Token) int {
	switch t.Kind {
	case token.Newline:
		if len([]rune(t.Text)) >= 2 {
			return scoreParagraph
		}
		return scoreNewline
	case token.Punctuation:
		for _, r := range t.Text {
			switch r {
			case '.', '!', '?', ':', ';':
				return scoreSentenceEnd
			}
		}
		for _, r := range t.Text {
			if r == ',' {
				return scoreComma
			}
		}
		return scoreOtherPunct
	default:
		return -1
	}
}

// FindSplitPoints returns a strictly increasing sequence of token indices
// partitioning tokens into batches of roughly p.TargetWords words each.
// The final split point is always len(tokens)-1. Returns nil when the text
// contains no words.
func FindSplitPoints(tokens []token.Token, totalWords int, p Params) []int {
	if totalWords == 0 || len(tokens) == 0 {
		return nil
	}

	var splits []int
	currentWords := 0
	lastSplit := -1
	guard := 0

	for currentWords < totalWords {
		guard++
		if guard > len(tokens)*2 {
			// Pathological non-termination: flush the remainder.
			if lastSplit < len(tokens)-1 {
				splits = append(splits, len(tokens)-1)
			}
			break
		}

		targetPos := currentWords + p.TargetWords
		if targetPos >= totalWords {
			splits = append(splits, len(tokens)-1)
			break
		}

		minPos := max(currentWords+1, targetPos-p.BackwardRange)
		maxPos := min(totalWords, targetPos+p.ForwardRange)

		minIdx, maxIdx, targetIdx := windowTokenIndices(tokens, lastSplit, minPos, maxPos, targetPos)

		best := bestBoundary(tokens, lastSplit, minIdx, maxIdx, targetIdx)
		if best == -1 {
			// No qualifying boundary in the window: cut at the word nearest
			// the target, swallowing trailing non-word tokens.
			best = targetIdx
			for best+1 < len(tokens) && best+1 <= maxIdx && !tokens[best+1].IsWord() {
				best++
			}
		}

		if best <= lastSplit {
			best = forceProgress(tokens, lastSplit)
			if best <= lastSplit {
				if lastSplit < len(tokens)-1 {
					splits = append(splits, len(tokens)-1)
				}
				break
			}
		}

		for i := lastSplit + 1; i <= best; i++ {
			if tokens[i].IsWord() {
				currentWords++
			}
		}
		splits = append(splits, best)
		lastSplit = best
	}

	return splits
}

// windowTokenIndices maps the word-position window [minPos,maxPos] and the
// target position onto token indices, scanning only past lastSplit.
func windowTokenIndices(tokens []token.Token, lastSplit, minPos, maxPos, targetPos int) (minIdx, maxIdx, targetIdx int) {
	minIdx, maxIdx, targetIdx = -1, -1, -1
	for i := lastSplit + 1; i < len(tokens); i++ {
		if !tokens[i].IsWord() {
			continue
		}
		wp := tokens[i].WordPos
		if minIdx == -1 && wp >= minPos {
			minIdx = i
		}
		if targetIdx == -1 && wp >= targetPos {
			targetIdx = i
		}
		if wp <= maxPos {
			maxIdx = i
		} else {
			if maxIdx == -1 {
				maxIdx = max(i-1, 0)
			}
			break
		}
	}
	if minIdx == -1 {
		minIdx = lastSplit + 1
	}
	if maxIdx == -1 {
		maxIdx = len(tokens) - 1
	}
	if targetIdx == -1 {
		targetIdx = maxIdx
	}
	return minIdx, maxIdx, targetIdx
}

// bestBoundary scans outward from targetIdx, alternating forward/backward,
// and returns the qualifying token index with the best score, or -1.
// Nearness to the target wins among equal scores; the forward candidate is
// tried first at each offset, so exact ties prefer the forward direction.
func bestBoundary(tokens []token.Token, lastSplit, minIdx, maxIdx, targetIdx int) int {
	best := -1
	bestScore := -1

	radius := max(targetIdx-minIdx, maxIdx-targetIdx)
	for offset := 0; offset <= radius; offset++ {
		candidates := make([]int, 0, 2)
		if targetIdx+offset <= maxIdx {
			candidates = append(candidates, targetIdx+offset)
		}
		if offset > 0 && targetIdx-offset >= minIdx {
			candidates = append(candidates, targetIdx-offset)
		}
		for _, idx := range candidates {
			if idx <= lastSplit {
				continue
			}
			score := boundaryScore(tokens[idx])
			if score < 0 {
				continue
			}
			if best == -1 || score < bestScore {
				best = idx
				bestScore = score
			}
		}
	}
	return best
}

// forceProgress advances past the next unconsumed word token so the batch is
// guaranteed to own at least one new word position.
func forceProgress(tokens []token.Token, lastSplit int) int {
	next := -1
	for i := lastSplit + 1; i < len(tokens); i++ {
		if tokens[i].IsWord() {
			next = i
			break
		}
	}
	if next == -1 {
		return len(tokens) - 1
	}
	best := next
	for best+1 < len(tokens) && !tokens[best+1].IsWord() {
		best++
	}
	return best
}
