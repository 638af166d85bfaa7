package translate

import "unicode/utf8"

// DefaultBatchChars is the default per-batch character budget.
const DefaultBatchChars = 6000

// BatchSegments groups segments into ordered batches whose cumulative
// character count stays within budget. A single pass, greedy: a batch
// is closed as soon as the next segment would exceed the budget and the
// batch is non-empty. A segment larger than the whole budget still
// forms its own batch, it is never dropped or split. Concatenating the
// batches yields the input order exactly.
func BatchSegments(segments []string, budget int) [][]string {
	if budget <= 0 {
		budget = DefaultBatchChars
	}

	var batches [][]string
	var current []string
	size := 0

	for _, seg := range segments {
		n := utf8.RuneCountInString(seg)
		if len(current) > 0 && size+n > budget {
			batches = append(batches, current)
			current = nil
			size = 0
		}
		current = append(current, seg)
		size += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
