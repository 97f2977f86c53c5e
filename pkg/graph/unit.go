package graph

import (
	"fmt"

	"github.com/OFFIS-RIT/castgraph/pkg/common"
)

// A break may end a window no earlier than 7/10 of its size.
const (
	snapNumerator   = 7
	snapDenominator = 10
)

// Segment splits text into overlapping windows of at most size characters.
// A window that would end mid-text is shortened to end just after the last
// '.' or blank line inside it, provided that break lies in the final 30% of
// the window. Each following window starts overlap characters before the
// previous one ended. Text shorter than size yields a single window and
// empty text yields none.
func Segment(text string, size, overlap int) ([]common.Window, error) {
	if size <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("window overlap %d must be in [0, %d)", overlap, size)
	}

	runes := []rune(text)
	n := len(runes)
	windows := make([]common.Window, 0, n/(size-overlap)+2)

	start := 0
	for start < n {
		end := start + size
		if end >= n {
			end = n
		} else if bp := lastBreak(runes, start, end); bp >= start+size*snapNumerator/snapDenominator {
			end = bp + 1
		}

		windows = append(windows, common.Window{
			Index: len(windows),
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		})
		if end >= n {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return windows, nil
}

// lastBreak returns the index of the last rune of the latest '.' or "\n\n"
// inside runes[start:end], or -1.
func lastBreak(runes []rune, start, end int) int {
	for i := end - 1; i >= start; i-- {
		if runes[i] == '.' {
			return i
		}
		if runes[i] == '\n' && i > start && runes[i-1] == '\n' {
			return i
		}
	}
	return -1
}

// Sample returns count excerpts of size characters spread over text: the
// start, count-2 interior excerpts at offsets k*(len/count), and the end.
// Excerpts are clipped to the text, so text shorter than size is returned
// count times and its mentions count once per excerpt.
func Sample(text string, count, size int) []string {
	runes := []rune(text)
	n := len(runes)
	if n == 0 || size <= 0 {
		return nil
	}
	if count < 2 {
		count = 2
	}

	samples := make([]string, 0, count)
	samples = append(samples, string(runes[:min(size, n)]))

	step := n / count
	for k := 1; k <= count-2; k++ {
		offset := k * step
		end := min(offset+size, n)
		if offset >= end {
			continue
		}
		samples = append(samples, string(runes[offset:end]))
	}

	samples = append(samples, string(runes[max(0, n-size):]))
	return samples
}

// partitionBatches groups windows into consecutive batches of at most size.
func partitionBatches(windows []common.Window, size int) [][]common.Window {
	if size <= 0 {
		size = 1
	}
	batches := make([][]common.Window, 0, (len(windows)+size-1)/size)
	for start := 0; start < len(windows); start += size {
		end := min(start+size, len(windows))
		batches = append(batches, windows[start:end])
	}
	return batches
}
