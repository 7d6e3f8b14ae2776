package chain

import "fmt"

// BlockRange is an inclusive span of blocks scanned with one eth_getLogs.
type BlockRange struct {
	From uint64
	To   uint64
}

// Blocks returns the number of blocks covered.
func (r BlockRange) Blocks() uint64 {
	return r.To - r.From + 1
}

// SplitRange cuts [from, to] into consecutive ranges of at most size blocks.
func SplitRange(from, to, size uint64) ([]BlockRange, error) {
	if size == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("range end %d is before start %d", to, from)
	}

	out := make([]BlockRange, 0, (to-from)/size+1)
	for start := from; ; start += size {
		// guard against overflow near the top of uint64
		if to-start < size {
			return append(out, BlockRange{From: start, To: to}), nil
		}
		out = append(out, BlockRange{From: start, To: start + size - 1})
	}
}
