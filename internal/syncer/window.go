package syncer

import (
	"fmt"

	"ledgerSync/internal/model"
)

// Window is an inclusive block range processed by one run.
type Window struct {
	From uint64
	To   uint64
}

func (w Window) String() string {
	return fmt.Sprintf("%d-%d", w.From, w.To)
}

// Contains reports whether block lies inside the window.
func (w Window) Contains(block uint64) bool {
	return block >= w.From && block <= w.To
}

// NextWindow returns [last+1, min(head, last+maxBlocks)]. It reports false when
// there is nothing past last.
func NextWindow(last, head, maxBlocks uint64) (Window, bool) {
	if maxBlocks == 0 || last >= head {
		return Window{}, false
	}
	to := head
	if head-last > maxBlocks {
		to = last + maxBlocks
	}
	return Window{From: last + 1, To: to}, true
}

// ParseBlockRange validates textual block bounds.
func ParseBlockRange(from, to string) (uint64, uint64, error) {
	fromBlock, ok := model.ParseBlockNumber(from)
	if !ok {
		return 0, 0, configError("invalid from block %q", from)
	}
	toBlock, ok := model.ParseBlockNumber(to)
	if !ok {
		return 0, 0, configError("invalid to block %q", to)
	}
	if toBlock < fromBlock {
		return 0, 0, configError("to block %d must be >= from block %d", toBlock, fromBlock)
	}
	return fromBlock, toBlock, nil
}
