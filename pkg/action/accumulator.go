package action

import (
	"log/slog"
	"strings"

	"codesmith/pkg/api"
)

// Accumulator consumes streamed text deltas and incrementally separates
// clean display prose from embedded action blocks. The display cursor only
// moves forward: text handed out by Feed is never retracted, even when a
// marker arrives split across chunks.
type Accumulator struct {
	buf     strings.Builder
	emitted int // 已經輸出給顯示端的乾淨文字長度
	yielded int // 已經回傳過的完整區塊數
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Feed appends one stream delta and returns the newly displayable prose
// plus any newly completed, well-formed actions in source order. Malformed
// blocks are logged and skipped exactly once.
func (a *Accumulator) Feed(delta string) (string, []api.Action) {
	a.buf.WriteString(delta)
	buf := a.buf.String()

	safe := buf[:SafeLen(buf)]

	display := Strip(safe)
	out := display[a.emitted:]
	a.emitted = len(display)

	blocks := Extract(safe)
	var actions []api.Action
	for _, b := range blocks[a.yielded:] {
		if b.Err != nil {
			slog.Warn("⚠️ Skipping malformed action block", "error", b.Err, "payload", b.Raw)
			continue
		}
		actions = append(actions, b.Action)
	}
	a.yielded = len(blocks)

	return out, actions
}

// Flush is called at end of stream. It reports whether text was still being
// withheld, meaning the model opened an action block and never closed it.
// Withheld text stays hidden, a truncated block must not leak to display.
func (a *Accumulator) Flush() bool {
	buf := a.buf.String()
	withheld := SafeLen(buf) < len(buf)
	if withheld {
		slog.Warn("⚠️ Stream ended inside an action block, dropping unterminated tail")
	}
	return withheld
}

// Raw returns everything fed so far, markers included. Conversation history
// stores the raw text so the model sees its own blocks on re-entry.
func (a *Accumulator) Raw() string {
	return a.buf.String()
}

// Display returns all clean prose emitted so far.
func (a *Accumulator) Display() string {
	buf := a.buf.String()
	return Strip(buf[:SafeLen(buf)])
}
