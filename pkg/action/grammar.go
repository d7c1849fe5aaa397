// Package action implements the in-band action protocol: the textual
// grammar for action blocks embedded in streamed model output, the
// incremental accumulator that extracts them from partial chunks, and the
// per-conversation ledger that guarantees at-most-once execution.
package action

import (
	"strings"

	"codesmith/pkg/api"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// 動作區塊的開始與結束標記
// 模型被指示在回應中用這兩個標記包住一個 JSON 物件
const (
	OpenMarker  = "<ACTION>"
	CloseMarker = "</ACTION>"
)

// ParsedBlock is one complete action block found in a buffer. Err is set
// when the enclosed payload is not a valid action; such blocks are skipped
// by callers, they never abort processing of subsequent blocks.
type ParsedBlock struct {
	Action api.Action
	Raw    string
	Err    error
}

// SafeLen returns the length of the prefix of buf that is safe to display.
//
// Text before an unterminated open marker is withheld, so a half-formed
// block is never rendered. A partial open marker at the very end of the
// buffer (a marker split across stream chunks) is withheld as well, which
// keeps the display cursor monotone.
func SafeLen(buf string) int {
	pos := 0
	for {
		open := strings.Index(buf[pos:], OpenMarker)
		if open < 0 {
			break
		}
		openAbs := pos + open

		rest := openAbs + len(OpenMarker)
		close := strings.Index(buf[rest:], CloseMarker)
		if close < 0 {
			// 開始標記還沒等到結束標記，從這裡起全部保留
			return openAbs
		}
		pos = rest + close + len(CloseMarker)
	}

	// 檢查結尾是否是被切斷的開始標記
	tail := buf[pos:]
	maxPrefix := len(OpenMarker) - 1
	if len(tail) < maxPrefix {
		maxPrefix = len(tail)
	}
	for l := maxPrefix; l > 0; l-- {
		if strings.HasSuffix(tail, OpenMarker[:l]) {
			return len(buf) - l
		}
	}

	return len(buf)
}

// Extract scans buf for complete action blocks and decodes them in source
// order. Ordering matters: later actions may reference files created by
// earlier ones in the same turn.
func Extract(buf string) []ParsedBlock {
	var blocks []ParsedBlock

	pos := 0
	for {
		open := strings.Index(buf[pos:], OpenMarker)
		if open < 0 {
			break
		}
		start := pos + open + len(OpenMarker)

		close := strings.Index(buf[start:], CloseMarker)
		if close < 0 {
			break // 不完整的區塊留給下一批 chunk
		}
		payload := strings.TrimSpace(buf[start : start+close])
		pos = start + close + len(CloseMarker)

		var act api.Action
		err := json.UnmarshalFromString(payload, &act)
		if err == nil {
			err = act.Validate()
		}
		blocks = append(blocks, ParsedBlock{
			Action: act,
			Raw:    payload,
			Err:    err,
		})
	}

	return blocks
}

// Strip removes every complete action block from buf, yielding clean prose
// for display.
func Strip(buf string) string {
	var sb strings.Builder

	pos := 0
	for {
		open := strings.Index(buf[pos:], OpenMarker)
		if open < 0 {
			sb.WriteString(buf[pos:])
			break
		}
		openAbs := pos + open

		rest := openAbs + len(OpenMarker)
		close := strings.Index(buf[rest:], CloseMarker)
		if close < 0 {
			// 不完整的區塊原樣保留（呼叫端應先用 SafeLen 截斷）
			sb.WriteString(buf[pos:])
			break
		}

		sb.WriteString(buf[pos:openAbs])
		pos = rest + close + len(CloseMarker)
	}

	return sb.String()
}

// Encode renders an action as a block the way the model is instructed to
// emit it. Used by tests and by the grammar description in the system prompt.
func Encode(act api.Action) (string, error) {
	payload, err := json.MarshalToString(act)
	if err != nil {
		return "", err
	}
	return OpenMarker + "\n" + payload + "\n" + CloseMarker, nil
}
