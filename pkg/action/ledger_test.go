package action

import (
	"testing"

	"codesmith/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerAtMostOnce(t *testing.T) {
	l := NewLedger()

	require.True(t, l.Begin("a1"))
	assert.False(t, l.Begin("a1"), "in-progress id must not start again")

	l.Resolve("a1", api.ActionResult{Success: true, Message: "ok"})
	assert.False(t, l.Begin("a1"), "terminal id must not start again")

	st, ok := l.State("a1")
	require.True(t, ok)
	assert.Equal(t, StateSuccess, st)
}

func TestLedgerTerminalImmutable(t *testing.T) {
	l := NewLedger()
	require.True(t, l.Begin("a1"))
	l.Resolve("a1", api.ActionResult{Success: false, Message: "boom"})

	// 第二次 resolve 不應該改變已定案的結果
	l.Resolve("a1", api.ActionResult{Success: true, Message: "late"})

	res, ok := l.Result("a1")
	require.True(t, ok)
	assert.False(t, res.Success)
	assert.Equal(t, "boom", res.Message)
}

func TestLedgerResolveUnknownIsNoop(t *testing.T) {
	l := NewLedger()
	l.Resolve("ghost", api.ActionResult{Success: true})

	_, ok := l.State("ghost")
	assert.False(t, ok)
}

func TestDecideReentryCommandOutput(t *testing.T) {
	done := []Executed{
		{Action: api.Action{ID: "a1", Kind: api.KindCreateFile}, Result: api.ActionResult{Success: true}},
		{Action: api.Action{ID: "a2", Kind: api.KindRunCommand}, Result: api.ActionResult{Success: true, IsCommandOutput: true}},
	}
	assert.True(t, DecideReentry(done))
}

func TestDecideReentryFirstImmediateWins(t *testing.T) {
	done := []Executed{
		{Action: api.Action{ID: "a1", Immediate: true}, Result: api.ActionResult{Success: true}},
		{Action: api.Action{ID: "a2", Immediate: true}, Result: api.ActionResult{Success: true}},
	}
	assert.True(t, DecideReentry(done))
}

func TestDecideReentryForwardedRead(t *testing.T) {
	done := []Executed{
		{Action: api.Action{ID: "a1", Kind: api.KindReadFileAndForward}, Result: api.ActionResult{Success: true, Data: "content"}},
	}
	assert.True(t, DecideReentry(done))
}

func TestDecideReentryNone(t *testing.T) {
	done := []Executed{
		{Action: api.Action{ID: "a1", Kind: api.KindWriteFile}, Result: api.ActionResult{Success: true}},
		{Action: api.Action{ID: "a2", Kind: api.KindListFiles}, Result: api.ActionResult{Success: false, Message: "not found"}},
	}
	assert.False(t, DecideReentry(done))
}
