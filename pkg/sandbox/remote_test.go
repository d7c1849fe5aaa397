package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoRuntime replies to every request like the browser runtime would.
type echoRuntime struct {
	rpc   *RPC
	reply func(req Request) Response
}

func newEchoRuntime(timeout time.Duration, reply func(req Request) Response) *echoRuntime {
	rt := &echoRuntime{reply: reply}
	rt.rpc = NewRPC(func(req Request) error {
		go rt.rpc.HandleResponse(rt.reply(req))
		return nil
	}, timeout)
	return rt
}

func TestRemoteWriteAndRead(t *testing.T) {
	store := map[string]string{}
	rt := newEchoRuntime(time.Second, func(req Request) Response {
		switch req.FunctionName {
		case "writeFile":
			store[req.Args["path"].(string)] = req.Args["content"].(string)
			return Response{ID: req.ID, Status: true}
		case "readFile":
			content, ok := store[req.Args["path"].(string)]
			if !ok {
				return Response{ID: req.ID, Status: false, Data: "no such file"}
			}
			return Response{ID: req.ID, Status: true, Data: content}
		}
		return Response{ID: req.ID, Status: false, Data: "unknown function"}
	})

	sb := NewRemote(rt.rpc, "user-1")
	ctx := context.Background()

	require.NoError(t, sb.WriteFile(ctx, "index.html", "<html></html>"))

	got, err := sb.ReadFile(ctx, "index.html")
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", got)

	_, err = sb.ReadFile(ctx, "missing")
	assert.ErrorContains(t, err, "no such file")
}

func TestRemoteCallCarriesUserID(t *testing.T) {
	var seen Request
	rt := newEchoRuntime(time.Second, func(req Request) Response {
		seen = req
		return Response{ID: req.ID, Status: true}
	})

	sb := NewRemote(rt.rpc, "user-42")
	require.NoError(t, sb.Mkdir(context.Background(), "src", true))
	assert.Equal(t, "user-42", seen.UserID)
	assert.Equal(t, "mkdir", seen.FunctionName)
	assert.Equal(t, true, seen.Args["recursive"])
}

func TestRPCTimeout(t *testing.T) {
	// 對方永遠不回應
	rpc := NewRPC(func(req Request) error { return nil }, 20*time.Millisecond)

	resp, err := rpc.Call(context.Background(), "spawn", map[string]any{"command": "ls"}, "u")
	require.NoError(t, err)
	assert.False(t, resp.Status)
	assert.Equal(t, "Timeout waiting for response", resp.Data)
}

func TestRPCLateResponseDropped(t *testing.T) {
	rpc := NewRPC(func(req Request) error { return nil }, 10*time.Millisecond)

	resp, err := rpc.Call(context.Background(), "readDir", map[string]any{"path": "."}, "u")
	require.NoError(t, err)
	require.False(t, resp.Status)

	// 逾時後才到的回應不應該 panic 或卡住
	rpc.HandleResponse(Response{ID: resp.ID, Status: true, Data: "[]"})
}

func TestRemoteRun(t *testing.T) {
	rt := newEchoRuntime(time.Second, func(req Request) Response {
		return Response{ID: req.ID, Status: true, Data: "PASS 12 tests"}
	})
	sb := NewRemote(rt.rpc, "u")

	out, code, err := sb.Run(context.Background(), "npm test")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "PASS 12 tests", out)
}

func TestRemoteReadDirParsesList(t *testing.T) {
	rt := newEchoRuntime(time.Second, func(req Request) Response {
		return Response{ID: req.ID, Status: true, Data: `["src/","package.json"]`}
	})
	sb := NewRemote(rt.rpc, "u")

	names, err := sb.ReadDir(context.Background(), ".")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/", "package.json"}, names)
}
