package web

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannel() *WebChannel {
	return NewWebChannel(WebConfig{Port: 0}, nil, time.Second)
}

func TestUnregisterRemovesActiveConnection(t *testing.T) {
	c := newTestChannel()
	conn := &SafeConn{}
	c.connections["u1"] = conn

	assert.True(t, c.unregister("u1", conn))

	_, ok := c.conn("u1")
	assert.False(t, ok)
}

// 重連時新 socket 先註冊，舊 socket 的收尾不能把新連線拆掉，
// 否則剛接回來的 session 會被誤判成斷線而整個清掉
func TestUnregisterIgnoresReplacedConnection(t *testing.T) {
	c := newTestChannel()
	oldConn := &SafeConn{}
	c.connections["u1"] = oldConn

	newConn := &SafeConn{}
	c.connections["u1"] = newConn

	assert.False(t, c.unregister("u1", oldConn), "a replaced socket must not count as a disconnect")

	got, ok := c.conn("u1")
	require.True(t, ok)
	assert.Same(t, newConn, got)
}
