package gateway

import (
	"errors"
	"testing"
	"time"

	"codesmith/pkg/api"
	"codesmith/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	id      string
	sent    []string
	signals []string
	streams []string
}

func (c *fakeChannel) ID() string                         { return c.id }
func (c *fakeChannel) Start(ctx api.ChannelContext) error { return nil }
func (c *fakeChannel) Stop() error                        { return nil }

func (c *fakeChannel) Send(session api.SessionContext, message string) error {
	c.sent = append(c.sent, message)
	return nil
}

func (c *fakeChannel) Stream(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	var full string
	for b := range blocks {
		if b.Type == llm.BlockTypeText {
			full += b.Text
		}
	}
	c.streams = append(c.streams, full)
	return nil
}

// signalingChannel adds the optional signal surface.
type signalingChannel struct {
	fakeChannel
}

func (c *signalingChannel) SendSignal(session api.SessionContext, signal string) error {
	c.signals = append(c.signals, signal)
	return nil
}

func testSession(channelID string) api.SessionContext {
	return api.SessionContext{ChannelID: channelID, UserID: "u1", ChatID: "u1", Username: "tester"}
}

func TestSendReplyRoutesToChannel(t *testing.T) {
	gw := NewGatewayManager()
	ch := &fakeChannel{id: "web"}
	gw.Register(ch)

	err := gw.SendReply(testSession("web"), "hello")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, ch.sent)
}

func TestSendReplyUnknownChannel(t *testing.T) {
	gw := NewGatewayManager()

	err := gw.SendReply(testSession("nope"), "hello")
	assert.Error(t, err)
}

func TestSendSignalIgnoredWithoutSignalingSupport(t *testing.T) {
	gw := NewGatewayManager()
	ch := &fakeChannel{id: "web"}
	gw.Register(ch)

	// 不支援訊號的通道安靜地忽略，不算錯誤
	err := gw.SendSignal(testSession("web"), "thinking")
	assert.NoError(t, err)
}

func TestSendSignalRoutesToSignalingChannel(t *testing.T) {
	gw := NewGatewayManager()
	ch := &signalingChannel{fakeChannel{id: "web"}}
	gw.Register(ch)

	err := gw.SendSignal(testSession("web"), "action:a1:success")
	require.NoError(t, err)
	assert.Equal(t, []string{"action:a1:success"}, ch.signals)
}

func TestStreamReplyForwardsBlocks(t *testing.T) {
	gw := NewGatewayManager()
	ch := &fakeChannel{id: "web"}
	gw.Register(ch)

	blocks := make(chan llm.ContentBlock, 3)
	blocks <- llm.NewTextBlock("part one, ")
	blocks <- llm.NewTextBlock("part two")
	close(blocks)

	err := gw.StreamReply(testSession("web"), blocks)
	require.NoError(t, err)
	require.Len(t, ch.streams, 1)
	assert.Equal(t, "part one, part two", ch.streams[0])
}

// failingStreamChannel 模擬瀏覽器斷線：第一個區塊寫出去就失敗返回，
// 剩下的區塊沒人讀
type failingStreamChannel struct {
	fakeChannel
}

func (c *failingStreamChannel) Stream(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	<-blocks
	return errors.New("client went away")
}

func TestStreamReplyAbandonsWhenDisplayFails(t *testing.T) {
	gw := NewGatewayManager()
	gw.SetChannelBuffer(1)
	ch := &failingStreamChannel{fakeChannel{id: "web"}}
	gw.Register(ch)

	blocks := make(chan llm.ContentBlock)
	fed := make(chan struct{})
	go func() {
		defer close(fed)
		for i := 0; i < 16; i++ {
			blocks <- llm.NewTextBlock("chunk ")
		}
		close(blocks)
	}()

	err := gw.StreamReply(testSession("web"), blocks)
	assert.Error(t, err)

	// 生產者不能因為顯示端收工而卡住
	select {
	case <-fed:
	case <-time.After(2 * time.Second):
		t.Fatal("producer still blocked after the display side gave up")
	}
}

func TestOnMessageInvokesHandler(t *testing.T) {
	gw := NewGatewayManager()

	var received *UnifiedMessage
	gw.SetMessageHandler(func(msg *UnifiedMessage) {
		received = msg
	})

	msg := &UnifiedMessage{Session: testSession("web"), Content: "build me a site"}
	gw.OnMessage("web", msg)

	require.NotNil(t, received)
	assert.Equal(t, "build me a site", received.Content)
}

func TestBuilderWiresChannelsAndHandler(t *testing.T) {
	ch := &fakeChannel{id: "web"}

	var handled int
	gw, err := NewGatewayBuilder().
		WithChannel(ch).
		WithHandler(api.MessageHandler(func(msg *UnifiedMessage) {
			handled++
		})).
		Build()
	require.NoError(t, err)

	got, ok := gw.GetChannel("web")
	require.True(t, ok)
	assert.Equal(t, ch, got)

	gw.OnMessage("web", &UnifiedMessage{Session: testSession("web"), Content: "hi"})
	assert.Equal(t, 1, handled)
}
