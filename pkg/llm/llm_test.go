package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteAggregatesText(t *testing.T) {
	client := NewScriptedClient(func(call int, messages []Message) ([]StreamChunk, error) {
		return []StreamChunk{
			NewTextChunk("Hello "),
			NewTextChunk("world"),
			{IsFinal: true, Usage: &LLMUsage{TotalTokens: 7}},
		}, nil
	})

	res, err := Complete(context.Background(), client, []Message{NewUserMessage("hi")}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", res.Text)
	assert.Nil(t, res.ToolCall)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 7, res.Usage.TotalTokens)
}

func TestCompleteSurfacesOnlyFirstToolCall(t *testing.T) {
	client := NewScriptedClient(func(call int, messages []Message) ([]StreamChunk, error) {
		return []StreamChunk{
			{ToolCalls: []ToolCall{
				{ID: "t1", Name: "workspace_control"},
				{ID: "t2", Name: "workspace_control"},
			}},
			{IsFinal: true},
		}, nil
	})

	res, err := Complete(context.Background(), client, nil, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, res.ToolCall)
	assert.Equal(t, "t1", res.ToolCall.ID)
}

func TestCompleteNoContentIsCategorized(t *testing.T) {
	client := NewScriptedClient(func(call int, messages []Message) ([]StreamChunk, error) {
		return []StreamChunk{{IsFinal: true}}, nil
	})

	_, err := Complete(context.Background(), client, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, CategoryNoContent, CategoryOf(err))
}

func TestCompleteStreamErrorIsCategorized(t *testing.T) {
	client := NewScriptedClient(func(call int, messages []Message) ([]StreamChunk, error) {
		return []StreamChunk{{RawError: errors.New("401 unauthorized")}}, nil
	})

	_, err := Complete(context.Background(), client, nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, CategoryAuth, CategoryOf(err))
}

func TestCategoryOfClassifiesByMessage(t *testing.T) {
	assert.Equal(t, CategoryAuth, CategoryOf(errors.New("invalid API key provided")))
	assert.Equal(t, CategoryNoContent, CategoryOf(errors.New("no candidates in response")))
	assert.Equal(t, CategoryBackend, CategoryOf(errors.New("connection reset by peer")))
}

func TestCategoryOfPrefersExplicitCategory(t *testing.T) {
	// 包裝過的錯誤不走字串分類
	err := NewCategorizedError(CategoryNoContent, errors.New("401 unauthorized"))
	assert.Equal(t, CategoryNoContent, CategoryOf(err))
}

func TestChatHistoryVisibleExcludesHidden(t *testing.T) {
	h := NewChatHistory()
	h.Add(NewUserMessage("make a page"))
	h.Add(NewAssistantMessage("done"))
	h.Add(NewHiddenToolMessage("a1", "create_file", `{"success":true}`))

	assert.Equal(t, 3, h.Len())
	assert.Len(t, h.GetMessages(), 3)
	assert.Len(t, h.Visible(), 2)
}

func TestChatHistoryEnsureSystemMessage(t *testing.T) {
	h := NewChatHistory()
	h.Add(NewUserMessage("hi"))

	h.EnsureSystemMessage("persona v1")
	require.Equal(t, 2, h.Len())
	msgs := h.GetMessages()
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Equal(t, "persona v1", msgs[0].Content[0].Text)

	// Re-ensuring replaces the prompt, never stacks a second one.
	h.EnsureSystemMessage("persona v2")
	require.Equal(t, 2, h.Len())
	assert.Equal(t, "persona v2", h.GetMessages()[0].Content[0].Text)
}
