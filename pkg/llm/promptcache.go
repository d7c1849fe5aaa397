package llm

import (
	"sync"
)

// promptKeyLen 是快取鍵使用的前綴長度
const promptKeyLen = 64

// PromptCache remembers composed prompts keyed by the raw prompt they were
// derived from, so hot-reloaded configuration only pays the composition cost
// once per distinct base prompt.
//
// It is append-only and retrieval is "most recent entry wins". It is NOT
// content-addressed and NOT evicted — callers needing bounded memory must
// impose an eviction policy themselves.
type PromptCache struct {
	mu      sync.RWMutex
	entries []promptEntry
}

type promptEntry struct {
	key    string
	prompt string
}

// NewPromptCache 建立一個新的提示詞快取
func NewPromptCache() *PromptCache {
	return &PromptCache{}
}

// Put 記錄 base 對應的完整組合後提示詞
func (c *PromptCache) Put(base, prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, promptEntry{
		key:    truncateKey(base),
		prompt: prompt,
	})
}

// Lookup 以同樣的截斷規則找出最近一次記錄的組合提示詞
func (c *PromptCache) Lookup(base string) (string, bool) {
	key := truncateKey(base)

	c.mu.RLock()
	defer c.mu.RUnlock()

	// 從最新的開始找
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].key == key {
			return c.entries[i].prompt, true
		}
	}
	return "", false
}

// Len 回傳快取筆數
func (c *PromptCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func truncateKey(s string) string {
	if len(s) > promptKeyLen {
		return s[:promptKeyLen]
	}
	return s
}
