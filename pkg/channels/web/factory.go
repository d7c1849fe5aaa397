package web

import (
	"fmt"
	"time"

	"codesmith/pkg/agent"
	"codesmith/pkg/channels"
	"codesmith/pkg/config"
	"codesmith/pkg/gateway"

	jsoniter "github.com/json-iterator/go"
)

// WebFactory 負責建立 Web Channels
type WebFactory struct{}

// Create 實作 ChannelFactory
func (f *WebFactory) Create(rawConfig jsoniter.RawMessage, sessions *agent.SessionManager, system *config.SystemConfig) (gateway.Channel, error) {
	var pCfg WebConfig
	// 設定預設 Port
	pCfg.Port = 8080

	if err := json.Unmarshal(rawConfig, &pCfg); err != nil {
		return nil, fmt.Errorf("failed to parse web config: %w", err)
	}

	rpcTimeout := 5 * time.Second
	if system != nil && system.RPCTimeoutMs > 0 {
		rpcTimeout = time.Duration(system.RPCTimeoutMs) * time.Millisecond
	}

	return NewWebChannel(pCfg, sessions, rpcTimeout), nil
}

func init() {
	channels.RegisterChannel("web", &WebFactory{})
}
