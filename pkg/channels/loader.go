package channels

import (
	"log/slog"

	"codesmith/pkg/agent"
	"codesmith/pkg/api"
	"codesmith/pkg/config"

	jsoniter "github.com/json-iterator/go"
)

// LoadFromConfig acts as the central orchestration point for dynamic
// channel initialization. It iterates through the provided configuration
// map, resolves factories, and returns the resulting channels so the
// caller can hand them to the GatewayBuilder.
func LoadFromConfig(configs map[string]jsoniter.RawMessage, sessions *agent.SessionManager, system *config.SystemConfig) []api.Channel {
	var result []api.Channel
	for name, rawConfig := range configs {
		factory, ok := GetChannelFactory(name)
		if !ok {
			slog.Warn("Unknown channel type", "name", name)
			continue
		}

		channel, err := factory.Create(rawConfig, sessions, system)
		if err != nil {
			slog.Error("Failed to create channel", "name", name, "error", err)
			continue
		}

		// If Create returns nil (e.g., certain conditions not met but not an error), skip
		if channel == nil {
			continue
		}

		result = append(result, channel)
		slog.Info("Channel created", "name", name)
	}
	return result
}
