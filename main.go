package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"codesmith/pkg/agent"
	"codesmith/pkg/api"
	"codesmith/pkg/channels"
	"codesmith/pkg/channels/web"
	"codesmith/pkg/config"
	"codesmith/pkg/gateway"
	"codesmith/pkg/llm"
	_ "codesmith/pkg/llm/gemini"   // 自動註冊 LLM Providers
	_ "codesmith/pkg/llm/ollama"   // 自動註冊 LLM Providers
	_ "codesmith/pkg/llm/openailm" // 自動註冊 LLM Providers
	"codesmith/pkg/monitor"
	"codesmith/pkg/sandbox"
)

func main() {
	monitor.PrintBanner()

	// --- 0. 讀取設定檔 ---
	cfg, sysCfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load config: %v\n", err)
		os.Exit(1)
	}

	monitor.SetupSlog(sysCfg.LogLevel)
	slog.Info("==========================================")

	if sysCfg.DebugChunks {
		llm.CleanupDebugDirs(24 * time.Hour)
	}

	// --- 1. LLM 設定 ---
	client, err := llm.NewFromConfig(cfg.LLM, sysCfg)
	if err != nil {
		slog.Error("❌ Failed to init LLM client", "error", err)
		os.Exit(1)
	}
	client.SetDebug(sysCfg.DebugChunks)

	// --- 2. Session 管理與沙箱工廠 ---
	// remote 模式的 RPC 路由器由 web channel 持有，channel 建立後才補上。
	// Session 是收到第一則訊息才建立的，到時候一定已經有值。
	var webRPC *sandbox.RPC

	sandboxFactory := func(sc api.SessionContext) (api.Sandbox, error) {
		switch sysCfg.SandboxMode {
		case "remote":
			if webRPC == nil {
				return nil, fmt.Errorf("remote sandbox requested but no RPC transport is available")
			}
			return sandbox.NewRemote(webRPC, sc.UserID), nil
		default:
			return sandbox.NewLocal(filepath.Join(sysCfg.SandboxRoot, sc.SessionKey()))
		}
	}
	sessions := agent.NewSessionManager(sandboxFactory)

	// --- 3. Agent Engine ---
	engine := agent.NewAgentEngine(client, cfg, sysCfg, sessions)

	// --- 4. Channels ---
	channelList := channels.LoadFromConfig(cfg.Channels, sessions, sysCfg)
	for _, ch := range channelList {
		if wc, ok := ch.(*web.WebChannel); ok {
			webRPC = wc.RPC()
		}
	}

	// --- 5. Gateway 組裝（使用 Builder 模式）---
	gw, err := gateway.NewGatewayBuilder().
		WithSystemConfig(sysCfg).
		WithMonitor(monitor.NewCLIMonitor()).
		WithChannel(channelList...).
		WithAgentEngine(engine).
		WithHandler(api.MessageHandler(func(msg *api.UnifiedMessage) {
			// 每則訊息一個 goroutine：WS 讀取迴圈不能被回合阻塞，
			// 否則遠端沙箱的 rpc_response 永遠進不來
			go engine.HandleMessage(context.Background(), msg)
		})).
		Build()
	if err != nil {
		slog.Error("❌ Failed to build gateway", "error", err)
		os.Exit(1)
	}

	// --- 6. 設定檔熱重載（目前只套用日誌等級）---
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	reloadCh := config.WatchConfig(watchCtx, "config.json", "system.json")
	go func() {
		for range reloadCh {
			_, newSys, err := config.Load()
			if err != nil {
				slog.Error("Config reload failed, keeping previous settings", "error", err)
				continue
			}
			monitor.SetupSlog(newSys.LogLevel)
			client.SetDebug(newSys.DebugChunks)
			slog.Info("🔄 Configuration reloaded", "log_level", newSys.LogLevel)
		}
	}()

	// 監聽系統信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// 等待信號
	<-sigChan
	slog.Info("Received shutdown signal. Stopping services...")

	// 執行清理
	gw.StopAll()
	sessions.CloseAll()
	slog.Info("Bye!")
}
