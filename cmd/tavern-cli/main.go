package main

import (
	"context"
	"os"
	"strings"
	"time"

	"tavern-cli/internal/config"
	"tavern-cli/internal/conv"
	"tavern-cli/internal/history"
	"tavern-cli/internal/logger"
	"tavern-cli/internal/sandbox"
	"tavern-cli/internal/transport"
	"tavern-cli/internal/tui"
	"tavern-cli/internal/window"
)

var log = logger.Named("main")

func main() {
	logger.Configure()

	root, rest, err := parseRootArgs(os.Args[1:])
	if err != nil {
		log.Fatalf("parse args: %v", err)
	}
	if len(rest) > 0 {
		switch rest[0] {
		case "ping":
			pingMain(root, rest[1:])
			return
		case "conversations":
			conversationsMain(root, rest[1:])
			return
		}
	}

	runInteractive(root, rest)
}

func runInteractive(root rootArgs, args []string) {
	fs, cli := newInteractiveFlagSet("tavern-cli")
	if err := fs.Parse(args); err != nil {
		log.Fatalf("parse args: %v", err)
	}

	if logFile, _, err := logger.SetupFile(cli.logPath); err != nil {
		log.Warnf("failed to initialize log file: %v", err)
	} else {
		defer logFile.Close()
	}

	cfg := loadConfig(root, cli)

	// 事件从控制器与沙箱线程推入，由 UI 事件循环拉取。队列打满时丢弃，
	// 后继事件会再次触发重渲染。
	convEvents := make(chan conv.Event, 256)
	sandboxEvents := make(chan sandbox.Event, 64)

	fallback := transport.NewFallback(cfg.URL, cfg.Token)
	ctrl := conv.NewController(conv.Config{
		ConversationFile: cfg.Conversation,
		Unary:            fallback,
		Notify: func(ev conv.Event) {
			select {
			case convEvents <- ev:
			default:
			}
		},
	})
	session := transport.NewSession(transport.SessionConfig{
		URL:           transport.ChannelURL(cfg.URL),
		Token:         cfg.Token,
		OnResult:      ctrl.OnChannelResult,
		OnStateChange: ctrl.OnChannelState,
	})
	ctrl.AttachSession(session)
	defer ctrl.Close()

	pool := sandbox.NewPool(func(ev sandbox.Event) {
		select {
		case sandboxEvents <- ev:
		default:
		}
	})
	defer pool.Close()

	loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ctrl.Load(loadCtx); err != nil {
		log.Warnf("initial load failed, starting with empty view: %v", err)
	}
	cancel()

	var prompts []string
	hist, err := history.NewDefault()
	if err != nil {
		log.Warnf("prompt history unavailable: %v", err)
		hist = nil
	} else if prompts, err = hist.LoadTexts(); err != nil {
		log.Warnf("failed to load prompt history: %v", err)
	}

	err = tui.Run(tui.Options{
		Controller:    ctrl,
		ConvEvents:    convEvents,
		Pool:          pool,
		SandboxEvents: sandboxEvents,
		Ping:          fallback.Ping,
		ServerURL:     cfg.URL,
		FloorCount:    window.ClampFloorCount(cfg.FloorCount),
		PromptHistory: prompts,
		OnPromptSaved: func(text string) {
			if hist == nil {
				return
			}
			if err := hist.Append(text); err != nil {
				log.Warnf("failed to persist prompt: %v", err)
			}
		},
	})
	if err != nil {
		log.Fatalf("program exit: %v", err)
	}
}

// loadConfig 合并配置来源：文件 < 环境变量 < -c 覆盖 < 专用旗标。
func loadConfig(root rootArgs, cli *interactiveArgs) config.Config {
	cfg, err := config.Load(cli.cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg = config.ApplyKVOverrides(cfg, prependOverrides(root.overrides, cli.configOverrides))

	if v := strings.TrimSpace(cli.urlOverride); v != "" {
		cfg.URL = v
	}
	if v := strings.TrimSpace(cli.tokenOverride); v != "" {
		cfg.Token = v
	}
	if v := strings.TrimSpace(cli.conversation); v != "" {
		cfg.Conversation = v
	}
	if cli.floors > 0 {
		cfg.FloorCount = cli.floors
	}
	return cfg
}
