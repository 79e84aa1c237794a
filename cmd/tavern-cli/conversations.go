package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"tavern-cli/internal/config"
	"tavern-cli/internal/transport"
)

func conversationsMain(root rootArgs, args []string) {
	if err := runConversations(root, args, os.Stdout); err != nil {
		log.Fatalf("conversations failed: %v", err)
	}
}

// runConversations 打印后端可用的会话文件，一行一个。
func runConversations(root rootArgs, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("conversations", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfgPath string
	var urlOverride string

	fs.StringVar(&cfgPath, "config", "", "Path to config file (default ~/.tavern/config.toml)")
	fs.StringVar(&urlOverride, "url", "", "Backend base URL override")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	cfg = config.ApplyKVOverrides(cfg, prependOverrides(root.overrides, nil))
	if v := strings.TrimSpace(urlOverride); v != "" {
		cfg.URL = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	names, err := transport.NewFallback(cfg.URL, cfg.Token).ListConversations(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		_, _ = fmt.Fprintln(out, "no conversations on server")
		return nil
	}
	for _, name := range names {
		_, _ = fmt.Fprintln(out, name)
	}
	return nil
}
