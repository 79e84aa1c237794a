package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"tavern-cli/internal/config"
	"tavern-cli/internal/transport"
)

func pingMain(root rootArgs, args []string) {
	if err := runPing(root, args, os.Stdout); err != nil {
		log.Fatalf("ping failed: %v", err)
	}
}

func runPing(root rootArgs, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ping", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfgPath string
	var urlOverride string
	var timeoutSeconds int

	fs.StringVar(&cfgPath, "config", "", "Path to config file (default ~/.tavern/config.toml)")
	fs.StringVar(&urlOverride, "url", "", "Backend base URL override")
	fs.IntVar(&timeoutSeconds, "timeout", 0, "Timeout seconds (default 10)")

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
	if strings.TrimSpace(cfg.URL) == "" {
		return errors.New("missing url: set TAVERN_URL or configure url in ~/.tavern/config.toml")
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	start := time.Now()
	if err := transport.NewFallback(cfg.URL, cfg.Token).Ping(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "ok: %s (%s)\n", cfg.URL, time.Since(start).Round(time.Millisecond))
	return nil
}
