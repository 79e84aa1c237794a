package main

import "flag"

// interactiveArgs captures flags shared by interactive entrypoints.
type interactiveArgs struct {
	cfgPath         string
	urlOverride     string
	tokenOverride   string
	conversation    string
	floors          int
	logPath         string
	configOverrides stringSlice
}

func newInteractiveFlagSet(name string) (*flag.FlagSet, *interactiveArgs) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	args := &interactiveArgs{}

	fs.StringVar(&args.cfgPath, "config", "", "Path to config file (default ~/.tavern/config.toml)")
	fs.StringVar(&args.urlOverride, "url", "", "Backend base URL override")
	fs.StringVar(&args.tokenOverride, "token", "", "Bearer token override (prefer config.toml)")
	fs.StringVar(&args.conversation, "conversation", "", "Conversation file to open")
	fs.IntVar(&args.floors, "floors", 0, "Rendered floor count override (clamped to 3..50)")
	fs.StringVar(&args.logPath, "log", "", "Log file path (default logs/tavern-cli.log)")
	fs.Var(&args.configOverrides, "c", "Override config value key=value (repeatable)")

	return fs, args
}
