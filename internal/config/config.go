package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config is the only persisted config file schema.
type Config struct {
	URL          string `toml:"url"`
	Token        string `toml:"token"`
	Conversation string `toml:"conversation_file"`
	FloorCount   int    `toml:"floor_count"`
	Source       string `toml:"-"`
}

func Default() Config {
	return Config{
		URL:          "http://127.0.0.1:8000",
		Conversation: "default.jsonl",
		FloorCount:   10,
	}
}

func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".tavern", "config.toml")
}

func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	if path == "" {
		return cfg, errors.New("config path is empty and $HOME is not set")
	}
	cfg.Source = path

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return applyEnv(cfg), nil
		}
		return cfg, err
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return cfg, err
	}
	return applyEnv(cfg), nil
}

// applyEnv lets the environment win over the file, which keeps one-off
// overrides out of the persisted config.
func applyEnv(cfg Config) Config {
	if env := strings.TrimSpace(os.Getenv("TAVERN_URL")); env != "" {
		cfg.URL = env
	}
	if env := strings.TrimSpace(os.Getenv("TAVERN_TOKEN")); env != "" {
		cfg.Token = env
	}
	return cfg
}
