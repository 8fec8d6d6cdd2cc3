package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	DirName  = ".boardfile"
	FileName = "config.toml"

	DefaultBoardPath     = "Tasks/Boards/Board.md"
	DefaultArchiveFolder = "Archive"
	DefaultLogLevel      = "warn"
)

// Config is the vault-local configuration stored under .boardfile/config.toml.
// Every value has a working default, so a vault without the file behaves the
// same as one scaffolded by init.
type Config struct {
	Board         string `toml:"board" json:"board"`
	ArchiveFolder string `toml:"archive_folder" json:"archive_folder"`
	History       bool   `toml:"history" json:"history"`
	LogLevel      string `toml:"log_level" json:"log_level"`
}

func Default() Config {
	return Config{
		Board:         DefaultBoardPath,
		ArchiveFolder: DefaultArchiveFolder,
		History:       true,
		LogLevel:      DefaultLogLevel,
	}
}

// Path returns the config file location inside a vault.
func Path(vault string) string {
	return filepath.Join(vault, DirName, FileName)
}

// Load layers defaults, the config file, and BOARDFILE_* environment
// overrides. A missing file is not an error; a file that will not parse is.
func Load(vault string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(Path(vault))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(&cfg)
			return cfg, nil
		}
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", Path(vault), err)
	}
	if strings.TrimSpace(cfg.Board) == "" {
		cfg.Board = DefaultBoardPath
	}
	if strings.TrimSpace(cfg.ArchiveFolder) == "" {
		cfg.ArchiveFolder = DefaultArchiveFolder
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("BOARDFILE_BOARD")); v != "" {
		cfg.Board = v
	}
	if v := strings.TrimSpace(os.Getenv("BOARDFILE_ARCHIVE_FOLDER")); v != "" {
		cfg.ArchiveFolder = v
	}
	if v := strings.TrimSpace(os.Getenv("BOARDFILE_LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
}

// Save writes the config file, creating .boardfile/ when needed.
func Save(vault string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	path := Path(vault)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// EnsureFile writes a default config when none exists yet and reports
// whether it created one.
func EnsureFile(vault string) (bool, error) {
	path := Path(vault)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := Save(vault, Default()); err != nil {
		return false, err
	}
	return true, nil
}

// Set applies a key=value pair from `config set`. Keys mirror the toml field
// names.
func (c *Config) Set(key, value string) error {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "board":
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("board path cannot be empty")
		}
		c.Board = strings.TrimSpace(value)
	case "archive_folder":
		c.ArchiveFolder = strings.TrimSpace(value)
	case "history":
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("history wants true or false, got %q", value)
		}
		c.History = b
	case "log_level":
		c.LogLevel = strings.TrimSpace(value)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}
