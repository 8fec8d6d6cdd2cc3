package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMissingFileDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Board != DefaultBoardPath {
		t.Fatalf("board = %q", cfg.Board)
	}
	if cfg.ArchiveFolder != DefaultArchiveFolder {
		t.Fatalf("archive_folder = %q", cfg.ArchiveFolder)
	}
	if !cfg.History {
		t.Fatal("history should default on")
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Fatalf("log_level = %q", cfg.LogLevel)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	vault := t.TempDir()
	want := Config{
		Board:         "Boards/Work.md",
		ArchiveFolder: "Done",
		History:       false,
		LogLevel:      "debug",
	}
	if err := Save(vault, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(vault)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestLoadBlankFieldsFallBack(t *testing.T) {
	vault := t.TempDir()
	if err := Save(vault, Config{Board: "  ", ArchiveFolder: "", History: true}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(vault)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Board != DefaultBoardPath || got.ArchiveFolder != DefaultArchiveFolder {
		t.Fatalf("got %+v", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("BOARDFILE_BOARD", "Env/Board.md")
	t.Setenv("BOARDFILE_LOG_LEVEL", "debug")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Board != "Env/Board.md" {
		t.Fatalf("board = %q", cfg.Board)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q", cfg.LogLevel)
	}
}

func TestLoadParseError(t *testing.T) {
	vault := t.TempDir()
	if err := os.MkdirAll(filepath.Join(vault, DirName), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(Path(vault), []byte("board = [broken\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(vault); err == nil {
		t.Fatal("want parse error")
	}
}

func TestEnsureFile(t *testing.T) {
	vault := t.TempDir()
	created, err := EnsureFile(vault)
	if err != nil {
		t.Fatalf("EnsureFile: %v", err)
	}
	if !created {
		t.Fatal("first call should create the file")
	}
	data, err := os.ReadFile(Path(vault))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "Tasks/Boards/Board.md") {
		t.Fatalf("config body:\n%s", data)
	}

	created, err = EnsureFile(vault)
	if err != nil {
		t.Fatalf("EnsureFile: %v", err)
	}
	if created {
		t.Fatal("second call should be a no-op")
	}
}

func TestSet(t *testing.T) {
	cfg := Default()

	if err := cfg.Set("board", " Boards/Work.md "); err != nil {
		t.Fatalf("Set board: %v", err)
	}
	if cfg.Board != "Boards/Work.md" {
		t.Fatalf("board = %q", cfg.Board)
	}
	if err := cfg.Set("board", "   "); err == nil {
		t.Fatal("empty board path should fail")
	}

	if err := cfg.Set("History", "false"); err != nil {
		t.Fatalf("Set history: %v", err)
	}
	if cfg.History {
		t.Fatal("history should be off")
	}
	if err := cfg.Set("history", "nope"); err == nil {
		t.Fatal("bad bool should fail")
	}

	if err := cfg.Set("log_level", "debug"); err != nil {
		t.Fatalf("Set log_level: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q", cfg.LogLevel)
	}

	if err := cfg.Set("color", "red"); err == nil {
		t.Fatal("unknown key should fail")
	}
}
