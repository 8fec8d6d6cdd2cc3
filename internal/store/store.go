package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"

	"github.com/amirbrooks/boardfile/internal/board"
	"github.com/amirbrooks/boardfile/internal/config"
)

type randReader struct{}

func (randReader) Read(p []byte) (int, error) { return rand.Read(p) }

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid")
	timeNow     = func() time.Time { return time.Now().UTC() }
)

// MatchConflictError provides details when a selector matches multiple tasks.
// It still satisfies errors.Is(err, ErrConflict).
type MatchConflictError struct {
	Selector string
	Matches  []TaskSummary
}

func (e *MatchConflictError) Error() string {
	if e == nil || strings.TrimSpace(e.Selector) == "" {
		return "conflict"
	}
	return fmt.Sprintf("conflict: %q matches %d tasks", e.Selector, len(e.Matches))
}

func (e *MatchConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Workspace is a vault directory holding one managed board file plus its
// config, history snapshots, and archive files.
type Workspace struct {
	Vault string
	cfg   config.Config
}

// Open opens a workspace rooted at vault. It does not create files; the
// board and config appear on first use or via Init.
func Open(vault string) (*Workspace, error) {
	abs, err := filepath.Abs(expandHome(vault))
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(abs)
	if err != nil {
		return nil, err
	}
	return &Workspace{Vault: abs, cfg: cfg}, nil
}

func (ws *Workspace) Config() config.Config { return ws.cfg }

// SaveConfig persists cfg and adopts it for the rest of the process.
func (ws *Workspace) SaveConfig(cfg config.Config) error {
	if err := config.Save(ws.Vault, cfg); err != nil {
		return err
	}
	ws.cfg = cfg
	return nil
}

// BoardPath returns the absolute path of the managed board file.
func (ws *Workspace) BoardPath() string {
	return filepath.Join(ws.Vault, filepath.FromSlash(boardRelPath(ws.cfg.Board)))
}

func boardRelPath(rel string) string {
	norm := strings.Trim(strings.ReplaceAll(strings.TrimSpace(rel), "\\", "/"), "/")
	if norm == "" {
		return config.DefaultBoardPath
	}
	return norm
}

// InitResult reports what Init created.
type InitResult struct {
	BoardPath     string `json:"board_path"`
	BoardCreated  bool   `json:"board_created"`
	ConfigPath    string `json:"config_path"`
	ConfigCreated bool   `json:"config_created"`
}

// Init scaffolds the vault: a default config under .boardfile/ and the board
// file itself. Existing files are left alone.
func (ws *Workspace) Init() (InitResult, error) {
	res := InitResult{BoardPath: ws.BoardPath(), ConfigPath: config.Path(ws.Vault)}
	cfgCreated, err := config.EnsureFile(ws.Vault)
	if err != nil {
		return res, err
	}
	res.ConfigCreated = cfgCreated
	boardCreated, err := ws.EnsureBoardFile()
	if err != nil {
		return res, err
	}
	res.BoardCreated = boardCreated
	return res, nil
}

// EnsureBoardFile creates the board with its default scaffold when missing
// and reports whether it wrote anything.
func (ws *Workspace) EnsureBoardFile() (bool, error) {
	path := ws.BoardPath()
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if err := atomicWriteFile(path, []byte(DefaultBoardMarkdown()), 0o644); err != nil {
		return false, err
	}
	return true, nil
}

const boardSchema = "ai-tasks-board/v1"

// DefaultBoardMarkdown renders the starter board: frontmatter, a title, and
// a managed region with all five status headings.
func DefaultBoardMarkdown() string {
	lines := []string{
		"---",
		"schema: " + boardSchema,
		"board_id: board_" + newULID(),
		"statuses: [Unassigned, Todo, Doing, Review, Done]",
		"---",
		"",
		"# AI Tasks Board",
		"",
		board.RegionBegin,
		"## Unassigned",
		"",
		"## Todo",
		"",
		"## Doing",
		"",
		"## Review",
		"",
		"## Done",
		board.RegionEnd,
		"",
	}
	return strings.Join(lines, "\n")
}

// ReadBoard loads the board document, creating it first when missing. The
// returned flag reports whether escaped-newline corruption was repaired in
// the returned text; the file itself is only rewritten by a mutation or by
// doctor --fix.
func (ws *Workspace) ReadBoard() (string, bool, error) {
	if _, err := ws.EnsureBoardFile(); err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(ws.BoardPath())
	if err != nil {
		return "", false, err
	}
	text, repaired := board.NormalizeEscapedNewlines(string(data))
	return text, repaired, nil
}

// WriteBoard replaces the board file. When history is enabled the pre-write
// content is snapshotted first, so every revision stays recoverable.
func (ws *Workspace) WriteBoard(next string) error {
	path := ws.BoardPath()
	if ws.cfg.History {
		current, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			current = []byte(DefaultBoardMarkdown())
		}
		histRel := HistoryPathForBoard(boardRelPath(ws.cfg.Board), historyTimestamp(timeNow()))
		histPath := filepath.Join(ws.Vault, filepath.FromSlash(histRel))
		if err := atomicWriteFile(histPath, current, 0o644); err != nil {
			return err
		}
	}
	return atomicWriteFile(path, []byte(next), 0o644)
}

// HistoryPathForBoard maps a board's vault-relative path to its snapshot
// location. Boards under a Boards/ folder snapshot into a sibling
// History/Boards/; anything else snapshots into a History/ folder next to
// the file.
func HistoryPathForBoard(boardRel, ts string) string {
	norm := strings.ReplaceAll(boardRel, "\\", "/")
	if norm == "" {
		norm = config.DefaultBoardPath
	}
	parts := strings.Split(norm, "/")
	baseName := parts[len(parts)-1]
	if baseName == "" {
		baseName = "Board.md"
	}
	stamped := stampMarkdownName(baseName, ts)

	if idx := strings.LastIndex(norm, "/Boards/"); idx != -1 {
		prefix := norm[:idx]
		if prefix == "" {
			return "History/Boards/" + stamped
		}
		return prefix + "/History/Boards/" + stamped
	}
	parent := strings.Join(parts[:len(parts)-1], "/")
	if parent == "" {
		return "History/" + stamped
	}
	return parent + "/History/" + stamped
}

var mdSuffixRE = regexp.MustCompile(`(?i)\.md$`)

func stampMarkdownName(name, ts string) string {
	loc := mdSuffixRE.FindStringIndex(name)
	if loc == nil {
		return name
	}
	return name[:loc[0]] + "." + ts + ".md"
}

func historyTimestamp(t time.Time) string {
	iso := t.Format(time.RFC3339)
	iso = strings.ReplaceAll(iso, ":", "-")
	return strings.ReplaceAll(iso, ".", "-")
}

// BoardMeta is the YAML frontmatter of a board file.
type BoardMeta struct {
	Schema   string   `yaml:"schema" json:"schema"`
	BoardID  string   `yaml:"board_id" json:"board_id"`
	Statuses []string `yaml:"statuses" json:"statuses"`
}

// ParseBoardMeta reads the frontmatter block, tolerating CRLF line endings.
// The second return is false when the document has no parseable frontmatter.
func ParseBoardMeta(content string) (BoardMeta, bool) {
	meta := BoardMeta{}
	s := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(s, "---\n") {
		return meta, false
	}
	rest := strings.TrimPrefix(s, "---\n")
	parts := strings.SplitN(rest, "\n---\n", 2)
	if len(parts) != 2 {
		return meta, false
	}
	if err := yaml.Unmarshal([]byte(parts[0]), &meta); err != nil {
		return meta, false
	}
	if strings.TrimSpace(meta.Schema) == "" {
		meta.Schema = boardSchema
	}
	return meta, true
}

// StatusCount pairs a status with its task count for board summaries.
type StatusCount struct {
	Status board.Status `json:"status"`
	Count  int          `json:"count"`
}

// BoardInfo is the payload of the `board` command.
type BoardInfo struct {
	Path    string        `json:"path"`
	Meta    BoardMeta     `json:"meta"`
	HasMeta bool          `json:"has_meta"`
	Counts  []StatusCount `json:"counts"`
	Total   int           `json:"total"`
}

// BoardInfo summarizes the board document: its location, frontmatter, and
// per-status task counts.
func (ws *Workspace) BoardInfo() (BoardInfo, error) {
	content, _, err := ws.ReadBoard()
	if err != nil {
		return BoardInfo{}, err
	}
	info := BoardInfo{Path: ws.BoardPath()}
	info.Meta, info.HasMeta = ParseBoardMeta(content)

	b, err := board.Parse(content)
	if err != nil {
		return info, err
	}
	for _, st := range board.Statuses() {
		n := 0
		if sec := b.Section(st); sec != nil {
			n = len(sec.Tasks)
		}
		info.Counts = append(info.Counts, StatusCount{Status: st, Count: n})
		info.Total += n
	}
	return info, nil
}

// DoctorReport lists what a doctor pass found, and whether --fix rewrote the
// board.
type DoctorReport struct {
	BoardPath       string         `json:"board_path"`
	Created         bool           `json:"created"`
	EscapedNewlines bool           `json:"escaped_newlines"`
	MissingSections []board.Status `json:"missing_sections"`
	OrphanedMarkers []string       `json:"orphaned_markers"`
	SchemaWarning   string         `json:"schema_warning,omitempty"`
	ParseError      string         `json:"parse_error,omitempty"`
	Fixed           bool           `json:"fixed"`
}

// Doctor inspects the board for the known corruption modes: escaped newline
// sequences, missing status sections, orphaned task markers, and off-schema
// frontmatter. With fix set it repairs what it safely can; structural damage
// to the region markers is reported, never guessed at.
func (ws *Workspace) Doctor(fix bool) (DoctorReport, error) {
	rep := DoctorReport{BoardPath: ws.BoardPath()}
	created, err := ws.EnsureBoardFile()
	if err != nil {
		return rep, err
	}
	rep.Created = created

	data, err := os.ReadFile(ws.BoardPath())
	if err != nil {
		return rep, err
	}
	text, repaired := board.NormalizeEscapedNewlines(string(data))
	rep.EscapedNewlines = repaired

	if meta, ok := ParseBoardMeta(text); !ok {
		rep.SchemaWarning = "no frontmatter"
	} else if meta.Schema != boardSchema {
		rep.SchemaWarning = fmt.Sprintf("schema is %q, want %q", meta.Schema, boardSchema)
	}

	b, perr := board.Parse(text)
	if perr != nil {
		rep.ParseError = perr.Error()
		if fix && repaired {
			if err := ws.WriteBoard(text); err != nil {
				return rep, err
			}
			rep.Fixed = true
		}
		return rep, nil
	}

	for _, st := range board.Statuses() {
		if b.Section(st) == nil {
			rep.MissingSections = append(rep.MissingSections, st)
		}
	}
	orphans, err := board.OrphanedTaskMarkers(text)
	if err != nil {
		return rep, err
	}
	rep.OrphanedMarkers = orphans

	if fix && (repaired || len(rep.MissingSections) > 0) {
		next, err := board.EnsureSections(text)
		if err != nil {
			return rep, err
		}
		if next != string(data) {
			if err := ws.WriteBoard(next); err != nil {
				return rep, err
			}
			rep.Fixed = true
		}
	}
	return rep, nil
}

func newULID() string {
	id, err := ulid.New(ulid.Timestamp(timeNow()), ulid.Monotonic(randReader{}, 0))
	if err != nil {
		return fmt.Sprintf("%d", timeNow().UnixNano())
	}
	return strings.ToUpper(id.String())
}

func utcNowISO() string {
	return timeNow().Format(time.RFC3339)
}

func atomicWriteFile(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".tmp-%d", time.Now().UnixNano()))
	if err := os.WriteFile(tmp, data, perm); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	if strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
