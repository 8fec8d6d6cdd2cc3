package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/amirbrooks/boardfile/internal/board"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := ws.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return ws
}

func freezeTime(t *testing.T, at time.Time) {
	t.Helper()
	prev := timeNow
	timeNow = func() time.Time { return at }
	t.Cleanup(func() { timeNow = prev })
}

func TestInitScaffoldsVault(t *testing.T) {
	ws, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	res, err := ws.Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !res.BoardCreated || !res.ConfigCreated {
		t.Fatalf("expected both files created, got %+v", res)
	}

	data, err := os.ReadFile(ws.BoardPath())
	if err != nil {
		t.Fatalf("read board: %v", err)
	}
	meta, ok := ParseBoardMeta(string(data))
	if !ok {
		t.Fatalf("scaffolded board has no frontmatter:\n%s", data)
	}
	if meta.Schema != "ai-tasks-board/v1" {
		t.Fatalf("schema = %q", meta.Schema)
	}
	if !strings.HasPrefix(meta.BoardID, "board_") {
		t.Fatalf("board_id = %q", meta.BoardID)
	}

	b, err := board.Parse(string(data))
	if err != nil {
		t.Fatalf("scaffolded board does not parse: %v", err)
	}
	if len(b.Sections) != 5 {
		t.Fatalf("sections = %d, want 5", len(b.Sections))
	}

	again, err := ws.Init()
	if err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if again.BoardCreated || again.ConfigCreated {
		t.Fatalf("second Init should not recreate files: %+v", again)
	}
}

func TestHistoryPathForBoard(t *testing.T) {
	cases := []struct {
		rel  string
		want string
	}{
		{"Tasks/Boards/Board.md", "Tasks/History/Boards/Board.TS.md"},
		{"Work/Boards/Plan.md", "Work/History/Boards/Plan.TS.md"},
		{"Boards/Board.md", "Boards/History/Board.TS.md"},
		{"Board.md", "History/Board.TS.md"},
		{"Notes/daily.md", "Notes/History/daily.TS.md"},
		{"Tasks/Boards/BOARD.MD", "Tasks/History/Boards/BOARD.TS.md"},
	}
	for _, c := range cases {
		if got := HistoryPathForBoard(c.rel, "TS"); got != c.want {
			t.Fatalf("HistoryPathForBoard(%q) = %q, want %q", c.rel, got, c.want)
		}
	}
}

func TestWriteBoardSnapshotsHistory(t *testing.T) {
	freezeTime(t, time.Date(2026, 8, 21, 10, 30, 0, 0, time.UTC))
	ws := newTestWorkspace(t)

	original, _, err := ws.ReadBoard()
	if err != nil {
		t.Fatalf("ReadBoard: %v", err)
	}
	next, err := board.InsertTaskBlock(original, board.StatusTodo, "", board.BuildTaskBlock(board.BlockParams{
		UUID:    "11111111-aaaa-bbbb-cccc-000000000000",
		Title:   "Snapshot me",
		Status:  board.StatusTodo,
		Created: "2026-08-21T10:00:00Z",
	}))
	if err != nil {
		t.Fatalf("InsertTaskBlock: %v", err)
	}
	if err := ws.WriteBoard(next); err != nil {
		t.Fatalf("WriteBoard: %v", err)
	}

	histPath := filepath.Join(ws.Vault, "Tasks", "History", "Boards", "Board.2026-08-21T10-30-00Z.md")
	snap, err := os.ReadFile(histPath)
	if err != nil {
		t.Fatalf("history snapshot missing: %v", err)
	}
	if string(snap) != original {
		t.Fatalf("snapshot must capture the pre-write board")
	}
	data, err := os.ReadFile(ws.BoardPath())
	if err != nil {
		t.Fatalf("read board: %v", err)
	}
	if string(data) != next {
		t.Fatalf("board not replaced")
	}
}

func TestWriteBoardHistoryDisabled(t *testing.T) {
	freezeTime(t, time.Date(2026, 8, 21, 11, 0, 0, 0, time.UTC))
	ws := newTestWorkspace(t)

	cfg := ws.Config()
	cfg.History = false
	if err := ws.SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	content, _, err := ws.ReadBoard()
	if err != nil {
		t.Fatalf("ReadBoard: %v", err)
	}
	if err := ws.WriteBoard(content + "\n"); err != nil {
		t.Fatalf("WriteBoard: %v", err)
	}
	histPath := filepath.Join(ws.Vault, "Tasks", "History", "Boards", "Board.2026-08-21T11-00-00Z.md")
	if _, err := os.Stat(histPath); err == nil {
		t.Fatalf("history snapshot written despite history=false")
	}
}

func TestParseBoardMeta(t *testing.T) {
	meta, ok := ParseBoardMeta("---\nschema: ai-tasks-board/v1\nboard_id: board_X\nstatuses: [Todo]\n---\n\n# B\n")
	if !ok || meta.BoardID != "board_X" || len(meta.Statuses) != 1 {
		t.Fatalf("meta = %+v, ok = %v", meta, ok)
	}

	meta, ok = ParseBoardMeta("---\r\nboard_id: board_Y\r\n---\r\nbody\n")
	if !ok || meta.BoardID != "board_Y" {
		t.Fatalf("crlf meta = %+v, ok = %v", meta, ok)
	}
	if meta.Schema != "ai-tasks-board/v1" {
		t.Fatalf("missing schema should default, got %q", meta.Schema)
	}

	if _, ok := ParseBoardMeta("# no frontmatter\n"); ok {
		t.Fatalf("document without frontmatter must report ok=false")
	}
}

func TestDoctorReportsAndFixes(t *testing.T) {
	ws := newTestWorkspace(t)

	corrupt := "---\nschema: ai-tasks-board/v1\n---\n\n" +
		"<!-- AI-TASKS:BEGIN -->\n" +
		`## Todo\n\n` +
		"<!-- AI-TASKS:END -->\n"
	if err := os.WriteFile(ws.BoardPath(), []byte(corrupt), 0o644); err != nil {
		t.Fatalf("write corrupt board: %v", err)
	}

	rep, err := ws.Doctor(false)
	if err != nil {
		t.Fatalf("Doctor: %v", err)
	}
	if !rep.EscapedNewlines {
		t.Fatalf("escaped newlines not detected: %+v", rep)
	}
	if len(rep.MissingSections) != 4 {
		t.Fatalf("missing sections = %v", rep.MissingSections)
	}
	if rep.Fixed {
		t.Fatalf("dry run must not fix")
	}
	data, _ := os.ReadFile(ws.BoardPath())
	if string(data) != corrupt {
		t.Fatalf("dry run must not touch the file")
	}

	rep, err = ws.Doctor(true)
	if err != nil {
		t.Fatalf("Doctor --fix: %v", err)
	}
	if !rep.Fixed {
		t.Fatalf("fix did not run: %+v", rep)
	}

	rep, err = ws.Doctor(false)
	if err != nil {
		t.Fatalf("Doctor after fix: %v", err)
	}
	if rep.EscapedNewlines || len(rep.MissingSections) != 0 || rep.ParseError != "" || rep.SchemaWarning != "" {
		t.Fatalf("board still unhealthy after fix: %+v", rep)
	}
}

func TestDoctorSchemaWarning(t *testing.T) {
	ws := newTestWorkspace(t)
	content := "---\nschema: ai-notes/v9\n---\n\n" +
		"<!-- AI-TASKS:BEGIN -->\n" +
		"## Unassigned\n\n## Todo\n\n## Doing\n\n## Review\n\n## Done\n" +
		"<!-- AI-TASKS:END -->\n"
	if err := os.WriteFile(ws.BoardPath(), []byte(content), 0o644); err != nil {
		t.Fatalf("write board: %v", err)
	}

	rep, err := ws.Doctor(true)
	if err != nil {
		t.Fatalf("Doctor: %v", err)
	}
	if !strings.Contains(rep.SchemaWarning, "ai-notes/v9") {
		t.Fatalf("schema warning = %q", rep.SchemaWarning)
	}
	if rep.Fixed {
		t.Fatalf("frontmatter is report-only, must not be rewritten")
	}
	data, _ := os.ReadFile(ws.BoardPath())
	if string(data) != content {
		t.Fatalf("doctor must not touch off-schema frontmatter")
	}
}

func TestDoctorReportsOrphans(t *testing.T) {
	ws := newTestWorkspace(t)
	content := "<!-- AI-TASKS:BEGIN -->\n## Todo\n\n" +
		"<!-- AI-TASKS:TASK 12121212-aaaa-bbbb-cccc-000000000000 BEGIN -->\n" +
		"> [!todo] Half a task\n" +
		"<!-- AI-TASKS:END -->\n"
	if err := os.WriteFile(ws.BoardPath(), []byte(content), 0o644); err != nil {
		t.Fatalf("write board: %v", err)
	}

	rep, err := ws.Doctor(false)
	if err != nil {
		t.Fatalf("Doctor: %v", err)
	}
	if len(rep.OrphanedMarkers) != 1 || rep.OrphanedMarkers[0] != "12121212-aaaa-bbbb-cccc-000000000000" {
		t.Fatalf("orphans = %v", rep.OrphanedMarkers)
	}
}

func TestDoctorParseError(t *testing.T) {
	ws := newTestWorkspace(t)
	if err := os.WriteFile(ws.BoardPath(), []byte("# no region here\n"), 0o644); err != nil {
		t.Fatalf("write board: %v", err)
	}
	rep, err := ws.Doctor(true)
	if err != nil {
		t.Fatalf("Doctor: %v", err)
	}
	if rep.ParseError == "" {
		t.Fatalf("expected a parse error, got %+v", rep)
	}
	if rep.Fixed {
		t.Fatalf("structural damage must not be auto-fixed")
	}
}

func TestBoardInfoCounts(t *testing.T) {
	ws := newTestWorkspace(t)
	if _, err := ws.CreateTask(CreateTaskInput{Title: "One", Status: "Todo"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := ws.CreateTask(CreateTaskInput{Title: "Two", Status: "Todo"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	info, err := ws.BoardInfo()
	if err != nil {
		t.Fatalf("BoardInfo: %v", err)
	}
	if !info.HasMeta || info.Total != 2 {
		t.Fatalf("info = %+v", info)
	}
	if len(info.Counts) != 5 {
		t.Fatalf("counts = %v", info.Counts)
	}
	for _, c := range info.Counts {
		want := 0
		if c.Status == board.StatusTodo {
			want = 2
		}
		if c.Count != want {
			t.Fatalf("count for %s = %d, want %d", c.Status, c.Count, want)
		}
	}
}

func TestStampMarkdownName(t *testing.T) {
	if got := stampMarkdownName("Board.md", "TS"); got != "Board.TS.md" {
		t.Fatalf("got %q", got)
	}
	if got := stampMarkdownName("notes.txt", "TS"); got != "notes.txt" {
		t.Fatalf("non-markdown names pass through, got %q", got)
	}
}
