package board

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const sampleBlock = `<!-- AI-TASKS:TASK aaaaaaaa-1111-2222-3333-444444444444 BEGIN -->
> [!todo] Write the parser
> status:: Todo
> tags:: core, parser
> created:: 2026-08-20T10:00:00Z
>
> Start with the region scan.
<!-- AI-TASKS:TASK aaaaaaaa-1111-2222-3333-444444444444 END -->
`

func TestBuildTaskBlock(t *testing.T) {
	got := BuildTaskBlock(BlockParams{
		UUID:     "AAAAAAAA-1111-2222-3333-444444444444",
		Title:    "  Ship it  ",
		Status:   StatusDoing,
		Tags:     []string{"go", "cli"},
		Sessions: []string{"codex:abc"},
		Body:     "First.\n\nSecond.",
		Created:  "2026-08-21T00:00:00Z",
	})
	want := `<!-- AI-TASKS:TASK aaaaaaaa-1111-2222-3333-444444444444 BEGIN -->
> [!todo] Ship it
> status:: Doing
> tags:: go, cli
> sessions:: codex:abc
> created:: 2026-08-21T00:00:00Z
>
> First.
>
> Second.
<!-- AI-TASKS:TASK aaaaaaaa-1111-2222-3333-444444444444 END -->
`
	if got != want {
		t.Fatalf("got:\n%q\nwant:\n%q", got, want)
	}
}

func TestBuildTaskBlockDefaults(t *testing.T) {
	prev := timeNow
	timeNow = func() time.Time { return time.Date(2026, 8, 21, 12, 0, 0, 0, time.UTC) }
	defer func() { timeNow = prev }()

	got := BuildTaskBlock(BlockParams{Title: "   ", Status: Status("Blocked")})
	if !strings.Contains(got, "> [!todo] (Untitled)\n") {
		t.Fatalf("blank title should fall back:\n%s", got)
	}
	if !strings.Contains(got, "> status:: Unassigned\n") {
		t.Fatalf("unknown status should fall back:\n%s", got)
	}
	if !strings.Contains(got, "> created:: 2026-08-21T12:00:00Z\n") {
		t.Fatalf("created not stamped:\n%s", got)
	}
	if strings.Contains(got, "> tags::") || strings.Contains(got, "> sessions::") {
		t.Fatalf("empty fields must be omitted:\n%s", got)
	}

	uid := taskUUIDFromBlock(t, got)
	if uid == "" || uid != strings.ToLower(uid) {
		t.Fatalf("generated uuid = %q", uid)
	}
	if !strings.HasSuffix(got, TaskEndMarker(uid)+"\n") {
		t.Fatalf("end marker mismatch:\n%s", got)
	}
}

func taskUUIDFromBlock(t *testing.T, block string) string {
	t.Helper()
	m := taskBeginRE.FindStringSubmatch(block)
	if m == nil {
		t.Fatalf("no begin marker in block:\n%s", block)
	}
	return m[1]
}

func TestRewriteStatusFieldInPlace(t *testing.T) {
	block := sampleBlock + "\n"
	got, err := RewriteStatusField(block, StatusReview)
	if err != nil {
		t.Fatalf("RewriteStatusField: %v", err)
	}
	want := strings.Replace(block, "> status:: Todo", "> status:: Review", 1)
	if got != want {
		t.Fatalf("got:\n%q\nwant:\n%q", got, want)
	}
	if !strings.HasSuffix(got, "END -->\n\n") {
		t.Fatalf("trailing newlines must survive, tail %q", got[len(got)-12:])
	}
}

func TestRewriteStatusFieldInsertsAfterCallout(t *testing.T) {
	block := "<!-- AI-TASKS:TASK 11111111-aaaa-bbbb-cccc-000000000000 BEGIN -->\n" +
		"> [!todo] Bare\n" +
		"<!-- AI-TASKS:TASK 11111111-aaaa-bbbb-cccc-000000000000 END -->\n"
	got, err := RewriteStatusField(block, StatusDone)
	if err != nil {
		t.Fatalf("RewriteStatusField: %v", err)
	}
	if !strings.Contains(got, "> [!todo] Bare\n> status:: Done\n") {
		t.Fatalf("status not inserted after callout:\n%s", got)
	}
}

func TestRewriteStatusFieldNoEndMarker(t *testing.T) {
	if _, err := RewriteStatusField("> [!todo] Broken\n", StatusDone); !errors.Is(err, ErrMalformedBlock) {
		t.Fatalf("err = %v, want ErrMalformedBlock", err)
	}
}

func TestRewriteTitle(t *testing.T) {
	got := RewriteTitle(sampleBlock, "Parse everything")
	if !strings.Contains(got, "> [!todo] Parse everything\n") {
		t.Fatalf("title not rewritten:\n%s", got)
	}
	if strings.Contains(got, "Write the parser") {
		t.Fatalf("old title still present:\n%s", got)
	}

	if got := RewriteTitle(sampleBlock, "  "); !strings.Contains(got, "> [!todo] (Untitled)\n") {
		t.Fatalf("blank title should fall back:\n%s", got)
	}

	noCallout := "<!-- AI-TASKS:TASK 11111111-aaaa-bbbb-cccc-000000000000 BEGIN -->\n" +
		"> status:: Todo\n" +
		"<!-- AI-TASKS:TASK 11111111-aaaa-bbbb-cccc-000000000000 END -->\n"
	if got := RewriteTitle(noCallout, "New"); got != noCallout {
		t.Fatalf("block without callout must come back unchanged")
	}
}

func TestRewriteTags(t *testing.T) {
	if got := RewriteTags(sampleBlock, nil); got != sampleBlock {
		t.Fatalf("nil tags must leave the block alone")
	}

	got := RewriteTags(sampleBlock, []string{})
	if strings.Contains(got, "> tags::") {
		t.Fatalf("empty tags should remove the line:\n%s", got)
	}

	got = RewriteTags(sampleBlock, []string{" go ", "", "board"})
	if !strings.Contains(got, "> tags:: go, board\n") {
		t.Fatalf("tags not replaced:\n%s", got)
	}
	if strings.Contains(got, "core, parser") {
		t.Fatalf("old tags still present:\n%s", got)
	}

	noTags := "<!-- AI-TASKS:TASK 11111111-aaaa-bbbb-cccc-000000000000 BEGIN -->\n" +
		"> [!todo] Bare\n" +
		"> status:: Todo\n" +
		"<!-- AI-TASKS:TASK 11111111-aaaa-bbbb-cccc-000000000000 END -->\n"
	got = RewriteTags(noTags, []string{"fresh"})
	if !strings.Contains(got, "> status:: Todo\n> tags:: fresh\n") {
		t.Fatalf("tags not inserted after status:\n%s", got)
	}
}

func TestRewriteBody(t *testing.T) {
	got, err := RewriteBody(sampleBlock, "New body.\n\nTwo paragraphs.")
	if err != nil {
		t.Fatalf("RewriteBody: %v", err)
	}
	if !strings.Contains(got, ">\n> New body.\n>\n> Two paragraphs.\n<!-- AI-TASKS:TASK") {
		t.Fatalf("body not rewritten:\n%s", got)
	}
	if strings.Contains(got, "region scan") {
		t.Fatalf("old body still present:\n%s", got)
	}

	noDelim := "<!-- AI-TASKS:TASK 11111111-aaaa-bbbb-cccc-000000000000 BEGIN -->\n" +
		"> [!todo] Bare\n" +
		"<!-- AI-TASKS:TASK 11111111-aaaa-bbbb-cccc-000000000000 END -->\n"
	got, err = RewriteBody(noDelim, "x")
	if err != nil || got != noDelim {
		t.Fatalf("block without delimiter must come back unchanged, err=%v", err)
	}

	if _, err := RewriteBody("> [!todo] Broken\n>\n", "x"); !errors.Is(err, ErrMalformedBlock) {
		t.Fatalf("err = %v, want ErrMalformedBlock", err)
	}
}

func TestAddSessionRef(t *testing.T) {
	got := AddSessionRef(sampleBlock, "codex:abc123")
	if !strings.Contains(got, "> tags:: core, parser\n> sessions:: codex:abc123\n") {
		t.Fatalf("sessions line not inserted after tags:\n%s", got)
	}

	again := AddSessionRef(got, "CODEX:ABC123")
	if again != got {
		t.Fatalf("duplicate ref must be a no-op:\n%q\nvs\n%q", again, got)
	}

	more := AddSessionRef(got, "codex:def456")
	if !strings.Contains(more, "> sessions:: codex:abc123, codex:def456\n") {
		t.Fatalf("second ref not appended:\n%s", more)
	}

	if got := AddSessionRef(sampleBlock, "   "); got != sampleBlock {
		t.Fatalf("blank ref must leave the block alone")
	}
}

func TestMarkTaskArchived(t *testing.T) {
	got := MarkTaskArchived(sampleBlock, "2026-08-21T12:00:00Z")
	if !strings.Contains(got, "> created:: 2026-08-20T10:00:00Z\n> archived:: 2026-08-21T12:00:00Z\n") {
		t.Fatalf("archived not inserted after created:\n%s", got)
	}

	restamped := MarkTaskArchived(got, "2026-08-22T00:00:00Z")
	if !strings.Contains(restamped, "> archived:: 2026-08-22T00:00:00Z\n") {
		t.Fatalf("archived not restamped:\n%s", restamped)
	}
	if strings.Contains(restamped, "2026-08-21T12:00:00Z") {
		t.Fatalf("old archived stamp still present:\n%s", restamped)
	}
}

func TestTouchUpdated(t *testing.T) {
	got := TouchUpdated(sampleBlock, "2026-08-21T13:00:00Z")
	if !strings.Contains(got, "> created:: 2026-08-20T10:00:00Z\n> updated:: 2026-08-21T13:00:00Z\n") {
		t.Fatalf("updated not inserted after created:\n%s", got)
	}

	later := TouchUpdated(got, "2026-08-21T14:00:00Z")
	if !strings.Contains(later, "> updated:: 2026-08-21T14:00:00Z\n") || strings.Contains(later, "13:00:00") {
		t.Fatalf("updated not restamped:\n%s", later)
	}
}
