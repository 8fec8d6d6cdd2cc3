package board

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timeNow is a hook for tests.
var timeNow = func() time.Time { return time.Now().UTC() }

func utcNowISO() string {
	return timeNow().Format(time.RFC3339)
}

// BlockParams describes a task block to render. UUID and Created default to a
// fresh uuid and the current UTC time; an unknown Status falls back to
// Unassigned.
type BlockParams struct {
	UUID     string
	Title    string
	Status   Status
	Tags     []string
	Sessions []string
	Body     string
	Created  string
}

// BuildTaskBlock renders a complete task block: begin marker, callout title,
// one line per metadata field, a bare ">" delimiter, then the body
// blockquoted line by line, then the end marker. The result always ends with
// a single newline.
func BuildTaskBlock(p BlockParams) string {
	uid := strings.ToLower(strings.TrimSpace(p.UUID))
	if uid == "" {
		uid = uuid.NewString()
	}
	st, ok := ParseStatus(string(p.Status))
	if !ok {
		st = StatusUnassigned
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = UntitledTitle
	}
	created := strings.TrimSpace(p.Created)
	if created == "" {
		created = utcNowISO()
	}

	lines := []string{
		TaskBeginMarker(uid),
		"> [!todo] " + title,
		"> status:: " + string(st),
	}
	if len(p.Tags) > 0 {
		lines = append(lines, "> tags:: "+strings.Join(p.Tags, ", "))
	}
	if len(p.Sessions) > 0 {
		lines = append(lines, "> sessions:: "+strings.Join(p.Sessions, ", "))
	}
	lines = append(lines, "> created:: "+created, ">")
	if p.Body != "" {
		for _, bl := range strings.Split(strings.ReplaceAll(p.Body, "\r\n", "\n"), "\n") {
			if strings.TrimSpace(bl) == "" {
				lines = append(lines, ">")
			} else {
				lines = append(lines, "> "+bl)
			}
		}
	}
	lines = append(lines, TaskEndMarker(uid))
	return strings.Join(lines, "\n") + "\n"
}

// RewriteStatusField pins the block's status:: line to st without touching
// any other byte, so a moved block survives round trips intact. A missing
// status line is inserted after the callout, or directly after the begin
// marker when there is no callout either.
func RewriteStatusField(block string, st Status) (string, error) {
	if !hasTaskEndLine(block) {
		return "", fmt.Errorf("%w: no end marker", ErrMalformedBlock)
	}
	lines := strings.Split(block, "\n")
	newLine := "> status:: " + string(st)
	for i, line := range lines {
		if statusFieldLineRE.MatchString(line) {
			lines[i] = newLine
			return strings.Join(lines, "\n"), nil
		}
	}
	for i, line := range lines {
		if calloutLineRE.MatchString(line) {
			return strings.Join(insertLine(lines, i+1, newLine), "\n"), nil
		}
	}
	return strings.Join(insertLine(lines, 1, newLine), "\n"), nil
}

// RewriteTitle rewrites every callout line to carry the new title. Blocks
// without a callout come back unchanged.
func RewriteTitle(block, title string) string {
	t := strings.TrimSpace(title)
	if t == "" {
		t = UntitledTitle
	}
	lines := strings.Split(strings.ReplaceAll(block, "\r\n", "\n"), "\n")
	changed := false
	for i, line := range lines {
		if m := calloutPrefixRE.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + " " + t
			changed = true
		}
	}
	if !changed {
		return block
	}
	return strings.Join(lines, "\n")
}

// RewriteTags replaces the block's tags:: line. A nil slice leaves the block
// alone; an empty non-nil one removes the line entirely.
func RewriteTags(block string, tags []string) string {
	if tags == nil {
		return block
	}
	var tagList []string
	for _, t := range tags {
		if s := strings.TrimSpace(t); s != "" {
			tagList = append(tagList, s)
		}
	}

	lines := strings.Split(strings.ReplaceAll(block, "\r\n", "\n"), "\n")
	tagsIdx := -1
	for i, line := range lines {
		if tagsFieldLineRE.MatchString(line) {
			tagsIdx = i
			break
		}
	}

	if len(tagList) == 0 {
		if tagsIdx == -1 {
			return block
		}
		lines = append(lines[:tagsIdx], lines[tagsIdx+1:]...)
		return strings.Join(lines, "\n")
	}

	newLine := "> tags:: " + strings.Join(tagList, ", ")
	if tagsIdx != -1 {
		lines[tagsIdx] = newLine
		return strings.Join(lines, "\n")
	}

	insertAfter := firstMatch(lines, statusFieldLineRE, calloutLineRE)
	if insertAfter == -1 {
		insertAfter = 0
	}
	return strings.Join(insertLine(lines, insertAfter+1, newLine), "\n")
}

// RewriteBody swaps everything between the first bare ">" delimiter line and
// the end marker for the new body. A block with no delimiter, or a delimiter
// at or past the end marker, comes back unchanged.
func RewriteBody(block, body string) (string, error) {
	lines := strings.Split(strings.ReplaceAll(block, "\r\n", "\n"), "\n")

	endIdx := -1
	for i, line := range lines {
		if taskEndLineRE.MatchString(strings.TrimSpace(line)) {
			endIdx = i
			break
		}
	}
	if endIdx == -1 {
		return "", fmt.Errorf("%w: no end marker", ErrMalformedBlock)
	}

	delimIdx := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == ">" {
			delimIdx = i
			break
		}
	}
	if delimIdx == -1 || delimIdx >= endIdx {
		return block, nil
	}

	merged := append([]string{}, lines[:delimIdx+1]...)
	for _, bl := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(bl) == "" {
			merged = append(merged, ">")
		} else {
			merged = append(merged, "> "+bl)
		}
	}
	merged = append(merged, lines[endIdx:]...)
	return strings.Join(merged, "\n"), nil
}

// AddSessionRef appends a session reference to the sessions:: line, creating
// the line when absent. References compare case-insensitively; adding one
// that is already present is a no-op apart from newline termination.
func AddSessionRef(block, sessionRef string) string {
	ref := strings.TrimSpace(sessionRef)
	if ref == "" {
		return block
	}

	lines := strings.Split(strings.ReplaceAll(block, "\r\n", "\n"), "\n")
	for i, line := range lines {
		m := sessionsFieldRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		existing := splitTags(m[2])
		for _, p := range existing {
			if strings.EqualFold(p, ref) {
				if strings.HasSuffix(block, "\n") {
					return block
				}
				return block + "\n"
			}
		}
		existing = append(existing, ref)
		lines[i] = m[1] + strings.Join(existing, ", ")
		return strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n"
	}

	insertAfter := firstMatch(lines, tagsFieldLineRE, statusFieldLineRE, calloutLineRE)
	if insertAfter == -1 {
		insertAfter = 0
	}
	lines = insertLine(lines, insertAfter+1, "> sessions:: "+ref)
	return strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n"
}

// MarkTaskArchived stamps an archived:: field so a block records when it left
// the board.
func MarkTaskArchived(block, isoTime string) string {
	return upsertMetaField(block, archivedFieldLineRE, "archived", isoTime)
}

// TouchUpdated stamps an updated:: field after an edit.
func TouchUpdated(block, isoTime string) string {
	return upsertMetaField(block, updatedFieldLineRE, "updated", isoTime)
}

// upsertMetaField replaces the first line matching fieldRE, or inserts a new
// field line after created::, status::, or the callout, whichever exists
// first. The result is normalized to a single trailing newline.
func upsertMetaField(block string, fieldRE *regexp.Regexp, name, value string) string {
	lines := strings.Split(strings.ReplaceAll(block, "\r\n", "\n"), "\n")
	newLine := "> " + name + ":: " + value
	for i, line := range lines {
		if fieldRE.MatchString(line) {
			lines[i] = newLine
			return strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n"
		}
	}
	insertAfter := firstMatch(lines, createdFieldLineRE, statusFieldLineRE, calloutLineRE)
	if insertAfter == -1 {
		insertAfter = 0
	}
	lines = insertLine(lines, insertAfter+1, newLine)
	return strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n"
}

func hasTaskEndLine(block string) bool {
	for _, line := range strings.Split(block, "\n") {
		if taskEndLineRE.MatchString(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

// firstMatch returns the index of the first line matching any of res, trying
// each pattern over the whole block before falling to the next.
func firstMatch(lines []string, res ...*regexp.Regexp) int {
	for _, re := range res {
		for i, line := range lines {
			if re.MatchString(line) {
				return i
			}
		}
	}
	return -1
}

func insertLine(lines []string, at int, line string) []string {
	if at < 0 {
		at = 0
	}
	if at > len(lines) {
		at = len(lines)
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:at]...)
	out = append(out, line)
	out = append(out, lines[at:]...)
	return out
}
