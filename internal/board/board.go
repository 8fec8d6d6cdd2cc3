package board

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Region markers delimit the managed area of the board document. Everything
// outside the pair belongs to the user and is never read or written.
const (
	RegionBegin = "<!-- AI-TASKS:BEGIN -->"
	RegionEnd   = "<!-- AI-TASKS:END -->"
)

const headingPrefix = "## "

// UntitledTitle is the fallback when a block carries no callout title line.
const UntitledTitle = "(Untitled)"

// Status is one of the five fixed board columns. The set is closed: headings
// and inline status fields must match these names exactly, case-sensitive.
type Status string

const (
	StatusUnassigned Status = "Unassigned"
	StatusTodo       Status = "Todo"
	StatusDoing      Status = "Doing"
	StatusReview     Status = "Review"
	StatusDone       Status = "Done"
)

// Statuses returns every status in board order, the order headings are
// synthesized and rendered in.
func Statuses() []Status {
	return []Status{StatusUnassigned, StatusTodo, StatusDoing, StatusReview, StatusDone}
}

// ParseStatus maps a raw string onto the closed status set. Surrounding
// whitespace is trimmed; there is no case folding and no synonym handling.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.TrimSpace(s))
	switch st {
	case StatusUnassigned, StatusTodo, StatusDoing, StatusReview, StatusDone:
		return st, true
	}
	return "", false
}

var (
	// ErrMalformedDocument means the region markers are missing or misordered,
	// or a status heading occurs twice.
	ErrMalformedDocument = errors.New("malformed document")
	// ErrTaskNotFound means a mutation referenced a uuid that is not on the
	// board.
	ErrTaskNotFound = errors.New("task not found")
	// ErrMissingSection means an insertion targeted a status with no section
	// heading. MoveTaskBlock and InsertTaskBlock repair this automatically;
	// direct FindInsertionPoint callers must run EnsureSections first.
	ErrMissingSection = errors.New("missing status section")
	// ErrMalformedBlock means a block handed to a rewrite helper has no end
	// marker, so the splice point cannot be located.
	ErrMalformedBlock = errors.New("malformed task block")
)

// DuplicateSectionError reports a status whose heading occurs more than once
// inside the managed region. It satisfies errors.Is(err, ErrMalformedDocument).
type DuplicateSectionError struct {
	Status Status
}

func (e *DuplicateSectionError) Error() string {
	return fmt.Sprintf("malformed document: duplicate %q section heading", string(e.Status))
}

func (e *DuplicateSectionError) Is(target error) bool {
	return target == ErrMalformedDocument
}

var (
	taskBeginRE         = regexp.MustCompile(`<!--\s*AI-TASKS:TASK\s+([0-9a-fA-F-]{8,})\s+BEGIN\s*-->`)
	taskEndLineRE       = regexp.MustCompile(`^<!--\s*AI-TASKS:TASK\s+[0-9a-fA-F-]{8,}\s+END\s*-->$`)
	calloutLineRE       = regexp.MustCompile(`^>\s*\[![^\]]+\]`)
	calloutTitleRE      = regexp.MustCompile(`^>\s*\[![^\]]+\]\s*(.+)\s*$`)
	calloutPrefixRE     = regexp.MustCompile(`^(>\s*\[![^\]]+\])\s*(.*)\s*$`)
	statusFieldLineRE   = regexp.MustCompile(`(?i)^>\s*status::`)
	statusFieldRE       = regexp.MustCompile(`(?i)^>\s*status::\s*(.+)\s*$`)
	tagsFieldLineRE     = regexp.MustCompile(`(?i)^>\s*tags::`)
	tagsFieldRE         = regexp.MustCompile(`(?i)^>\s*tags::\s*(.+)\s*$`)
	sessionsFieldRE     = regexp.MustCompile(`(?i)^(>\s*sessions::\s*)(.*)$`)
	createdFieldLineRE  = regexp.MustCompile(`(?i)^>\s*created::`)
	updatedFieldLineRE  = regexp.MustCompile(`(?i)^>\s*updated::`)
	archivedFieldLineRE = regexp.MustCompile(`(?i)^>\s*archived::`)
)

// TaskBeginMarker returns the boundary line opening a task block.
func TaskBeginMarker(uuid string) string {
	return "<!-- AI-TASKS:TASK " + uuid + " BEGIN -->"
}

// TaskEndMarker returns the boundary line closing a task block.
func TaskEndMarker(uuid string) string {
	return "<!-- AI-TASKS:TASK " + uuid + " END -->"
}

// Task is one marker-delimited block on the board. Start and End are absolute
// offsets into the document it was parsed from; End includes up to two
// trailing newlines consumed so removal and reinsertion keep blank-line
// separators stable.
type Task struct {
	UUID   string
	Title  string
	Status Status
	Tags   []string
	Raw    string
	Start  int
	End    int
}

// Section is one status group inside the managed region. Start and End span
// the section body: everything after the heading line up to the next heading
// or the region end.
type Section struct {
	Status       Status
	HeadingStart int
	HeadingEnd   int
	Start        int
	End          int
	Tasks        []Task
}

// Board is a parse result: the exact input text, the managed-region bounds,
// and the sections in heading order. It holds no derived state beyond that;
// every mutation re-parses from the document string it is given.
type Board struct {
	Content   string
	AutoStart int
	AutoEnd   int
	Sections  []Section
}

// Section returns the section for a status, or nil when its heading is absent.
func (b *Board) Section(st Status) *Section {
	for i := range b.Sections {
		if b.Sections[i].Status == st {
			return &b.Sections[i]
		}
	}
	return nil
}

// FindTask locates a task by uuid, case-insensitive, across all sections.
func (b *Board) FindTask(uuid string) (*Task, *Section, bool) {
	needle := strings.ToLower(strings.TrimSpace(uuid))
	if needle == "" {
		return nil, nil, false
	}
	for i := range b.Sections {
		sec := &b.Sections[i]
		for j := range sec.Tasks {
			if sec.Tasks[j].UUID == needle {
				return &sec.Tasks[j], sec, true
			}
		}
	}
	return nil, nil, false
}

// Tasks returns every task in board order: section order, then position.
func (b *Board) Tasks() []Task {
	var out []Task
	for _, sec := range b.Sections {
		out = append(out, sec.Tasks...)
	}
	return out
}

// FindRegion locates the managed region. It returns the offset just past the
// begin marker and the offset of the end marker.
func FindRegion(content string) (int, int, error) {
	begin := strings.Index(content, RegionBegin)
	end := strings.Index(content, RegionEnd)
	if begin == -1 || end == -1 || end <= begin {
		return 0, 0, fmt.Errorf("%w: missing region markers (%s / %s)", ErrMalformedDocument, RegionBegin, RegionEnd)
	}
	return begin + len(RegionBegin), end, nil
}

// Parse scans a board document once and returns its sections and tasks with
// absolute offsets against the exact input string. Begin markers without a
// matching end marker in their section are skipped; a single bad block must
// not make the rest of the board inaccessible.
func Parse(content string) (*Board, error) {
	autoStart, autoEnd, err := FindRegion(content)
	if err != nil {
		return nil, err
	}

	type headingMark struct {
		status Status
		start  int
		end    int
	}
	var headings []headingMark
	seen := map[Status]bool{}

	offset := autoStart
	for _, line := range strings.Split(content[autoStart:autoEnd], "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(trimmed, headingPrefix) {
			if st, ok := ParseStatus(trimmed[len(headingPrefix):]); ok {
				if seen[st] {
					return nil, &DuplicateSectionError{Status: st}
				}
				seen[st] = true
				headings = append(headings, headingMark{
					status: st,
					start:  offset + strings.Index(line, headingPrefix),
					end:    offset + len(line),
				})
			}
		}
		offset += len(line) + 1
	}

	b := &Board{Content: content, AutoStart: autoStart, AutoEnd: autoEnd}
	for i, h := range headings {
		secStart := h.end + 1
		secEnd := autoEnd
		if i+1 < len(headings) {
			secEnd = headings[i+1].start
		}
		// A heading that ends the region without a newline has no body.
		if secStart > secEnd {
			secStart = secEnd
		}
		b.Sections = append(b.Sections, Section{
			Status:       h.status,
			HeadingStart: h.start,
			HeadingEnd:   h.end,
			Start:        secStart,
			End:          secEnd,
			Tasks:        scanTasks(content, secStart, secEnd, h.status),
		})
	}
	return b, nil
}

func scanTasks(content string, secStart, secEnd int, inherited Status) []Task {
	sectionText := content[secStart:secEnd]
	var tasks []Task
	for _, m := range taskBeginRE.FindAllStringSubmatchIndex(sectionText, -1) {
		uuid := sectionText[m[2]:m[3]]
		beginRel := m[0]
		beginAbs := secStart + beginRel
		endMarker := TaskEndMarker(uuid)
		endRel := strings.Index(sectionText[beginRel:], endMarker)
		if endRel == -1 {
			continue
		}
		endAbs := secStart + beginRel + endRel + len(endMarker)

		// Consume up to two trailing newlines into the block span.
		if endAbs < len(content) && content[endAbs] == '\n' {
			endAbs++
			if endAbs < len(content) && content[endAbs] == '\n' {
				endAbs++
			}
		}

		raw := content[beginAbs:endAbs]
		status := inherited
		if st, ok := parseStatusField(raw); ok {
			status = st
		}
		tasks = append(tasks, Task{
			UUID:   strings.ToLower(uuid),
			Title:  parseTitle(raw),
			Status: status,
			Tags:   parseTagsField(raw),
			Raw:    raw,
			Start:  beginAbs,
			End:    endAbs,
		})
	}
	return tasks
}

func parseTitle(block string) string {
	for _, line := range strings.Split(block, "\n") {
		if m := calloutTitleRE.FindStringSubmatch(line); m != nil && m[1] != "" {
			return strings.TrimSpace(m[1])
		}
	}
	return UntitledTitle
}

// parseStatusField returns the status from the first status:: line. The first
// such line wins even when its value is unknown; an unknown value means the
// task inherits the section status.
func parseStatusField(block string) (Status, bool) {
	for _, line := range strings.Split(block, "\n") {
		if m := statusFieldRE.FindStringSubmatch(line); m != nil {
			if st, ok := ParseStatus(m[1]); ok {
				return st, true
			}
			return "", false
		}
	}
	return "", false
}

func parseTagsField(block string) []string {
	for _, line := range strings.Split(block, "\n") {
		if m := tagsFieldRE.FindStringSubmatch(line); m != nil {
			return splitTags(m[1])
		}
	}
	return nil
}

// splitTags splits on ASCII and fullwidth commas, trims, and drops empties.
func splitTags(raw string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '，' }) {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// EnsureSections synthesizes a heading plus a blank line for every status
// missing from the managed region, inserted immediately before the region end
// marker. Existing content is untouched; running it twice equals running it
// once.
func EnsureSections(content string) (string, error) {
	b, err := Parse(content)
	if err != nil {
		return "", err
	}

	var missing []Status
	for _, st := range Statuses() {
		if b.Section(st) == nil {
			missing = append(missing, st)
		}
	}
	if len(missing) == 0 {
		return content, nil
	}

	var insert strings.Builder
	if content[b.AutoEnd-1] != '\n' {
		insert.WriteByte('\n')
	}
	for _, st := range missing {
		insert.WriteString(headingPrefix)
		insert.WriteString(string(st))
		insert.WriteString("\n\n")
	}
	return content[:b.AutoEnd] + insert.String() + content[b.AutoEnd:], nil
}

// FindInsertionPoint returns the absolute offset a block targeting to should
// be spliced at: immediately before beforeUUID when that task is in the
// target section, after the section's last task otherwise, or at the start of
// an empty section body. The section must already exist.
func FindInsertionPoint(b *Board, to Status, beforeUUID string) (int, error) {
	sec := b.Section(to)
	if sec == nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingSection, to)
	}
	if beforeUUID != "" {
		needle := strings.ToLower(beforeUUID)
		for _, t := range sec.Tasks {
			if t.UUID == needle {
				return t.Start, nil
			}
		}
	}
	if n := len(sec.Tasks); n > 0 {
		return sec.Tasks[n-1].End, nil
	}
	return sec.Start, nil
}

// spliceBlock inserts block at an absolute offset, adding a leading newline
// when the offset is mid-line and a trailing newline when the block lacks one.
func spliceBlock(content string, at int, block string) string {
	prefix := content[:at]
	suffix := content[at:]
	if prefix != "" && !strings.HasSuffix(prefix, "\n") {
		block = "\n" + block
	}
	if !strings.HasSuffix(block, "\n") {
		block += "\n"
	}
	return prefix + block + suffix
}

// InsertTaskBlock splices a pre-rendered task block into the target section,
// synthesizing missing sections first.
func InsertTaskBlock(content string, to Status, beforeUUID, block string) (string, error) {
	normalized, err := EnsureSections(content)
	if err != nil {
		return "", err
	}
	b, err := Parse(normalized)
	if err != nil {
		return "", err
	}
	at, err := FindInsertionPoint(b, to, strings.ToLower(beforeUUID))
	if err != nil {
		return "", err
	}
	return spliceBlock(normalized, at, block), nil
}

// ReplaceTaskBlock swaps an existing task's span for a new rendering without
// changing its position. Section changes additionally need MoveTaskBlock.
func ReplaceTaskBlock(content, uuid, block string) (string, error) {
	b, err := Parse(content)
	if err != nil {
		return "", err
	}
	t, _, ok := b.FindTask(uuid)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTaskNotFound, uuid)
	}
	if !strings.HasSuffix(block, "\n") {
		block += "\n"
	}
	return content[:t.Start] + block + content[t.End:], nil
}

// RemoveTaskBlock deletes a task's span and returns the removed task together
// with the new document, so callers can archive the block elsewhere.
func RemoveTaskBlock(content, uuid string) (Task, string, error) {
	b, err := Parse(content)
	if err != nil {
		return Task{}, "", err
	}
	t, _, ok := b.FindTask(uuid)
	if !ok {
		return Task{}, "", fmt.Errorf("%w: %s", ErrTaskNotFound, uuid)
	}
	return *t, content[:t.Start] + content[t.End:], nil
}

// MoveTaskBlock relocates a task into a target section, optionally before
// another task there. The block's non-status content is carried byte for
// byte; only the status:: field is rewritten, and only when the task leaves
// its current section.
func MoveTaskBlock(content, uuid string, to Status, beforeUUID string) (string, error) {
	normalized, err := EnsureSections(content)
	if err != nil {
		return "", err
	}
	b, err := Parse(normalized)
	if err != nil {
		return "", err
	}

	t, sec, ok := b.FindTask(uuid)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTaskNotFound, uuid)
	}

	// A task cannot sit before itself; a self reference degrades to append.
	before := strings.ToLower(beforeUUID)
	if before == t.UUID {
		before = ""
	}

	block := t.Raw
	if sec.Status != to {
		block, err = RewriteStatusField(block, to)
		if err != nil {
			return "", err
		}
	}

	// Deleting the span invalidates every downstream offset; the insertion
	// point has to come from a fresh parse of the post-delete document.
	deleted := normalized[:t.Start] + normalized[t.End:]
	b2, err := Parse(deleted)
	if err != nil {
		return "", err
	}
	at, err := FindInsertionPoint(b2, to, before)
	if err != nil {
		return "", err
	}
	return spliceBlock(deleted, at, block), nil
}

// NormalizeEscapedNewlines repairs a known corruption mode where literal
// two-character "\n" or "\r\n" escape sequences were written in place of real
// line breaks. Input without such sequences comes back byte-identical with
// changed=false.
func NormalizeEscapedNewlines(text string) (string, bool) {
	// The CRLF form goes first so its \r half cannot survive.
	next := strings.ReplaceAll(text, `\r\n`, "\n")
	next = strings.ReplaceAll(next, `\n`, "\n")
	return next, next != text
}

// ListFilter narrows a task listing. The zero value matches everything.
type ListFilter struct {
	Status Status
	Tag    string
	Search string
}

// Filter returns the board's tasks in board order, narrowed by f. Tag match
// is case-insensitive; search looks through title and raw block text.
func (b *Board) Filter(f ListFilter) []Task {
	q := strings.ToLower(strings.TrimSpace(f.Search))
	var out []Task
	for _, sec := range b.Sections {
		for _, t := range sec.Tasks {
			if f.Status != "" && t.Status != f.Status {
				continue
			}
			if f.Tag != "" && !containsFold(t.Tags, f.Tag) {
				continue
			}
			if q != "" && !strings.Contains(strings.ToLower(t.Title), q) && !strings.Contains(strings.ToLower(t.Raw), q) {
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

// Candidates returns tasks in pick-up priority order: Doing first, then Todo,
// Review, Unassigned, and finally Done.
func (b *Board) Candidates() []Task {
	var out []Task
	for _, st := range []Status{StatusDoing, StatusTodo, StatusReview, StatusUnassigned, StatusDone} {
		if sec := b.Section(st); sec != nil {
			out = append(out, sec.Tasks...)
		}
	}
	return out
}

// OrphanedTaskMarkers lists uuids of begin markers whose end marker never
// appears inside the same section span. Parse skips these silently; doctor
// reports them.
func OrphanedTaskMarkers(content string) ([]string, error) {
	b, err := Parse(content)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, sec := range b.Sections {
		sectionText := content[sec.Start:sec.End]
		for _, m := range taskBeginRE.FindAllStringSubmatchIndex(sectionText, -1) {
			uuid := sectionText[m[2]:m[3]]
			if !strings.Contains(sectionText[m[0]:], TaskEndMarker(uuid)) {
				out = append(out, strings.ToLower(uuid))
			}
		}
	}
	return out, nil
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	for _, s := range list {
		if strings.ToLower(s) == v {
			return true
		}
	}
	return false
}
