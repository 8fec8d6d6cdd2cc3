package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/amirbrooks/boardfile/internal/board"
)

// TaskSummary is the list-view projection of a task block.
type TaskSummary struct {
	UUID   string       `json:"uuid"`
	Title  string       `json:"title"`
	Status board.Status `json:"status"`
	Tags   []string     `json:"tags"`
}

// TaskDetail is the full projection of a task block, raw text included.
type TaskDetail struct {
	TaskSummary
	Raw string `json:"raw"`
}

func summarize(t board.Task) TaskSummary {
	return TaskSummary{UUID: t.UUID, Title: t.Title, Status: t.Status, Tags: t.Tags}
}

func detail(t board.Task) TaskDetail {
	return TaskDetail{TaskSummary: summarize(t), Raw: t.Raw}
}

// ParseStatusArg validates a status argument. Empty input is allowed and
// comes back as the zero Status; anything else must be one of the five
// column names.
func ParseStatusArg(s string) (board.Status, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	st, ok := board.ParseStatus(s)
	if !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalid, s)
	}
	return st, nil
}

// CreateTaskInput describes a task to add. Status defaults to Unassigned;
// BeforeUUID may be any selector for a task already in the target section.
type CreateTaskInput struct {
	Title      string
	Status     string
	Tags       []string
	Body       string
	BeforeUUID string
}

// CreateTask renders a fresh block and splices it into the board.
func (ws *Workspace) CreateTask(in CreateTaskInput) (TaskSummary, error) {
	st, err := ParseStatusArg(in.Status)
	if err != nil {
		return TaskSummary{}, err
	}
	if st == "" {
		st = board.StatusUnassigned
	}

	content, _, err := ws.ReadBoard()
	if err != nil {
		return TaskSummary{}, err
	}
	before, err := resolveBefore(content, in.BeforeUUID)
	if err != nil {
		return TaskSummary{}, err
	}

	uid := strings.ToLower(uuid.NewString())
	block := board.BuildTaskBlock(board.BlockParams{
		UUID:   uid,
		Title:  in.Title,
		Status: st,
		Tags:   in.Tags,
		Body:   in.Body,
	})
	next, err := board.InsertTaskBlock(content, st, before, block)
	if err != nil {
		return TaskSummary{}, err
	}
	if err := ws.WriteBoard(next); err != nil {
		return TaskSummary{}, err
	}
	return taskAfterWrite(next, uid)
}

// ListTasks returns board-ordered task summaries narrowed by f.
func (ws *Workspace) ListTasks(f board.ListFilter) ([]TaskSummary, error) {
	b, err := ws.parseBoard()
	if err != nil {
		return nil, err
	}
	var out []TaskSummary
	for _, t := range b.Filter(f) {
		out = append(out, summarize(t))
	}
	return out, nil
}

// CandidateTasks returns every task in pick-up priority order: Doing first,
// then Todo, Review, Unassigned, Done.
func (ws *Workspace) CandidateTasks() ([]TaskSummary, error) {
	b, err := ws.parseBoard()
	if err != nil {
		return nil, err
	}
	var out []TaskSummary
	for _, t := range b.Candidates() {
		out = append(out, summarize(t))
	}
	return out, nil
}

// GetTask resolves a selector and returns the task with its raw block text.
func (ws *Workspace) GetTask(selector string) (TaskDetail, error) {
	b, err := ws.parseBoard()
	if err != nil {
		return TaskDetail{}, err
	}
	t, err := resolveTask(b, selector)
	if err != nil {
		return TaskDetail{}, err
	}
	return detail(t), nil
}

// UpdateTaskInput carries optional edits. Nil pointers leave the
// corresponding part of the block alone; Tags follows the rewrite rule that
// nil means leave and empty means clear.
type UpdateTaskInput struct {
	Title      *string
	Status     *string
	Tags       []string
	Body       *string
	BeforeUUID string
}

// UpdateTask edits a task block in place, moving it to another section when
// the status changes or an explicit reorder target is given.
func (ws *Workspace) UpdateTask(selector string, in UpdateTaskInput) (TaskSummary, error) {
	content, _, err := ws.ReadBoard()
	if err != nil {
		return TaskSummary{}, err
	}
	b, err := board.Parse(content)
	if err != nil {
		return TaskSummary{}, err
	}
	t, err := resolveTask(b, selector)
	if err != nil {
		return TaskSummary{}, err
	}
	_, sec, _ := b.FindTask(t.UUID)
	from := sec.Status

	target := from
	if in.Status != nil {
		st, err := ParseStatusArg(*in.Status)
		if err != nil {
			return TaskSummary{}, err
		}
		if st == "" {
			return TaskSummary{}, fmt.Errorf("%w: empty status", ErrInvalid)
		}
		target = st
	}

	block := t.Raw
	if in.Title != nil {
		block = board.RewriteTitle(block, *in.Title)
	}
	if in.Tags != nil {
		block = board.RewriteTags(block, in.Tags)
	}
	if in.Body != nil {
		block, err = board.RewriteBody(block, *in.Body)
		if err != nil {
			return TaskSummary{}, err
		}
	}
	if target != from || in.Status != nil {
		block, err = board.RewriteStatusField(block, target)
		if err != nil {
			return TaskSummary{}, err
		}
	}
	if in.Title != nil || in.Status != nil || in.Tags != nil || in.Body != nil {
		block = board.TouchUpdated(block, utcNowISO())
	}

	before, err := resolveBefore(content, in.BeforeUUID)
	if err != nil {
		return TaskSummary{}, err
	}

	var next string
	if target != from || before != "" {
		if before == t.UUID {
			before = ""
		}
		_, afterRemoval, err := board.RemoveTaskBlock(content, t.UUID)
		if err != nil {
			return TaskSummary{}, err
		}
		next, err = board.InsertTaskBlock(afterRemoval, target, before, block)
		if err != nil {
			return TaskSummary{}, err
		}
	} else {
		next, err = board.ReplaceTaskBlock(content, t.UUID, block)
		if err != nil {
			return TaskSummary{}, err
		}
	}
	if err := ws.WriteBoard(next); err != nil {
		return TaskSummary{}, err
	}
	return taskAfterWrite(next, t.UUID)
}

// MoveTask relocates a task to a status column, optionally placing it before
// another task there.
func (ws *Workspace) MoveTask(selector, toStatus, beforeUUID string) (TaskSummary, error) {
	to, err := ParseStatusArg(toStatus)
	if err != nil {
		return TaskSummary{}, err
	}
	if to == "" {
		return TaskSummary{}, fmt.Errorf("%w: target status required", ErrInvalid)
	}

	content, _, err := ws.ReadBoard()
	if err != nil {
		return TaskSummary{}, err
	}
	b, err := board.Parse(content)
	if err != nil {
		return TaskSummary{}, err
	}
	t, err := resolveTask(b, selector)
	if err != nil {
		return TaskSummary{}, err
	}
	before, err := resolveBefore(content, beforeUUID)
	if err != nil {
		return TaskSummary{}, err
	}

	next, err := board.MoveTaskBlock(content, t.UUID, to, before)
	if err != nil {
		return TaskSummary{}, err
	}
	if err := ws.WriteBoard(next); err != nil {
		return TaskSummary{}, err
	}
	return taskAfterWrite(next, t.UUID)
}

// AppendSession records a session reference on a task's sessions:: line.
func (ws *Workspace) AppendSession(selector, sessionRef string) (TaskSummary, error) {
	ref := strings.TrimSpace(sessionRef)
	if ref == "" {
		return TaskSummary{}, fmt.Errorf("%w: empty session ref", ErrInvalid)
	}

	content, _, err := ws.ReadBoard()
	if err != nil {
		return TaskSummary{}, err
	}
	b, err := board.Parse(content)
	if err != nil {
		return TaskSummary{}, err
	}
	t, err := resolveTask(b, selector)
	if err != nil {
		return TaskSummary{}, err
	}

	updated := board.AddSessionRef(t.Raw, ref)
	next, err := board.ReplaceTaskBlock(content, t.UUID, updated)
	if err != nil {
		return TaskSummary{}, err
	}
	if err := ws.WriteBoard(next); err != nil {
		return TaskSummary{}, err
	}
	return taskAfterWrite(next, t.UUID)
}

// RemoveTask deletes a task block outright. Most callers want ArchiveTask,
// which keeps the block text around.
func (ws *Workspace) RemoveTask(selector string) (TaskSummary, error) {
	content, _, err := ws.ReadBoard()
	if err != nil {
		return TaskSummary{}, err
	}
	b, err := board.Parse(content)
	if err != nil {
		return TaskSummary{}, err
	}
	t, err := resolveTask(b, selector)
	if err != nil {
		return TaskSummary{}, err
	}

	removed, next, err := board.RemoveTaskBlock(content, t.UUID)
	if err != nil {
		return TaskSummary{}, err
	}
	if err := ws.WriteBoard(next); err != nil {
		return TaskSummary{}, err
	}
	return summarize(removed), nil
}

// ArchiveResult reports where an archived block landed.
type ArchiveResult struct {
	Task        TaskSummary `json:"task"`
	ArchivePath string      `json:"archive_path"`
}

// ArchiveTask removes a task from the board and appends its block, stamped
// with an archived:: field, to the day's archive file. An empty folder falls
// back to the configured archive folder. The board is written first; a failed
// archive append leaves the removal in place, recoverable from history.
func (ws *Workspace) ArchiveTask(selector, folder, dateStr string) (ArchiveResult, error) {
	date := strings.TrimSpace(dateStr)
	if date == "" {
		date = timeNow().Format("2006-01-02")
	}
	if strings.TrimSpace(folder) == "" {
		folder = ws.cfg.ArchiveFolder
	}

	content, _, err := ws.ReadBoard()
	if err != nil {
		return ArchiveResult{}, err
	}
	b, err := board.Parse(content)
	if err != nil {
		return ArchiveResult{}, err
	}
	t, err := resolveTask(b, selector)
	if err != nil {
		return ArchiveResult{}, err
	}

	removed, nextBoard, err := board.RemoveTaskBlock(content, t.UUID)
	if err != nil {
		return ArchiveResult{}, err
	}
	archivedBlock := board.MarkTaskArchived(removed.Raw, utcNowISO())
	if err := ws.WriteBoard(nextBoard); err != nil {
		return ArchiveResult{}, err
	}

	rel := ArchiveRelPath(folder, date)
	if err := ws.appendToArchive(rel, date, archivedBlock); err != nil {
		return ArchiveResult{}, err
	}
	return ArchiveResult{Task: summarize(removed), ArchivePath: rel}, nil
}

// ArchiveRelPath returns the vault-relative file a given day's archived
// tasks are appended to.
func ArchiveRelPath(archiveFolder, date string) string {
	folder := archiveFolder
	if folder == "" {
		folder = "Archive"
	}
	folder = strings.Trim(strings.ReplaceAll(folder, "\\", "/"), "/")
	if folder == "" {
		return date + ".md"
	}
	return folder + "/" + date + ".md"
}

func archiveTemplate(date string) string {
	lines := []string{
		"---",
		"schema: ai-tasks-archive/v1",
		"date: " + date,
		"---",
		"",
		"# Archive " + date,
		"",
		"",
	}
	return strings.Join(lines, "\n")
}

func (ws *Workspace) appendToArchive(rel, date, block string) error {
	path := filepath.Join(ws.Vault, filepath.FromSlash(rel))
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return atomicWriteFile(path, []byte(archiveTemplate(date)+block), 0o644)
	}
	existing := string(data)
	if !strings.HasSuffix(existing, "\n") {
		existing += "\n"
	}
	return atomicWriteFile(path, []byte(existing+block), 0o644)
}

func (ws *Workspace) parseBoard() (*board.Board, error) {
	content, _, err := ws.ReadBoard()
	if err != nil {
		return nil, err
	}
	return board.Parse(content)
}

// resolveTask matches a selector against the board: exact uuid first, then a
// unique uuid prefix. Ambiguous prefixes fail with a MatchConflictError
// listing the contenders.
func resolveTask(b *board.Board, selector string) (board.Task, error) {
	sel := strings.ToLower(strings.TrimSpace(selector))
	if sel == "" {
		return board.Task{}, fmt.Errorf("%w: empty task selector", ErrInvalid)
	}
	if t, _, ok := b.FindTask(sel); ok {
		return *t, nil
	}

	var matches []board.Task
	for _, t := range b.Tasks() {
		if strings.HasPrefix(t.UUID, sel) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return board.Task{}, fmt.Errorf("%w: task %s", ErrNotFound, selector)
	case 1:
		return matches[0], nil
	}
	summaries := make([]TaskSummary, 0, len(matches))
	for _, m := range matches {
		summaries = append(summaries, summarize(m))
	}
	return board.Task{}, &MatchConflictError{Selector: selector, Matches: summaries}
}

// resolveBefore turns an optional before selector into a full uuid. Empty
// input stays empty; anything else must resolve to a task on the board.
func resolveBefore(content, selector string) (string, error) {
	if strings.TrimSpace(selector) == "" {
		return "", nil
	}
	b, err := board.Parse(content)
	if err != nil {
		return "", err
	}
	t, err := resolveTask(b, selector)
	if err != nil {
		return "", err
	}
	return t.UUID, nil
}

func taskAfterWrite(content, uid string) (TaskSummary, error) {
	b, err := board.Parse(content)
	if err != nil {
		return TaskSummary{}, err
	}
	t, _, ok := b.FindTask(uid)
	if !ok {
		return TaskSummary{}, fmt.Errorf("%w: task %s", ErrNotFound, uid)
	}
	return summarize(*t), nil
}
