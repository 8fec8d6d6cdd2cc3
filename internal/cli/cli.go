package cli

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"

	"github.com/amirbrooks/boardfile/internal/board"
	"github.com/amirbrooks/boardfile/internal/config"
	"github.com/amirbrooks/boardfile/internal/store"
)

// Exit codes
const (
	ExitOK        = 0
	ExitUsage     = 2
	ExitNotFound  = 3
	ExitConflict  = 4
	ExitMalformed = 5
	ExitInternal  = 10
)

type GlobalFlags struct {
	Vault        string
	JSON         bool
	NDJSON       bool
	Plain        bool
	Quiet        bool
	Verbose      bool
	StdoutJSON   bool
	StdoutNDJSON bool
	ExportDir    string
}

func reorderFlags(args []string, takesValue map[string]bool) []string {
	if len(args) == 0 {
		return args
	}
	var flags []string
	var rest []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			if i+1 < len(args) {
				rest = append(rest, args[i+1:]...)
			}
			break
		}
		if strings.HasPrefix(a, "-") {
			flags = append(flags, a)
			if takesValue[a] && !strings.Contains(a, "=") {
				if i+1 < len(args) {
					flags = append(flags, args[i+1])
					i++
				}
			}
			continue
		}
		rest = append(rest, a)
	}
	return append(flags, rest...)
}

func Run(args []string) int {
	gf, rest, err := extractGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return ExitUsage
	}

	if len(rest) == 0 {
		printHelp()
		return ExitUsage
	}

	cmd := rest[0]
	cmdArgs := rest[1:]

	ws, err := store.Open(gf.Vault)
	if err != nil {
		fmt.Fprintln(os.Stderr, "boardfile:", err)
		return ExitInternal
	}
	lg := newLogger(gf, ws.Config().LogLevel)
	lg.Debug("workspace open", "vault", ws.Vault, "board", ws.BoardPath())

	switch cmd {
	case "help", "--help", "-h":
		printHelp()
		return ExitOK
	case "init":
		return cmdInit(ws, lg, gf, cmdArgs)
	case "config", "cfg":
		return cmdConfig(ws, lg, gf, cmdArgs)
	case "add":
		return cmdAdd(ws, lg, gf, cmdArgs)
	case "ls", "list":
		return cmdList(ws, lg, gf, cmdArgs)
	case "show":
		return cmdShow(ws, lg, gf, cmdArgs)
	case "mv", "move":
		return cmdMove(ws, lg, gf, cmdArgs)
	case "edit":
		return cmdEdit(ws, lg, gf, cmdArgs)
	case "session":
		return cmdSession(ws, lg, gf, cmdArgs)
	case "rm", "remove":
		return cmdRemove(ws, lg, gf, cmdArgs)
	case "archive":
		return cmdArchive(ws, lg, gf, cmdArgs)
	case "board":
		return cmdBoard(ws, lg, gf, cmdArgs)
	case "doctor":
		return cmdDoctor(ws, lg, gf, cmdArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printHelp()
		return ExitUsage
	}
}

func printHelp() {
	fmt.Print(`boardfile — markdown task board for agent workflows (no DB)

Usage:
  boardfile [global flags] <command> [args]

Global flags:
  --vault <path>   Vault directory (default: . or BOARDFILE_VAULT)
  --json           Write JSON output to <vault>/.boardfile/exports
  --ndjson         Write NDJSON output to <vault>/.boardfile/exports
  --stdout-json    Allow JSON to stdout (debug only)
  --stdout-ndjson  Allow NDJSON to stdout (debug only)
  --export-dir     Override export directory
  --plain          TSV output
  --quiet
  --verbose

Commands:
  init
  add "<title>" [--status <s>] [--tag <t>...] [--body <text>|-] [--before <uuid>]
  ls [--status <s>] [--tag <t>] [--search <q>] [--priority]
  show <uuid-or-prefix>
  mv <uuid-or-prefix> <status> [--before <uuid>]
  edit <uuid-or-prefix> [--title <t>] [--status <s>] [--tags a,b|-] [--body <text>|-] [--before <uuid>]
  session add <uuid-or-prefix> <ref>
  rm <uuid-or-prefix>
  archive <uuid-or-prefix> [--folder <f>] [--date YYYY-MM-DD]
  board
  doctor [--fix]
  config show
  config set <key> <value>

Statuses:
  Unassigned|Todo|Doing|Review|Done
`)
}

func extractGlobalFlags(args []string) (GlobalFlags, []string, error) {
	// Allow flags anywhere by scanning and stripping known globals.
	gf := GlobalFlags{}

	if env := os.Getenv("BOARDFILE_VAULT"); env != "" {
		gf.Vault = env
	} else {
		gf.Vault = "."
	}

	out := make([]string, 0, len(args))
	skip := 0

	for i := 0; i < len(args); i++ {
		if skip > 0 {
			skip--
			continue
		}
		a := args[i]
		switch a {
		case "--vault":
			if i+1 >= len(args) {
				return gf, nil, errors.New("--vault requires a value")
			}
			gf.Vault = args[i+1]
			skip = 1
		case "--json":
			gf.JSON = true
		case "--ndjson":
			gf.NDJSON = true
		case "--stdout-json":
			gf.StdoutJSON = true
		case "--stdout-ndjson":
			gf.StdoutNDJSON = true
		case "--export-dir":
			if i+1 >= len(args) {
				return gf, nil, errors.New("--export-dir requires a value")
			}
			gf.ExportDir = args[i+1]
			skip = 1
		case "--plain":
			gf.Plain = true
		case "--quiet":
			gf.Quiet = true
		case "--verbose":
			gf.Verbose = true
		default:
			out = append(out, a)
		}
	}

	if gf.JSON && gf.NDJSON {
		return gf, nil, errors.New("--json and --ndjson are mutually exclusive")
	}
	if gf.StdoutJSON && !gf.JSON {
		return gf, nil, errors.New("--stdout-json requires --json")
	}
	if gf.StdoutNDJSON && !gf.NDJSON {
		return gf, nil, errors.New("--stdout-ndjson requires --ndjson")
	}
	if gf.ExportDir == "" {
		gf.ExportDir = filepath.Join(gf.Vault, ".boardfile", "exports")
	}
	return gf, out, nil
}

// newLogger builds the stderr diagnostics logger. User-facing output stays on
// stdout; everything leveled goes through here.
func newLogger(gf GlobalFlags, configLevel string) *log.Logger {
	level := parseLogLevel(configLevel)
	if gf.Verbose {
		level = log.DebugLevel
	}
	if gf.Quiet {
		level = log.ErrorLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		ReportTimestamp: false,
		Prefix:          "boardfile",
	})
}

func parseLogLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel
	case "info":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.WarnLevel
	}
}

// fail reports a command failure on the diagnostics logger and maps the error
// to an exit code.
func fail(lg *log.Logger, cmd string, err error) int {
	lg.Error(cmd, "err", err)
	return exitCodeForError(err)
}

func exitCodeForError(err error) int {
	switch {
	case errors.Is(err, store.ErrInvalid):
		return ExitUsage
	case errors.Is(err, store.ErrNotFound), errors.Is(err, board.ErrTaskNotFound):
		return ExitNotFound
	case errors.Is(err, store.ErrConflict):
		return ExitConflict
	case errors.Is(err, board.ErrMalformedDocument), errors.Is(err, board.ErrMalformedBlock):
		return ExitMalformed
	default:
		return ExitInternal
	}
}

func cmdInit(ws *store.Workspace, lg *log.Logger, gf GlobalFlags, args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	res, err := ws.Init()
	if err != nil {
		return fail(lg, "init", err)
	}
	lg.Debug("init", "board", res.BoardPath, "board_created", res.BoardCreated, "config_created", res.ConfigCreated)
	if gf.NDJSON {
		return emitNDJSON(gf, lg, "init", "init", []any{res})
	}
	if gf.JSON {
		return emitJSON(gf, lg, "init", "init", res)
	}
	if !gf.Quiet {
		if res.BoardCreated {
			fmt.Println("Created board:", res.BoardPath)
		} else {
			fmt.Println("Board already present:", res.BoardPath)
		}
		if res.ConfigCreated {
			fmt.Println("Created config:", res.ConfigPath)
		}
	}
	return ExitOK
}

func cmdConfig(ws *store.Workspace, lg *log.Logger, gf GlobalFlags, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: boardfile config <show|set> ...")
		return ExitUsage
	}
	switch args[0] {
	case "show":
		// handled below
	case "set":
		return cmdConfigSet(ws, lg, gf, args[1:])
	default:
		fmt.Fprintln(os.Stderr, "Usage: boardfile config <show|set> ...")
		return ExitUsage
	}

	cfg := ws.Config()
	cfgPath := config.Path(ws.Vault)
	_, err := os.Stat(cfgPath)
	exists := err == nil

	payload := map[string]any{
		"vault":       ws.Vault,
		"config_path": cfgPath,
		"exists":      exists,
		"config":      cfg,
	}

	if gf.NDJSON {
		return emitNDJSON(gf, lg, "config show", "config", []any{payload})
	}
	if gf.JSON {
		return emitJSON(gf, lg, "config show", "config", payload)
	}

	if gf.Plain {
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tVALUE")
		fmt.Fprintf(w, "vault\t%s\n", ws.Vault)
		fmt.Fprintf(w, "config_path\t%s\n", cfgPath)
		fmt.Fprintf(w, "exists\t%t\n", exists)
		fmt.Fprintf(w, "board\t%s\n", cfg.Board)
		fmt.Fprintf(w, "archive_folder\t%s\n", cfg.ArchiveFolder)
		fmt.Fprintf(w, "history\t%t\n", cfg.History)
		fmt.Fprintf(w, "log_level\t%s\n", cfg.LogLevel)
		_ = w.Flush()
		return ExitOK
	}

	fmt.Println("Config")
	fmt.Println("  Vault:", ws.Vault)
	if exists {
		fmt.Println("  Config file:", cfgPath)
	} else {
		fmt.Println("  Config file:", cfgPath, "(not found; defaults shown)")
	}
	fmt.Println()
	fmt.Println("  board:", cfg.Board)
	fmt.Println("  archive_folder:", cfg.ArchiveFolder)
	fmt.Printf("  history: %t\n", cfg.History)
	fmt.Println("  log_level:", cfg.LogLevel)
	return ExitOK
}

func cmdConfigSet(ws *store.Workspace, lg *log.Logger, gf GlobalFlags, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: boardfile config set <key> <value>")
		return ExitUsage
	}
	key := strings.ToLower(strings.TrimSpace(args[0]))
	value := strings.TrimSpace(strings.Join(args[1:], " "))
	cfg := ws.Config()
	if err := cfg.Set(key, value); err != nil {
		fmt.Fprintln(os.Stderr, "config set:", err)
		return ExitUsage
	}
	if err := ws.SaveConfig(cfg); err != nil {
		return fail(lg, "config set", err)
	}
	if !gf.Quiet {
		fmt.Printf("Updated %s\n", key)
	}
	return ExitOK
}

func cmdAdd(ws *store.Workspace, lg *log.Logger, gf GlobalFlags, args []string) int {
	args = reorderFlags(args, map[string]bool{
		"--status": true,
		"--tag":    true,
		"--body":   true,
		"--before": true,
	})
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	status := fs.String("status", "", "Status column (default Unassigned)")
	tags := multiFlag{}
	fs.Var(&tags, "tag", "Tag (repeatable)")
	body := fs.String("body", "", "Body text, or - to read stdin")
	before := fs.String("before", "", "Insert before this task (uuid or prefix)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, `Usage: boardfile add "<title>" [--status <s>] [--tag <t>...] [--body <text>|-] [--before <uuid>]`)
		return ExitUsage
	}
	bodyText, err := readBodyArg(*body)
	if err != nil {
		return fail(lg, "add", err)
	}

	title := strings.Join(rest, " ")
	task, err := ws.CreateTask(store.CreateTaskInput{
		Title:      strings.TrimSpace(title),
		Status:     strings.TrimSpace(*status),
		Tags:       tags.Values,
		Body:       bodyText,
		BeforeUUID: strings.TrimSpace(*before),
	})
	if err != nil {
		return fail(lg, "add", err)
	}
	lg.Debug("task created", "uuid", task.UUID, "status", task.Status)
	if gf.NDJSON {
		return emitNDJSON(gf, lg, "add", "task", []any{task})
	}
	if gf.JSON {
		return emitJSON(gf, lg, "add", "task", map[string]any{"task": task})
	}
	fmt.Printf("%s [%s] %s\n", shortUUID(task.UUID), task.Status, task.Title)
	return ExitOK
}

func cmdList(ws *store.Workspace, lg *log.Logger, gf GlobalFlags, args []string) int {
	args = reorderFlags(args, map[string]bool{
		"--status":   true,
		"--tag":      true,
		"--search":   true,
		"--priority": false,
	})
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	status := fs.String("status", "", "Filter by status column")
	tag := fs.String("tag", "", "Filter by tag")
	search := fs.String("search", "", "Search query (title/body)")
	priority := fs.Bool("priority", false, "Pick-up priority order (Doing first)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	var tasks []store.TaskSummary
	var err error
	if *priority {
		tasks, err = ws.CandidateTasks()
	} else {
		st, perr := store.ParseStatusArg(*status)
		if perr != nil {
			return fail(lg, "ls", perr)
		}
		tasks, err = ws.ListTasks(board.ListFilter{Status: st, Tag: *tag, Search: *search})
	}
	if err != nil {
		return fail(lg, "ls", err)
	}
	lg.Debug("tasks listed", "count", len(tasks))

	if gf.NDJSON {
		items := make([]any, 0, len(tasks))
		for i := range tasks {
			items = append(items, tasks[i])
		}
		return emitNDJSON(gf, lg, "ls", "tasks", items)
	}

	if gf.Plain {
		fmt.Fprintln(os.Stdout, "UUID\tSTATUS\tTAGS\tTITLE")
		for _, t := range tasks {
			fmt.Fprintf(os.Stdout, "%s\t%s\t%s\t%s\n", shortUUID(t.UUID), t.Status, tagList(t.Tags), t.Title)
		}
		return ExitOK
	}

	if gf.JSON {
		return emitJSON(gf, lg, "ls", "tasks", map[string]any{"tasks": tasks})
	}

	// Table output
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UUID\tSTATUS\tTAGS\tTITLE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortUUID(t.UUID), t.Status, tagList(t.Tags), t.Title)
	}
	_ = w.Flush()
	return ExitOK
}

func cmdShow(ws *store.Workspace, lg *log.Logger, gf GlobalFlags, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: boardfile show <uuid-or-prefix>")
		return ExitUsage
	}
	task, err := ws.GetTask(args[0])
	if err != nil {
		return fail(lg, "show", err)
	}
	if gf.NDJSON {
		return emitNDJSON(gf, lg, "show", "task", []any{task})
	}
	if gf.JSON {
		return emitJSON(gf, lg, "show", "task", map[string]any{"task": task})
	}
	fmt.Print(task.Raw)
	return ExitOK
}

func cmdMove(ws *store.Workspace, lg *log.Logger, gf GlobalFlags, args []string) int {
	args = reorderFlags(args, map[string]bool{
		"--before": true,
	})
	fs := flag.NewFlagSet("mv", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	before := fs.String("before", "", "Place before this task (uuid or prefix)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	rest := fs.Args()
	if len(rest) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: boardfile mv <uuid-or-prefix> <status> [--before <uuid>]")
		return ExitUsage
	}
	task, err := ws.MoveTask(rest[0], rest[1], strings.TrimSpace(*before))
	if err != nil {
		return fail(lg, "mv", err)
	}
	lg.Debug("task moved", "uuid", task.UUID, "status", task.Status)
	if gf.NDJSON {
		return emitNDJSON(gf, lg, "mv", "task", []any{task})
	}
	if gf.JSON {
		return emitJSON(gf, lg, "mv", "task", map[string]any{"task": task})
	}
	fmt.Printf("Moved %s -> %s\n", shortUUID(task.UUID), task.Status)
	return ExitOK
}

func cmdEdit(ws *store.Workspace, lg *log.Logger, gf GlobalFlags, args []string) int {
	args = reorderFlags(args, map[string]bool{
		"--title":  true,
		"--status": true,
		"--tags":   true,
		"--body":   true,
		"--before": true,
	})
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	title := fs.String("title", "", "New title")
	status := fs.String("status", "", "New status column")
	tagsArg := fs.String("tags", "", "Comma-separated tags, or - to clear")
	body := fs.String("body", "", "New body text, or - to read stdin")
	before := fs.String("before", "", "Place before this task (uuid or prefix)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: boardfile edit <uuid-or-prefix> [--title <t>] [--status <s>] [--tags a,b|-] [--body <text>|-] [--before <uuid>]")
		return ExitUsage
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if !set["title"] && !set["status"] && !set["tags"] && !set["body"] && !set["before"] {
		fmt.Fprintln(os.Stderr, "edit: nothing to change")
		return ExitUsage
	}

	in := store.UpdateTaskInput{BeforeUUID: strings.TrimSpace(*before)}
	if set["title"] {
		in.Title = title
	}
	if set["status"] {
		in.Status = status
	}
	if set["tags"] {
		in.Tags = splitTagsArg(*tagsArg)
	}
	if set["body"] {
		text, err := readBodyArg(*body)
		if err != nil {
			return fail(lg, "edit", err)
		}
		in.Body = &text
	}

	task, err := ws.UpdateTask(rest[0], in)
	if err != nil {
		return fail(lg, "edit", err)
	}
	lg.Debug("task updated", "uuid", task.UUID, "status", task.Status)
	if gf.NDJSON {
		return emitNDJSON(gf, lg, "edit", "task", []any{task})
	}
	if gf.JSON {
		return emitJSON(gf, lg, "edit", "task", map[string]any{"task": task})
	}
	fmt.Printf("Updated %s\n", shortUUID(task.UUID))
	return ExitOK
}

func cmdSession(ws *store.Workspace, lg *log.Logger, gf GlobalFlags, args []string) int {
	if len(args) < 1 || args[0] != "add" {
		fmt.Fprintln(os.Stderr, "Usage: boardfile session add <uuid-or-prefix> <ref>")
		return ExitUsage
	}
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: boardfile session add <uuid-or-prefix> <ref>")
		return ExitUsage
	}
	task, err := ws.AppendSession(args[1], strings.Join(args[2:], " "))
	if err != nil {
		return fail(lg, "session", err)
	}
	if gf.NDJSON {
		return emitNDJSON(gf, lg, "session", "task", []any{task})
	}
	if gf.JSON {
		return emitJSON(gf, lg, "session", "task", map[string]any{"task": task})
	}
	fmt.Printf("Session recorded on %s\n", shortUUID(task.UUID))
	return ExitOK
}

func cmdRemove(ws *store.Workspace, lg *log.Logger, gf GlobalFlags, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: boardfile rm <uuid-or-prefix>")
		return ExitUsage
	}
	task, err := ws.RemoveTask(args[0])
	if err != nil {
		return fail(lg, "rm", err)
	}
	lg.Debug("task removed", "uuid", task.UUID)
	if gf.NDJSON {
		return emitNDJSON(gf, lg, "rm", "task", []any{task})
	}
	if gf.JSON {
		return emitJSON(gf, lg, "rm", "task", map[string]any{"task": task})
	}
	fmt.Printf("Removed %s\n", shortUUID(task.UUID))
	return ExitOK
}

func cmdArchive(ws *store.Workspace, lg *log.Logger, gf GlobalFlags, args []string) int {
	args = reorderFlags(args, map[string]bool{
		"--folder": true,
		"--date":   true,
	})
	fs := flag.NewFlagSet("archive", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	folder := fs.String("folder", "", "Archive folder (default from config)")
	date := fs.String("date", "", "Archive date (YYYY-MM-DD, default today)")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	rest := fs.Args()
	if len(rest) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: boardfile archive <uuid-or-prefix> [--folder <f>] [--date YYYY-MM-DD]")
		return ExitUsage
	}
	res, err := ws.ArchiveTask(rest[0], strings.TrimSpace(*folder), strings.TrimSpace(*date))
	if err != nil {
		return fail(lg, "archive", err)
	}
	lg.Debug("task archived", "uuid", res.Task.UUID, "path", res.ArchivePath)
	if gf.NDJSON {
		return emitNDJSON(gf, lg, "archive", "archive", []any{res})
	}
	if gf.JSON {
		return emitJSON(gf, lg, "archive", "archive", res)
	}
	fmt.Printf("Archived %s to %s\n", shortUUID(res.Task.UUID), res.ArchivePath)
	return ExitOK
}

func cmdBoard(ws *store.Workspace, lg *log.Logger, gf GlobalFlags, args []string) int {
	info, err := ws.BoardInfo()
	if err != nil {
		return fail(lg, "board", err)
	}
	if gf.NDJSON {
		return emitNDJSON(gf, lg, "board", "board", []any{info})
	}
	if gf.JSON {
		return emitJSON(gf, lg, "board", "board", info)
	}

	if gf.Plain {
		fmt.Fprintln(os.Stdout, "STATUS\tTASKS")
		for _, c := range info.Counts {
			fmt.Fprintf(os.Stdout, "%s\t%d\n", c.Status, c.Count)
		}
		fmt.Fprintf(os.Stdout, "total\t%d\n", info.Total)
		return ExitOK
	}

	fmt.Println("Board:", info.Path)
	if info.HasMeta {
		fmt.Println("  Schema:", info.Meta.Schema)
		fmt.Println("  Board id:", info.Meta.BoardID)
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tTASKS")
	for _, c := range info.Counts {
		fmt.Fprintf(w, "%s\t%d\n", c.Status, c.Count)
	}
	fmt.Fprintf(w, "total\t%d\n", info.Total)
	_ = w.Flush()
	return ExitOK
}

func cmdDoctor(ws *store.Workspace, lg *log.Logger, gf GlobalFlags, args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fix := fs.Bool("fix", false, "Repair what can safely be repaired")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	rep, err := ws.Doctor(*fix)
	if err != nil {
		return fail(lg, "doctor", err)
	}

	code := ExitOK
	if rep.ParseError != "" {
		code = ExitMalformed
	}

	if gf.NDJSON {
		if rc := emitNDJSON(gf, lg, "doctor", "doctor", []any{rep}); rc != ExitOK {
			return rc
		}
		return code
	}
	if gf.JSON {
		if rc := emitJSON(gf, lg, "doctor", "doctor", rep); rc != ExitOK {
			return rc
		}
		return code
	}

	fmt.Println("Board:", rep.BoardPath)
	if rep.Created {
		fmt.Println("  created missing board file")
	}
	if rep.ParseError != "" {
		fmt.Println("  parse error:", rep.ParseError)
	}
	if rep.EscapedNewlines {
		fmt.Println("  escaped newline sequences found")
	}
	for _, st := range rep.MissingSections {
		fmt.Println("  missing section:", st)
	}
	for _, u := range rep.OrphanedMarkers {
		fmt.Println("  orphaned task marker:", u)
	}
	if rep.SchemaWarning != "" {
		fmt.Println("  frontmatter:", rep.SchemaWarning)
	}
	if rep.Fixed {
		fmt.Println("  repairs written")
	}
	if rep.ParseError == "" && !rep.EscapedNewlines && len(rep.MissingSections) == 0 &&
		len(rep.OrphanedMarkers) == 0 && rep.SchemaWarning == "" {
		fmt.Println("  no problems found")
	}
	return code
}

// readBodyArg resolves a --body value; "-" reads the text from stdin.
func readBodyArg(v string) (string, error) {
	if v != "-" {
		return v, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// splitTagsArg parses a --tags value; "-" (or an empty value) clears the tag
// line.
func splitTagsArg(v string) []string {
	out := []string{}
	if strings.TrimSpace(v) == "-" {
		return out
	}
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func tagList(tags []string) string {
	if len(tags) == 0 {
		return "-"
	}
	return strings.Join(tags, ",")
}

func shortUUID(uuid string) string {
	if len(uuid) > 8 {
		return uuid[:8]
	}
	return uuid
}

// multiFlag supports repeated --tag flags.
type multiFlag struct{ Values []string }

func (m *multiFlag) String() string { return strings.Join(m.Values, ",") }
func (m *multiFlag) Set(v string) error {
	m.Values = append(m.Values, v)
	return nil
}

func emitJSON(gf GlobalFlags, lg *log.Logger, cmd, base string, payload any) int {
	if gf.StdoutJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(payload)
		return ExitOK
	}
	path, err := writeJSONExport(gf, base, payload)
	if err != nil {
		return fail(lg, cmd, err)
	}
	if !gf.Quiet {
		fmt.Println("Wrote JSON to:", path)
	}
	return ExitOK
}

func emitNDJSON(gf GlobalFlags, lg *log.Logger, cmd, base string, items []any) int {
	if gf.StdoutNDJSON {
		for _, item := range items {
			b, _ := json.Marshal(item)
			fmt.Println(string(b))
		}
		return ExitOK
	}
	path, err := writeNDJSONExport(gf, base, items)
	if err != nil {
		return fail(lg, cmd, err)
	}
	if !gf.Quiet {
		fmt.Println("Wrote NDJSON to:", path)
	}
	return ExitOK
}

func writeJSONExport(gf GlobalFlags, base string, payload any) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}
	return writeExportFile(gf.ExportDir, base, "json", data)
}

func writeNDJSONExport(gf GlobalFlags, base string, items []any) (string, error) {
	var b strings.Builder
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return "", err
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return writeExportFile(gf.ExportDir, base, "ndjson", []byte(b.String()))
}

func writeExportFile(dir, base, ext string, data []byte) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("export directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	t := time.Now().UTC()
	ts := t.Format("20060102-150405")
	name := fmt.Sprintf("%s-%s.%s", base, ts, ext)
	path := filepath.Join(dir, name)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			break
		}
		name = fmt.Sprintf("%s-%s-%d.%s", base, ts, i, ext)
		path = filepath.Join(dir, name)
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".tmp-%d", time.Now().UTC().UnixNano()))
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return path, nil
}
