package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"momento/internal/app"
	"momento/internal/database"
	"momento/internal/ingest"
	"momento/internal/jobs"
	"momento/internal/logging"
	"momento/internal/memory"
	"momento/internal/regenerator"
	"momento/internal/startup"
)

// Default timeout for single database operations
const defaultTimeout = 30 * time.Second

// cli carries the process streams so commands can be tested
type cli struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
	// interactive reports whether stdin is a terminal
	interactive bool
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, cancelling...")
		cancel()
	}()

	c := &cli{
		stdout:      os.Stdout,
		stderr:      os.Stderr,
		stdin:       os.Stdin,
		interactive: term.IsTerminal(int(os.Stdin.Fd())),
	}
	os.Exit(c.run(ctx, os.Args[1:]))
}

func (c *cli) run(ctx context.Context, args []string) int {
	if len(args) > 0 && (args[0] == "-v" || args[0] == "--verbose") {
		logging.SetLevel(logging.LevelDebug)
		args = args[1:]
	}
	if len(args) == 0 {
		c.printUsage()
		return 2
	}

	command, rest := args[0], args[1:]
	switch command {
	case "import":
		return c.withApp(ctx, func(a *app.App) int { return c.importCmd(ctx, a, rest) })
	case "regenerate":
		return c.withApp(ctx, func(a *app.App) int { return c.regenerateCmd(ctx, a, rest) })
	case "purge-trash":
		return c.withApp(ctx, func(a *app.App) int { return c.purgeCmd(ctx, a) })
	case "adduser":
		return c.withApp(ctx, func(a *app.App) int { return c.addUserCmd(ctx, a, rest) })
	case "status":
		return c.withApp(ctx, func(a *app.App) int { return c.statusCmd(ctx, a) })
	case "help", "-h", "--help":
		c.printUsage()
		return 0
	default:
		fmt.Fprintf(c.stderr, "Unknown command: %s\n", sanitizeCommand(command))
		c.printUsage()
		return 2
	}
}

// withApp loads configuration, opens the database and runs fn
func (c *cli) withApp(ctx context.Context, fn func(a *app.App) int) int {
	cfg, err := startup.Load()
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	if err := startup.PrepareDirectories(cfg); err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}

	a, err := app.New(ctx, cfg, memory.Limit{})
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		fmt.Fprintf(c.stderr, "Make sure MOMENTO_DATA_DIR is set correctly (current: %s)\n", cfg.DataDir)
		return 1
	}
	defer func() {
		if err := a.Close(defaultTimeout); err != nil {
			fmt.Fprintf(c.stderr, "Warning: failed to close database: %v\n", err)
		}
	}()

	return fn(a)
}

func (c *cli) importCmd(ctx context.Context, a *app.App, args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	deleteAfter := fs.Bool("delete", false, "remove source files after a successful import")
	if err := fs.Parse(reorderFlags(args)); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(c.stderr, "Usage: momentoctl import <username> <directory> [--delete]")
		return 2
	}
	username, dir := fs.Arg(0), fs.Arg(1)

	user, ok := c.lookupUser(ctx, a, username)
	if !ok {
		return 1
	}

	walker := ingest.NewWalker(ingest.DefaultWalkerConfig())
	files, err := walker.Walk(ctx, dir)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	_, skipped, _ := walker.Stats()
	fmt.Fprintf(c.stdout, "Importing %d files for %s (%d skipped)\n", len(paths), user.Username, skipped)

	snap, err := a.Scheduler.Run(ctx, user.ID, paths, ingest.Options{DeleteAfterImport: *deleteAfter, Source: "cli"})
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}

	c.printImport(snap.ImportView())
	return exitCode(snap)
}

func (c *cli) regenerateCmd(ctx context.Context, a *app.App, args []string) int {
	fs := flag.NewFlagSet("regenerate", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	all := fs.Bool("all", false, "clear and rebuild derived data for every record")
	yes := fs.Bool("yes", false, "skip the confirmation for --all")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *all && !*yes {
		if !c.interactive {
			fmt.Fprintln(c.stderr, "Error: --all rebuilds every record; pass --yes when not running on a terminal")
			return 1
		}
		if !c.confirm("This clears metadata and thumbnails for every record and rebuilds them. Continue?") {
			fmt.Fprintln(c.stdout, "Aborted.")
			return 1
		}
	}

	snap, err := a.Regenerator.Run(ctx, regenerator.Options{MissingOnly: !*all})
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}

	v := snap.RegenerationView()
	fmt.Fprintf(c.stdout, "Regeneration %s\n", v.Status)
	fmt.Fprintf(c.stdout, "  Records:              %d/%d\n", v.ProcessedMedia, v.TotalMedia)
	fmt.Fprintf(c.stdout, "  Hashes backfilled:    %d\n", v.BackfilledHashes)
	fmt.Fprintf(c.stdout, "  Metadata updated:     %d\n", v.UpdatedMetadata)
	fmt.Fprintf(c.stdout, "  Thumbnails generated: %d\n", v.GeneratedThumbnails)
	fmt.Fprintf(c.stdout, "  Tags added:           %d\n", v.UpdatedTags)
	fmt.Fprintf(c.stdout, "  Failed:               %d\n", v.FailedMedia)
	c.printErrors(v.Errors)
	return exitCode(snap)
}

func (c *cli) purgeCmd(ctx context.Context, a *app.App) int {
	res, err := a.Purger.Purge(ctx)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(c.stdout, "Purged %d expired grants; deleted %d records and %d files\n",
		res.GrantsRemoved, res.MediaDeleted, res.FilesRemoved)
	return 0
}

func (c *cli) addUserCmd(ctx context.Context, a *app.App, args []string) int {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		fmt.Fprintln(c.stderr, "Usage: momentoctl adduser <username>")
		return 2
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	user, err := a.DB.CreateUser(ctx, strings.TrimSpace(args[0]))
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(c.stdout, "Created user %s (id %d)\n", user.Username, user.ID)
	fmt.Fprintf(c.stdout, "Watch folder: %s/%s\n", a.Config.WebDAVDir, user.Username)
	return 0
}

func (c *cli) statusCmd(ctx context.Context, a *app.App) int {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	users, err := a.DB.ListUsers(ctx)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	stats := a.DB.GetStats()

	fmt.Fprintf(c.stdout, "Database:   %s\n", a.Config.DatabasePath)
	fmt.Fprintf(c.stdout, "Images:     %d\n", stats.TotalImages)
	fmt.Fprintf(c.stdout, "Videos:     %d\n", stats.TotalVideos)
	fmt.Fprintf(c.stdout, "Geotagged:  %d\n", stats.Geotagged)
	fmt.Fprintf(c.stdout, "In trash:   %d\n", stats.TrashedGrants)
	fmt.Fprintf(c.stdout, "Users:      %d\n", len(users))
	for _, u := range users {
		fmt.Fprintf(c.stdout, "  - %s\n", u.Username)
	}
	return 0
}

func (c *cli) lookupUser(ctx context.Context, a *app.App, username string) (*database.User, bool) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	user, err := a.DB.UserByUsername(ctx, username)
	if errors.Is(err, database.ErrNotFound) {
		fmt.Fprintf(c.stderr, "Error: unknown user %q (create it with: momentoctl adduser %s)\n", username, sanitizeCommand(username))
		return nil, false
	}
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return nil, false
	}
	return user, true
}

func (c *cli) printImport(v jobs.ImportStatus) {
	fmt.Fprintf(c.stdout, "Import %s\n", v.Status)
	fmt.Fprintf(c.stdout, "  Files:        %d/%d\n", v.ProcessedFiles, v.TotalFiles)
	fmt.Fprintf(c.stdout, "  Imported:     %d\n", v.SuccessfulImports)
	fmt.Fprintf(c.stdout, "  Deduplicated: %d\n", v.Deduplicated)
	fmt.Fprintf(c.stdout, "  Failed:       %d\n", v.FailedImports)
	c.printErrors(v.Errors)
}

func (c *cli) printErrors(errs []string) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintln(c.stdout, "  Errors:")
	for _, e := range errs {
		fmt.Fprintf(c.stdout, "    %s\n", e)
	}
}

// confirm asks a yes/no question; anything but y or yes declines
func (c *cli) confirm(question string) bool {
	fmt.Fprintf(c.stdout, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(c.stdin).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func exitCode(snap jobs.Snapshot) int {
	if snap.Status == jobs.StatusCompleted && snap.Failed == 0 {
		return 0
	}
	return 1
}

// reorderFlags moves flags ahead of positional arguments so
// "import alice ./dir --delete" parses like "import --delete alice ./dir".
func reorderFlags(args []string) []string {
	var flags, positional []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") && arg != "-" {
			flags = append(flags, arg)
		} else {
			positional = append(positional, arg)
		}
	}
	return append(flags, positional...)
}

// sanitizeCommand returns a safe representation of user input for display.
// Anything outside [a-zA-Z0-9_-] becomes '_'.
func sanitizeCommand(cmd string) string {
	var b strings.Builder
	b.Grow(len(cmd))
	for _, r := range cmd {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (c *cli) printUsage() {
	fmt.Fprintln(c.stdout, "Momento administration")
	fmt.Fprintln(c.stdout, "")
	fmt.Fprintln(c.stdout, "Usage: momentoctl [-v] <command> [arguments]")
	fmt.Fprintln(c.stdout, "")
	fmt.Fprintln(c.stdout, "Commands:")
	fmt.Fprintln(c.stdout, "  import <user> <dir> [--delete]  Import a directory tree for a user")
	fmt.Fprintln(c.stdout, "  regenerate [--all] [--yes]      Fill in missing metadata and thumbnails (--all rebuilds everything)")
	fmt.Fprintln(c.stdout, "  purge-trash                     Remove trash entries past the retention window")
	fmt.Fprintln(c.stdout, "  adduser <name>                  Create a user")
	fmt.Fprintln(c.stdout, "  status                          Show library totals and users")
	fmt.Fprintln(c.stdout, "")
	fmt.Fprintln(c.stdout, "Environment:")
	fmt.Fprintln(c.stdout, "  MOMENTO_DATA_DIR - Path to the data directory (default: /data)")
	fmt.Fprintln(c.stdout, "  DATABASE_DIR     - Path to the database directory (default: $MOMENTO_DATA_DIR/database)")
}
