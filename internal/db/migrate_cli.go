package db

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// ErrUsage is returned for a malformed migrate command line. Help has
// already been printed.
var ErrUsage = errors.New("usage error")

// MigrateCLI runs the "supplybot migrate" subcommand.
type MigrateCLI struct {
	Out io.Writer
	// In answers the confirmation prompt of "force".
	In io.Reader
	FS fs.FS
}

// RunMigrateCommand runs the subcommand on the terminal against the embedded
// migrations.
func RunMigrateCommand(args []string, dbPath string) error {
	cli := MigrateCLI{Out: os.Stdout, In: os.Stdin, FS: Migrations()}
	return cli.Run(args, dbPath)
}

// Run dispatches args[0] to an action on the database at dbPath. The schema
// is left exactly as the action asks, so the database is opened without
// migrating.
func (c MigrateCLI) Run(args []string, dbPath string) error {
	if len(args) == 0 || args[0] == "help" {
		c.help()
		if len(args) == 0 {
			return ErrUsage
		}
		return nil
	}

	action, rest := args[0], args[1:]
	needsVersion := action == "version" || action == "force"
	if needsVersion && len(rest) != 1 {
		fmt.Fprintf(c.Out, "Usage: supplybot migrate %s <version_number>\n", action)
		return ErrUsage
	}
	switch action {
	case "up", "down", "status", "version", "force":
	default:
		fmt.Fprintf(c.Out, "Unknown migrate action: %s\n\n", action)
		c.help()
		return ErrUsage
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	switch action {
	case "up":
		if err := database.MigrateUp(c.FS); err != nil {
			return err
		}
		return c.printVersion(database, "All migrations applied")
	case "down":
		if err := database.MigrateDown(c.FS); err != nil {
			return err
		}
		return c.printVersion(database, "Rolled back one migration")
	case "status":
		return c.status(database)
	case "version":
		v, err := strconv.ParseUint(rest[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number %q", rest[0])
		}
		if err := database.MigrateTo(c.FS, uint(v)); err != nil {
			return err
		}
		return c.printVersion(database, "Migrated")
	default: // force
		v, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("invalid version number %q", rest[0])
		}
		if !c.confirm(fmt.Sprintf("Force the schema version to %d? Only do this to recover from a dirty migration. [y/N]: ", v)) {
			fmt.Fprintln(c.Out, "Aborted")
			return nil
		}
		if err := database.MigrateForce(c.FS, v); err != nil {
			return err
		}
		return c.printVersion(database, "Forced")
	}
}

func (c MigrateCLI) confirm(prompt string) bool {
	fmt.Fprint(c.Out, prompt)
	if c.In == nil {
		return false
	}
	answer, _ := bufio.NewReader(c.In).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func (c MigrateCLI) printVersion(database *DB, what string) error {
	v, dirty, err := database.MigrateVersion(c.FS)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "%s: schema version %d (dirty: %v)\n", what, v, dirty)
	return nil
}

func (c MigrateCLI) status(database *DB) error {
	st, err := database.GetMigrationStatus(c.FS)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Current version:  %d\n", st.CurrentVersion)
	fmt.Fprintf(c.Out, "Latest available: %d\n", st.LatestVersion)
	fmt.Fprintf(c.Out, "Dirty:            %v\n", st.Dirty)

	switch {
	case st.Dirty:
		fmt.Fprintln(c.Out, "A migration failed part way. Inspect the run log, then run 'supplybot migrate force <version>'.")
	case st.CurrentVersion < st.LatestVersion:
		fmt.Fprintf(c.Out, "%d migration(s) pending. Run 'supplybot migrate up'.\n", st.LatestVersion-st.CurrentVersion)
	default:
		fmt.Fprintln(c.Out, "Run log schema is up to date.")
	}
	return nil
}

func (c MigrateCLI) help() {
	fmt.Fprint(c.Out, `Run log migrations

Usage: supplybot [-db <path>] migrate <command>

Commands:
  up            Apply all pending migrations
  down          Roll back one migration
  status        Show current and latest schema versions
  version <N>   Migrate up or down to version N
  force <N>     Set the version to N without migrating (recovery only)
  help          Show this help message
`)
}
