package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand. It opens dbPath
// without migrating it so a broken schema can still be inspected.
func RunMigrateCommand(w io.Writer, args []string, dbPath string) error {
	if len(args) < 1 || args[0] == "help" {
		PrintMigrateHelp(w)
		if len(args) < 1 {
			return fmt.Errorf("migrate: missing action")
		}
		return nil
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
	case "status":
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: hostlink -db <path> migrate force <version>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[1], err)
		}
		if err := database.MigrateForce(version); err != nil {
			return err
		}
	default:
		PrintMigrateHelp(w)
		return fmt.Errorf("unknown migrate action: %s", action)
	}

	version, dirty, err := database.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	fmt.Fprintf(w, "version: %d\n", version)
	fmt.Fprintf(w, "dirty: %v\n", dirty)
	if dirty {
		fmt.Fprintln(w, "a migration failed part way; inspect the database, then run 'migrate force <version>'")
	}
	return nil
}

// PrintMigrateHelp lists the migrate actions.
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprint(w, `Usage: hostlink -db <path> migrate <action>

Actions:
  up                 apply all pending migrations
  down               roll back the most recent migration
  status             show the schema version and dirty flag
  force <version>    mark <version> as applied without running it
  help               show this message
`)
}
