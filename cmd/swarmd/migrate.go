package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/config"
	"github.com/BaSui01/agentswarm/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// migrateAction runs one migration operation against an open CLI.
type migrateAction func(ctx context.Context, cli *migration.CLI) error

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		withMigrator("up", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunUp(ctx)
		})
	case "down":
		runMigrateDown(subargs)
	case "status":
		withMigrator("status", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunStatus(ctx)
		})
	case "version":
		withMigrator("version", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunVersion(ctx)
		})
	case "steps":
		n := parseStepsArg(subargs)
		withMigrator("steps", subargs[1:], func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunSteps(ctx, n)
		})
	case "goto":
		version := parseVersionArg("goto", subargs)
		withMigrator("goto", subargs[1:], func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunGoto(ctx, uint(version))
		})
	case "force":
		version := parseVersionArg("force", subargs)
		withMigrator("force", subargs[1:], func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunForce(ctx, int(version))
		})
	case "reset":
		withMigrator("reset", subargs, func(ctx context.Context, cli *migration.CLI) error {
			return cli.RunDownAll(ctx)
		})
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Database Migration Commands

Creates and upgrades the peer_reputations and delegation_contracts tables
used when reputation.store or contracts.store is "database".

Usage:
  swarmd migrate <subcommand> [options]

Subcommands:
  up        Apply all pending migrations
  down      Rollback the last migration (--all for every migration)
  status    Show migration status
  version   Show current migration version
  steps     Apply n migrations, or roll back with a negative n
  goto      Migrate to a specific version
  force     Force set migration version (use with caution)
  reset     Rollback all migrations
  help      Show this help message

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  swarmd migrate up
  swarmd migrate up --config /etc/swarmd/swarm.yaml
  swarmd migrate up --db-type sqlite --db-url sqlite3://swarm.db
  swarmd migrate status
  swarmd migrate steps -1
  swarmd migrate goto 1
  swarmd migrate force 0`)
}

// migrateFlags are the flags every subcommand accepts.
type migrateFlags struct {
	configPath *string
	dbType     *string
	dbURL      *string
}

func registerMigrateFlags(fs *flag.FlagSet) migrateFlags {
	return migrateFlags{
		configPath: fs.String("config", "", "Path to config file"),
		dbType:     fs.String("db-type", "", "Database type (postgres, mysql, sqlite)"),
		dbURL:      fs.String("db-url", "", "Database connection URL"),
	}
}

// newMigrator creates a migrator from parsed flags. An explicit type and URL
// win over the config file.
func (f migrateFlags) newMigrator(logger *zap.Logger) (*migration.DefaultMigrator, error) {
	if *f.dbType != "" && *f.dbURL != "" {
		return migration.NewMigratorFromURL(*f.dbType, *f.dbURL, logger)
	}

	loader := config.NewLoader()
	if *f.configPath != "" {
		loader = loader.WithConfigPath(*f.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *f.dbType != "" {
		cfg.Database.Driver = *f.dbType
	}
	return migration.NewMigratorFromConfig(cfg, logger)
}

// withMigrator parses flags, opens a migrator and runs action, exiting on error.
func withMigrator(name string, args []string, action migrateAction) {
	fs := flag.NewFlagSet("migrate "+name, flag.ExitOnError)
	flags := registerMigrateFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}
	runWithMigrator(name, flags, action)
}

func runWithMigrator(name string, flags migrateFlags, action migrateAction) {
	logger := initLogger(config.LogConfig{Level: "warn", Format: "console"})
	defer logger.Sync()

	migrator, err := flags.newMigrator(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	if err := action(context.Background(), migration.NewCLI(migrator, logger)); err != nil {
		fmt.Fprintf(os.Stderr, "migrate %s failed: %v\n", name, err)
		os.Exit(1)
	}
}

// runMigrateDown rolls back the last migration, or all of them with --all
func runMigrateDown(args []string) {
	fs := flag.NewFlagSet("migrate down", flag.ExitOnError)
	all := fs.Bool("all", false, "Rollback all migrations")
	flags := registerMigrateFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	runWithMigrator("down", flags, func(ctx context.Context, cli *migration.CLI) error {
		if *all {
			return cli.RunDownAll(ctx)
		}
		return cli.RunDown(ctx)
	})
}

// parseVersionArg reads the version operand of goto and force.
func parseVersionArg(sub string, args []string) int64 {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: swarmd migrate %s <version>\n", sub)
		os.Exit(1)
	}
	version, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil || version < -1 {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}
	if sub == "goto" && version < 0 {
		fmt.Fprintf(os.Stderr, "Invalid version number: %s\n", args[0])
		os.Exit(1)
	}
	return version
}

// parseStepsArg reads the signed count operand of steps.
func parseStepsArg(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: swarmd migrate steps <n>")
		os.Exit(1)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n == 0 {
		fmt.Fprintf(os.Stderr, "Invalid step count: %s\n", args[0])
		os.Exit(1)
	}
	return n
}
