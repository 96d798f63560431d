package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"go.uber.org/zap"
)

// swarmTables names the swarm store each migration creates a table for.
var swarmTables = map[string]string{
	"peer_reputations":     "reputation ledger",
	"delegation_contracts": "contract ledger",
}

// CLI renders migrator operations for the swarmd migrate command.
type CLI struct {
	migrator Migrator
	output   io.Writer
	logger   *zap.Logger
}

// NewCLI creates a CLI writing to stdout.
func NewCLI(migrator Migrator, logger *zap.Logger) *CLI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CLI{
		migrator: migrator,
		output:   os.Stdout,
		logger:   logger.With(zap.String("component", "migration_cli")),
	}
}

// SetOutput redirects the human-readable report.
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// RunUp applies every pending migration.
func (c *CLI) RunUp(ctx context.Context) error {
	return c.apply(ctx, "up", func() error { return c.migrator.Up(ctx) })
}

// RunDown rolls back the newest migration.
func (c *CLI) RunDown(ctx context.Context) error {
	return c.apply(ctx, "down", func() error { return c.migrator.Down(ctx) })
}

// RunDownAll drops every swarm table.
func (c *CLI) RunDownAll(ctx context.Context) error {
	return c.apply(ctx, "reset", func() error { return c.migrator.DownAll(ctx) })
}

// RunSteps applies n migrations, or rolls back -n when n is negative.
func (c *CLI) RunSteps(ctx context.Context, n int) error {
	if n == 0 {
		return fmt.Errorf("steps must be non-zero")
	}
	return c.apply(ctx, fmt.Sprintf("steps %+d", n), func() error { return c.migrator.Steps(ctx, n) })
}

// RunGoto migrates up or down to version.
func (c *CLI) RunGoto(ctx context.Context, version uint) error {
	return c.apply(ctx, fmt.Sprintf("goto %d", version), func() error { return c.migrator.Goto(ctx, version) })
}

// RunForce records version as applied without running anything. It is the
// way out of a dirty schema after a failed migration was fixed by hand.
func (c *CLI) RunForce(ctx context.Context, version int) error {
	if err := c.migrator.Force(ctx, version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	c.logger.Warn("schema version forced", zap.Int("version", version))
	fmt.Fprintf(c.output, "Schema version forced to %d\n", version)
	return nil
}

// RunVersion prints the schema version.
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case version == 0:
		fmt.Fprintln(c.output, "Swarm schema not created yet")
	case dirty:
		fmt.Fprintf(c.output, "Swarm schema at version %d (dirty, run force after repairing)\n", version)
	default:
		fmt.Fprintf(c.output, "Swarm schema at version %d\n", version)
	}
	return nil
}

// RunStatus lists every migration with the store its table backs, then
// whether the database stores can start against this schema.
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.output, "No migrations embedded")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tTABLE\tSTORE\tSTATE")
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		store := swarmTables[s.Name]
		if store == "" {
			store = "-"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\t%s\n", s.Version, s.Name, store, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("read migration info: %w", err)
	}
	ready := "yes"
	if info.PendingMigrations > 0 || info.Dirty {
		ready = "no, run swarmd migrate up"
	}
	fmt.Fprintf(c.output, "\n%d of %d applied. Database stores ready: %s\n",
		info.AppliedMigrations, info.TotalMigrations, ready)
	return nil
}

// apply runs one schema change and reports the version it left behind.
func (c *CLI) apply(ctx context.Context, op string, fn func() error) error {
	before, _, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if err := fn(); err != nil {
		return fmt.Errorf("migrate %s: %w", op, err)
	}
	after, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	c.logger.Info("swarm schema changed",
		zap.String("op", op),
		zap.Uint("from", before),
		zap.Uint("to", after),
		zap.Bool("dirty", dirty),
	)
	if before == after {
		fmt.Fprintf(c.output, "Swarm schema already at version %d\n", after)
		return nil
	}
	fmt.Fprintf(c.output, "Swarm schema moved from version %d to %d\n", before, after)
	return nil
}
