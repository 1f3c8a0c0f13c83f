package database

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/patrickjuchli/couch/v2"
	"github.com/patrickjuchli/couch/v2/internal/cmd/base"
)

type CreateCommand struct {
	*base.Command
}

func (c *CreateCommand) Synopsis() string {
	return "Create a database"
}

func (c *CreateCommand) Help() string {
	return `Usage: couchctl create [options] <db>

  Creates a new database.` +
		c.NewFlagSet("create").Help()
}

func (c *CreateCommand) Run(args []string) int {
	return run(c.Command, "create", args, func(db *couch.Database) (interface{}, error) {
		return map[string]bool{"ok": true}, db.Create(c.Context(), nil)
	})
}

type CompactCommand struct {
	*base.Command
}

func (c *CompactCommand) Synopsis() string {
	return "Start compaction of a database"
}

func (c *CompactCommand) Help() string {
	return `Usage: couchctl compact [options] <db>

  Starts compaction of a database. The command returns once the server
  accepted the job, use active-tasks to follow its progress.` +
		c.NewFlagSet("compact").Help()
}

func (c *CompactCommand) Run(args []string) int {
	return run(c.Command, "compact", args, func(db *couch.Database) (interface{}, error) {
		return map[string]bool{"ok": true}, db.Compact(c.Context(), nil)
	})
}

type InfoCommand struct {
	*base.Command
}

func (c *InfoCommand) Synopsis() string {
	return "Show database information"
}

func (c *InfoCommand) Help() string {
	return `Usage: couchctl info [options] <db>

  Prints document counts, update sequence and disk size of a database.` +
		c.NewFlagSet("info").Help()
}

func (c *InfoCommand) Run(args []string) int {
	return run(c.Command, "info", args, func(db *couch.Database) (interface{}, error) {
		return db.Info(c.Context(), nil)
	})
}

type AllDocsCommand struct {
	*base.Command

	flagIncludeDocs bool
	flagLimit       int
}

func (c *AllDocsCommand) Synopsis() string {
	return "List the documents of a database"
}

func (c *AllDocsCommand) Help() string {
	return `Usage: couchctl all-docs [options] <db>

  Prints the rows of _all_docs.` +
		c.Flags().Help()
}

func (c *AllDocsCommand) Flags() *base.FlagSet {
	f := c.NewFlagSet("all-docs")
	f.BoolVar(
		&c.flagIncludeDocs, "include-docs", false, "Include document bodies.",
	)
	f.IntVar(
		&c.flagLimit, "limit", 0, "Maximum number of rows, 0 for all.",
	)
	return f
}

func (c *AllDocsCommand) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return c.Fail("error parsing flags", err)
	}
	if f.NArg() != 1 {
		c.UI.Error("all-docs expects exactly one database name")
		return 1
	}

	client, err := c.Client()
	if err != nil {
		return c.Fail("error creating client", err)
	}
	defer client.Close()

	opts := &couch.Options{IncludeDocs: c.flagIncludeDocs, Limit: c.flagLimit}
	result, err := client.Database(f.Arg(0)).AllDocs(c.Context(), opts)
	if err != nil {
		return c.Fail("error listing documents", err)
	}
	return c.Output(result)
}

type DropCommand struct {
	*base.Command
}

func (c *DropCommand) Synopsis() string {
	return "Delete one or more databases"
}

func (c *DropCommand) Help() string {
	return `Usage: couchctl drop [options] <db>...

  Deletes the given databases. All databases are attempted, failures are
  reported together.` +
		c.NewFlagSet("drop").Help()
}

func (c *DropCommand) Run(args []string) int {
	f := c.NewFlagSet("drop")
	if err := f.Parse(args); err != nil {
		return c.Fail("error parsing flags", err)
	}
	if f.NArg() == 0 {
		c.UI.Error("drop expects at least one database name")
		return 1
	}

	client, err := c.Client()
	if err != nil {
		return c.Fail("error creating client", err)
	}
	defer client.Close()

	var result *multierror.Error
	dropped := []string{}
	for _, name := range f.Args() {
		if err := client.Database(name).Drop(c.Context(), nil); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", name, err))
			continue
		}
		c.Log.Debug("dropped database", "name", name)
		dropped = append(dropped, name)
	}
	if err := result.ErrorOrNil(); err != nil {
		c.Output(dropped)
		return c.Fail("error dropping databases", err)
	}
	return c.Output(dropped)
}

// run parses the flags, expects a single database name and prints what fn
// returns.
func run(c *base.Command, name string, args []string, fn func(*couch.Database) (interface{}, error)) int {
	f := c.NewFlagSet(name)
	if err := f.Parse(args); err != nil {
		return c.Fail("error parsing flags", err)
	}
	if f.NArg() != 1 {
		c.UI.Error(name + " expects exactly one database name")
		return 1
	}

	client, err := c.Client()
	if err != nil {
		return c.Fail("error creating client", err)
	}
	defer client.Close()

	out, err := fn(client.Database(f.Arg(0)))
	if err != nil {
		return c.Fail("error running "+name, err)
	}
	return c.Output(out)
}
