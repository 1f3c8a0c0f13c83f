package server

import (
	"github.com/patrickjuchli/couch/v2"
	"github.com/patrickjuchli/couch/v2/internal/cmd/base"
)

type UUIDsCommand struct {
	*base.Command

	flagCount int
}

func (c *UUIDsCommand) Synopsis() string {
	return "Generate UUIDs on the server"
}

func (c *UUIDsCommand) Help() string {
	return `Usage: couchctl uuids [options]

  Asks the server for unique identifiers and prints them as a JSON array.` +
		c.Flags().Help()
}

func (c *UUIDsCommand) Flags() *base.FlagSet {
	f := c.NewFlagSet("uuids")
	f.IntVar(
		&c.flagCount, "count", couch.DefaultUUIDCount,
		"Number of UUIDs to generate.",
	)
	return f
}

func (c *UUIDsCommand) Run(args []string) int {
	if err := c.Flags().Parse(args); err != nil {
		return c.Fail("error parsing flags", err)
	}
	if c.flagCount < 1 {
		c.UI.Error("count must be at least 1")
		return 1
	}

	client, err := c.Client()
	if err != nil {
		return c.Fail("error creating client", err)
	}
	defer client.Close()

	uuids, err := client.GenerateUUIDs(c.Context(), c.flagCount)
	if err != nil {
		return c.Fail("error generating uuids", err)
	}
	return c.Output(uuids)
}

type AllDBsCommand struct {
	*base.Command
}

func (c *AllDBsCommand) Synopsis() string {
	return "List all databases"
}

func (c *AllDBsCommand) Help() string {
	return `Usage: couchctl all-dbs [options]

  Prints the names of all databases on the server.` +
		c.NewFlagSet("all-dbs").Help()
}

func (c *AllDBsCommand) Run(args []string) int {
	if err := c.NewFlagSet("all-dbs").Parse(args); err != nil {
		return c.Fail("error parsing flags", err)
	}
	client, err := c.Client()
	if err != nil {
		return c.Fail("error creating client", err)
	}
	defer client.Close()

	names, err := client.AllDBs(c.Context())
	if err != nil {
		return c.Fail("error listing databases", err)
	}
	return c.Output(names)
}

type ActiveTasksCommand struct {
	*base.Command
}

func (c *ActiveTasksCommand) Synopsis() string {
	return "List the server's active tasks"
}

func (c *ActiveTasksCommand) Help() string {
	return `Usage: couchctl active-tasks [options]

  Prints the tasks currently running on the server, like compactions,
  indexers and continuous replications.` +
		c.NewFlagSet("active-tasks").Help()
}

func (c *ActiveTasksCommand) Run(args []string) int {
	if err := c.NewFlagSet("active-tasks").Parse(args); err != nil {
		return c.Fail("error parsing flags", err)
	}
	client, err := c.Client()
	if err != nil {
		return c.Fail("error creating client", err)
	}
	defer client.Close()

	tasks, err := client.ActiveTasks(c.Context())
	if err != nil {
		return c.Fail("error listing active tasks", err)
	}
	if tasks == nil {
		tasks = []couch.Task{}
	}
	return c.Output(tasks)
}
