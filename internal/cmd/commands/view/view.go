package view

import (
	"encoding/json"

	"github.com/patrickjuchli/couch/v2"
	"github.com/patrickjuchli/couch/v2/internal/cmd/base"
)

type Command struct {
	*base.Command

	flagKey         string
	flagLimit       int
	flagIncludeDocs bool
	flagReduce      bool
}

func (c *Command) Synopsis() string {
	return "Query a view"
}

func (c *Command) Help() string {
	return `Usage: couchctl view [options] <db> <design/view>

  Queries a view and prints the result. The key is taken as JSON if it
  parses as JSON, as a plain string otherwise.` +
		c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := c.NewFlagSet("view")
	f.StringVar(
		&c.flagKey, "key", "", "Only return rows with this key.",
	)
	f.IntVar(
		&c.flagLimit, "limit", 0, "Maximum number of rows, 0 for all.",
	)
	f.BoolVar(
		&c.flagIncludeDocs, "include-docs", false, "Include document bodies.",
	)
	f.BoolVar(
		&c.flagReduce, "reduce", true, "Run the reduce function, if the view has one.",
	)
	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return c.Fail("error parsing flags", err)
	}
	if f.NArg() != 2 {
		c.UI.Error("view expects a database name and a view reference")
		return 1
	}
	ref, err := couch.ParseViewRef(f.Arg(1))
	if err != nil {
		return c.Fail("error parsing view reference", err)
	}

	opts := &couch.Options{
		Limit:       c.flagLimit,
		IncludeDocs: c.flagIncludeDocs,
	}
	if c.flagKey != "" {
		opts.Key = parseKey(c.flagKey)
	}
	if !c.flagReduce {
		opts.Reduce = couch.Bool(false)
	}

	client, err := c.Client()
	if err != nil {
		return c.Fail("error creating client", err)
	}
	defer client.Close()

	result, err := client.Database(f.Arg(0)).Query(c.Context(), ref, opts)
	if err != nil {
		return c.Fail("error querying view", err)
	}
	return c.Output(result)
}

func parseKey(s string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
