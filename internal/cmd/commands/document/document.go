package document

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/patrickjuchli/couch/v2"
	"github.com/patrickjuchli/couch/v2/internal/cmd/base"
)

type GetCommand struct {
	*base.Command

	flagRev string
}

func (c *GetCommand) Synopsis() string {
	return "Fetch documents"
}

func (c *GetCommand) Help() string {
	return `Usage: couchctl get [options] <db> <id>...

  Prints the latest revision of one document, or the rows of _all_docs for
  several ids.` +
		c.Flags().Help()
}

func (c *GetCommand) Flags() *base.FlagSet {
	f := c.NewFlagSet("get")
	f.StringVar(
		&c.flagRev, "rev", "", "Fetch this revision instead of the latest (single id only).",
	)
	return f
}

func (c *GetCommand) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return c.Fail("error parsing flags", err)
	}
	if f.NArg() < 2 {
		c.UI.Error("get expects a database name and at least one document id")
		return 1
	}
	if c.flagRev != "" && f.NArg() > 2 {
		c.UI.Error("rev can only be used with a single document id")
		return 1
	}

	client, err := c.Client()
	if err != nil {
		return c.Fail("error creating client", err)
	}
	defer client.Close()

	db := client.Database(f.Arg(0))
	ids := f.Args()[1:]
	if len(ids) == 1 {
		doc, err := db.OpenDoc(c.Context(), ids[0], &couch.Options{Rev: c.flagRev})
		if err != nil {
			return c.Fail("error fetching document", err)
		}
		return c.Output(doc)
	}

	result, err := db.OpenDocs(c.Context(), ids, &couch.Options{IncludeDocs: true})
	if err != nil {
		return c.Fail("error fetching documents", err)
	}
	var missing *multierror.Error
	for _, row := range result.Rows {
		if row.Error != "" {
			missing = multierror.Append(missing, fmt.Errorf("%v: %s", row.Key, row.Error))
		}
	}
	code := c.Output(result.Rows)
	if err := missing.ErrorOrNil(); err != nil {
		return c.Fail("some documents could not be fetched", err)
	}
	return code
}

type PutCommand struct {
	*base.Command
}

func (c *PutCommand) Synopsis() string {
	return "Save a document"
}

func (c *PutCommand) Help() string {
	return `Usage: couchctl put [options] <db> <json>

  Saves a JSON document. Documents without "_id" get a server assigned id,
  updates need the current "_rev". Prints the saved document.` +
		c.NewFlagSet("put").Help()
}

func (c *PutCommand) Run(args []string) int {
	f := c.NewFlagSet("put")
	if err := f.Parse(args); err != nil {
		return c.Fail("error parsing flags", err)
	}
	if f.NArg() != 2 {
		c.UI.Error("put expects a database name and a JSON document")
		return 1
	}
	var doc couch.Document
	if err := json.Unmarshal([]byte(f.Arg(1)), &doc); err != nil {
		return c.Fail("error parsing document", err)
	}

	client, err := c.Client()
	if err != nil {
		return c.Fail("error creating client", err)
	}
	defer client.Close()

	saved, err := client.Database(f.Arg(0)).SaveDoc(c.Context(), doc, nil)
	if err != nil {
		return c.Fail("error saving document", err)
	}
	return c.Output(saved)
}

type DeleteCommand struct {
	*base.Command
}

func (c *DeleteCommand) Synopsis() string {
	return "Delete a document revision"
}

func (c *DeleteCommand) Help() string {
	return `Usage: couchctl delete [options] <db> <id> <rev>

  Deletes the given revision of a document.` +
		c.NewFlagSet("delete").Help()
}

func (c *DeleteCommand) Run(args []string) int {
	f := c.NewFlagSet("delete")
	if err := f.Parse(args); err != nil {
		return c.Fail("error parsing flags", err)
	}
	if f.NArg() != 3 {
		c.UI.Error("delete expects a database name, a document id and a revision")
		return 1
	}

	client, err := c.Client()
	if err != nil {
		return c.Fail("error creating client", err)
	}
	defer client.Close()

	doc := couch.Document{"_id": f.Arg(1), "_rev": f.Arg(2)}
	removed, err := client.Database(f.Arg(0)).RemoveDoc(c.Context(), doc, nil)
	if err != nil {
		return c.Fail("error deleting document", err)
	}
	return c.Output(removed)
}
