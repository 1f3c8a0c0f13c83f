package version

import (
	"fmt"

	"github.com/patrickjuchli/couch/v2/internal/cmd/base"
	"github.com/patrickjuchli/couch/v2/internal/version"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the version"
}

func (c *Command) Help() string {
	return `Usage: couchctl version

  Prints the version of couchctl.`
}

func (c *Command) Run(args []string) int {
	c.UI.Output(fmt.Sprintf("couchctl %s", version.Version))
	return 0
}
