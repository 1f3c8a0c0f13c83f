package cmd

import (
	"bufio"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/patrickjuchli/couch/v2/internal/cmd/base"
	"github.com/patrickjuchli/couch/v2/internal/cmd/commands/database"
	"github.com/patrickjuchli/couch/v2/internal/cmd/commands/document"
	"github.com/patrickjuchli/couch/v2/internal/cmd/commands/server"
	"github.com/patrickjuchli/couch/v2/internal/cmd/commands/version"
	"github.com/patrickjuchli/couch/v2/internal/cmd/commands/view"
	couchversion "github.com/patrickjuchli/couch/v2/internal/version"
)

// Commands is the mapping of all available couchctl commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	b := &base.Command{
		Log: log,
		UI:  ui,
	}

	Commands = map[string]cli.CommandFactory{
		"uuids": func() (cli.Command, error) {
			return &server.UUIDsCommand{Command: b}, nil
		},
		"all-dbs": func() (cli.Command, error) {
			return &server.AllDBsCommand{Command: b}, nil
		},
		"active-tasks": func() (cli.Command, error) {
			return &server.ActiveTasksCommand{Command: b}, nil
		},
		"create": func() (cli.Command, error) {
			return &database.CreateCommand{Command: b}, nil
		},
		"drop": func() (cli.Command, error) {
			return &database.DropCommand{Command: b}, nil
		},
		"compact": func() (cli.Command, error) {
			return &database.CompactCommand{Command: b}, nil
		},
		"info": func() (cli.Command, error) {
			return &database.InfoCommand{Command: b}, nil
		},
		"all-docs": func() (cli.Command, error) {
			return &database.AllDocsCommand{Command: b}, nil
		},
		"get": func() (cli.Command, error) {
			return &document.GetCommand{Command: b}, nil
		},
		"put": func() (cli.Command, error) {
			return &document.PutCommand{Command: b}, nil
		},
		"delete": func() (cli.Command, error) {
			return &document.DeleteCommand{Command: b}, nil
		},
		"view": func() (cli.Command, error) {
			return &view.Command{Command: b}, nil
		},
		"version": func() (cli.Command, error) {
			return &version.Command{Command: b}, nil
		},
	}
}

// Main runs the CLI with the given arguments and returns the exit code.
func Main(args []string) int {
	ui := &cli.BasicUi{
		Reader:      bufio.NewReader(os.Stdin),
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}
	return run(args, ui)
}

func run(args []string, ui cli.Ui) int {
	cliName := args[0]

	log := hclog.New(&hclog.LoggerOptions{
		Name:   cliName,
		Output: os.Stderr,
	})

	if len(args) == 2 &&
		(args[1] == "-version" ||
			args[1] == "-v") {
		args = []string{cliName, "version"}
	}

	initCommands(log, ui)

	c := &cli.CLI{
		Name:     cliName,
		Args:     args[1:],
		Version:  couchversion.Version,
		Commands: Commands,
	}

	exitCode, err := c.Run()
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	return exitCode
}
