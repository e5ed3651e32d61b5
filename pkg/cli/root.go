package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
	out         io.Writer
}

// NewRootCommand creates the root command. open is called by every command
// that needs the database.
func NewRootCommand(open Opener) *Command {
	root := &Command{
		Name:        "gatekeeper-provision",
		Description: "Gatekeeper - RBAC provisioning and administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("gatekeeper-provision", flag.ExitOnError),
		out:         os.Stdout,
	}

	for _, cmd := range []*Command{
		newMigrateCommand(open),
		newUpCommand(open),
		newDownCommand(open),
		newStatusCommand(open),
		newCheckCommand(open),
		newCreateUserCommand(open),
		newAssignRoleCommand(open),
		newCreateTokenCommand(open),
		newValidateCommand(),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.ExecuteArgs(os.Args[1:])
}

// ExecuteArgs runs the subcommand named by args[0]
func (c *Command) ExecuteArgs(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		subcmd.out = c.out
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(c.out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(c.out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(c.out, "  %-18s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}
