package cli

import (
	"flag"
	"fmt"

	"github.com/platinummonkey/gatekeeper/pkg/provisioning"
)

func newValidateCommand() *Command {
	cmd := &Command{
		Name:        "validate",
		Description: "Validate provisioning manifests without touching the database",
		Flags:       flag.NewFlagSet("validate", flag.ContinueOnError),
	}
	dir := cmd.Flags.String("dir", ".", "Directory containing manifest files")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		steps, err := provisioning.LoadSteps(*dir)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		// sorting rejects duplicate ids across manifests and built-in steps
		if _, err := provisioning.NewRunner(nil, nil, steps); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintf(cmd.out, "%d manifests valid\n", len(steps)-len(provisioning.BuiltinSteps()))
		return nil
	}

	return cmd
}
