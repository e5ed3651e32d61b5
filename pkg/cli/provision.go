package cli

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/platinummonkey/gatekeeper/pkg/api"
	"github.com/platinummonkey/gatekeeper/pkg/storage"
	"github.com/sirupsen/logrus"
)

func newMigrateCommand(open Opener) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending schema migrations",
		Flags:       flag.NewFlagSet("migrate", flag.ContinueOnError),
	}

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return withEnv(open, func(ctx context.Context, env *Env) error {
			applied, err := storage.RunMigrations(ctx, env.DB, api.Components()...)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				env.Log.Info("Schema is up to date")
				return nil
			}
			for _, m := range applied {
				env.Log.WithFields(logrus.Fields{
					"component": m.Component,
					"version":   m.Version,
				}).Infof("Applied migration: %s", m.Description)
			}
			return nil
		})
	}

	return cmd
}

func newUpCommand(open Opener) *Command {
	cmd := &Command{
		Name:        "up",
		Description: "Apply pending provisioning steps as one batch",
		Flags:       flag.NewFlagSet("up", flag.ContinueOnError),
	}

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return withEnv(open, func(ctx context.Context, env *Env) error {
			runner, err := env.Runner()
			if err != nil {
				return err
			}
			applied, err := runner.Up(ctx)
			for _, id := range applied {
				env.Log.Infof("Provisioned: %s", id)
			}
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				env.Log.Info("Nothing to provision")
			}
			return nil
		})
	}

	return cmd
}

func newDownCommand(open Opener) *Command {
	cmd := &Command{
		Name:        "down",
		Description: "Reverse the most recent provisioning batches",
		Flags:       flag.NewFlagSet("down", flag.ContinueOnError),
	}
	batches := cmd.Flags.Int("batches", 1, "Number of batches to reverse")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *batches < 1 {
			return fmt.Errorf("-batches must be at least 1")
		}
		return withEnv(open, func(ctx context.Context, env *Env) error {
			runner, err := env.Runner()
			if err != nil {
				return err
			}
			reversed, err := runner.Down(ctx, *batches)
			for _, id := range reversed {
				env.Log.Infof("Reversed: %s", id)
			}
			if err != nil {
				return err
			}
			if len(reversed) == 0 {
				env.Log.Info("Nothing to reverse")
			}
			return nil
		})
	}

	return cmd
}

func newStatusCommand(open Opener) *Command {
	cmd := &Command{
		Name:        "status",
		Description: "List provisioning steps and whether they are applied",
		Flags:       flag.NewFlagSet("status", flag.ContinueOnError),
	}

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return withEnv(open, func(ctx context.Context, env *Env) error {
			runner, err := env.Runner()
			if err != nil {
				return err
			}
			statuses, err := runner.Status(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(env.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STEP\tBATCH\tAPPLIED AT\tNOTE")
			for _, s := range statuses {
				batch, appliedAt, note := "-", "pending", ""
				if s.Applied {
					batch = fmt.Sprintf("%d", s.Batch)
					appliedAt = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
				}
				if s.Unregistered {
					note = "not registered in this binary"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, batch, appliedAt, note)
			}
			return tw.Flush()
		})
	}

	return cmd
}
