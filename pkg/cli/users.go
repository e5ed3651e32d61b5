package cli

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

func newCreateUserCommand(open Opener) *Command {
	cmd := &Command{
		Name:        "create-user",
		Description: "Create a user",
		Flags:       flag.NewFlagSet("create-user", flag.ContinueOnError),
	}
	name := cmd.Flags.String("name", "", "Display name")
	email := cmd.Flags.String("email", "", "Email address")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *name == "" || *email == "" {
			return fmt.Errorf("-name and -email are required")
		}
		return withEnv(open, func(ctx context.Context, env *Env) error {
			user, err := env.Users.Create(ctx, *name, *email)
			if err != nil {
				return err
			}
			record(ctx, env, audit.NewEvent(ctx, audit.EventTypeAdminUserCreate, audit.EventStatusSuccess).
				Resource("user", user.ID.String()).
				With("created from the command line"))
			fmt.Fprintln(env.Out, user.ID)
			return nil
		})
	}

	return cmd
}

func newAssignRoleCommand(open Opener) *Command {
	cmd := &Command{
		Name:        "assign-role",
		Description: "Assign an existing role to a user",
		Flags:       flag.NewFlagSet("assign-role", flag.ContinueOnError),
	}
	email := cmd.Flags.String("user", "", "Email of the user")
	role := cmd.Flags.String("role", rbac.SuperAdminRole, "Role name")
	guard := cmd.Flags.String("guard", string(rbac.GuardWeb), "Guard of the role")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *email == "" {
			return fmt.Errorf("-user is required")
		}
		g, err := rbac.ParseGuard(*guard)
		if err != nil {
			return err
		}
		return withEnv(open, func(ctx context.Context, env *Env) error {
			user, err := env.Users.GetByEmail(ctx, *email)
			if err != nil {
				return err
			}
			r, err := env.RBAC.FindRole(ctx, *role, g)
			if err != nil {
				return fmt.Errorf("role %s (guard %s): %w", *role, g, err)
			}
			if err := env.RBAC.AssignRoleToUser(ctx, user.ID, r.ID); err != nil {
				return err
			}
			record(ctx, env, audit.NewEvent(ctx, audit.EventTypeUserRoleAssign, audit.EventStatusSuccess).
				Resource("user", user.ID.String()).
				With(fmt.Sprintf("assigned role %s (guard %s) from the command line", r.Name, g)))
			env.Log.Infof("Assigned %s (guard %s) to %s", r.Name, g, user.Email)
			return nil
		})
	}

	return cmd
}

func newCreateTokenCommand(open Opener) *Command {
	cmd := &Command{
		Name:        "create-token",
		Description: "Issue an API token for a user and print it once",
		Flags:       flag.NewFlagSet("create-token", flag.ContinueOnError),
	}
	email := cmd.Flags.String("user", "", "Email of the user")
	name := cmd.Flags.String("name", "", "Token name")
	ttl := cmd.Flags.Duration("ttl", 0, "Token lifetime; 0 never expires")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *email == "" || *name == "" {
			return fmt.Errorf("-user and -name are required")
		}
		return withEnv(open, func(ctx context.Context, env *Env) error {
			user, err := env.Users.GetByEmail(ctx, *email)
			if err != nil {
				return err
			}
			var expiresAt *time.Time
			if *ttl > 0 {
				t := time.Now().Add(*ttl)
				expiresAt = &t
			}
			token, plaintext, err := env.Tokens.Create(ctx, user.ID, *name, expiresAt)
			if err != nil {
				return err
			}
			record(ctx, env, audit.NewEvent(ctx, audit.EventTypeAdminTokenIssue, audit.EventStatusSuccess).
				Resource("api_token", token.ID.String()).
				With("issued from the command line for "+user.Email))
			fmt.Fprintln(env.Out, plaintext)
			return nil
		})
	}

	return cmd
}

func record(ctx context.Context, env *Env, event *audit.AuditEvent) {
	if err := env.AuditLogger.Log(ctx, event); err != nil {
		env.Log.WithError(err).Warn("Failed to record audit event")
	}
}
