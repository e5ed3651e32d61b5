package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
	"github.com/platinummonkey/gatekeeper/pkg/users"
)

// ErrDenied is returned by check when the decision is a denial
var ErrDenied = errors.New("denied")

func newCheckCommand(open Opener) *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Evaluate one authorization decision for a user",
		Flags:       flag.NewFlagSet("check", flag.ContinueOnError),
	}
	email := cmd.Flags.String("user", "", "Email of the user")
	guard := cmd.Flags.String("guard", string(rbac.GuardWeb), "Guard the user authenticates under")
	resource := cmd.Flags.String("resource", "", "Resource type, e.g. item or role")
	action := cmd.Flags.String("action", "", "Action or permission suffix, e.g. update or index")
	target := cmd.Flags.String("target", "", "Target instance id for view, update and delete")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *email == "" || *resource == "" || *action == "" {
			return fmt.Errorf("-user, -resource and -action are required")
		}
		g, err := rbac.ParseGuard(*guard)
		if err != nil {
			return err
		}
		act, ok := rbac.ParseAction(*action)
		if !ok {
			return fmt.Errorf("unknown action: %s", *action)
		}
		targetID := uuid.Nil
		if *target != "" {
			if targetID, err = uuid.Parse(*target); err != nil {
				return fmt.Errorf("invalid target id: %w", err)
			}
		}

		return withEnv(open, func(ctx context.Context, env *Env) error {
			evaluator := rbac.NewEvaluator(env.RBAC)
			res := rbac.Resource(*resource)
			if _, ok := evaluator.Policy(res); !ok {
				return fmt.Errorf("unknown resource: %s", *resource)
			}

			user, err := env.Users.GetByEmail(ctx, *email)
			if err != nil {
				return err
			}
			decision, err := evaluator.Evaluate(ctx, rbac.Request{
				Subject:  users.NewActor(user, g),
				Resource: res,
				Action:   act,
				TargetID: targetID,
			})
			var invErr *rbac.InvariantError
			if err != nil && !errors.As(err, &invErr) {
				return err
			}

			verdict := "allowed"
			if !decision.Allowed {
				verdict = "denied"
			}
			fmt.Fprintf(env.Out, "%s: %s %s %s/%s (%s)\n", verdict, user.Email, g, res, act, decision.Reason)
			if decision.Permission != "" {
				fmt.Fprintf(env.Out, "permission: %s\n", decision.Permission)
			}
			if invErr != nil {
				fmt.Fprintf(env.Out, "precondition: %s\n", invErr.Message)
			}
			if !decision.Allowed {
				return ErrDenied
			}
			return nil
		})
	}

	return cmd
}
