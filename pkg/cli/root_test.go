package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/platinummonkey/gatekeeper/pkg/api"
	"github.com/platinummonkey/gatekeeper/pkg/provisioning"
	"github.com/platinummonkey/gatekeeper/pkg/storage/storagetest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	env  *Env
	out  *bytes.Buffer
	logs *bytes.Buffer
	root *Command
}

func setupCLI(t *testing.T) *testEnv {
	t.Helper()
	db := storagetest.SQLite(t)

	logs := &bytes.Buffer{}
	log := logrus.New()
	log.SetOutput(logs)

	out := &bytes.Buffer{}
	env := NewEnv(db, provisioning.BuiltinSteps(), log)
	env.Out = out

	open := func(context.Context) (*Env, error) { return env, nil }
	root := NewRootCommand(open)
	root.out = out
	return &testEnv{env: env, out: out, logs: logs, root: root}
}

// run executes one command line against a fresh command tree so flags start unset
func (e *testEnv) run(t *testing.T, args ...string) error {
	t.Helper()
	e.out.Reset()
	root := NewRootCommand(func(context.Context) (*Env, error) { return e.env, nil })
	root.out = e.out
	return root.ExecuteArgs(args)
}

func (e *testEnv) migrate(t *testing.T) {
	t.Helper()
	require.NoError(t, e.run(t, "migrate"))
}

func TestNewRootCommand(t *testing.T) {
	root := NewRootCommand(nil)

	assert.Equal(t, "gatekeeper-provision", root.Name)
	assert.NotNil(t, root.Flags)

	expectedCommands := []string{
		"migrate",
		"up",
		"down",
		"status",
		"check",
		"create-user",
		"assign-role",
		"create-token",
		"validate",
	}
	for _, name := range expectedCommands {
		assert.Contains(t, root.Subcommands, name, "Expected subcommand %s to be registered", name)
	}
	assert.Equal(t, len(expectedCommands), len(root.Subcommands))
}

func TestCommandUsage(t *testing.T) {
	e := setupCLI(t)

	require.NoError(t, e.root.ExecuteArgs(nil))
	output := e.out.String()
	assert.Contains(t, output, "Usage: gatekeeper-provision <command> [args]")
	assert.Contains(t, output, "migrate")
	assert.Contains(t, output, "create-token")

	e.out.Reset()
	require.NoError(t, e.root.ExecuteArgs([]string{"--help"}))
	assert.Contains(t, e.out.String(), "Commands:")
}

func TestUnknownCommand(t *testing.T) {
	e := setupCLI(t)
	err := e.root.ExecuteArgs([]string{"explode"})
	assert.EqualError(t, err, "unknown command: explode")
}

func TestMigrateIsIdempotent(t *testing.T) {
	e := setupCLI(t)

	e.migrate(t)
	assert.Contains(t, e.logs.String(), "Applied migration")

	e.logs.Reset()
	e.migrate(t)
	assert.Contains(t, e.logs.String(), "Schema is up to date")

	// every component the server needs is present
	for _, c := range api.Components() {
		assert.NotEmpty(t, c.Migrations, c.Name)
	}
}
