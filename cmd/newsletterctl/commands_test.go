package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func testApp(t *testing.T) (*cli.App, []string) {
	t.Helper()
	a := newApp()
	a.ExitErrHandler = func(*cli.Context, error) {}
	return a, []string{"newsletterctl", "--config", filepath.Join(t.TempDir(), "absent.yaml")}
}

func TestCommandsRegistered(t *testing.T) {
	a := newApp()
	for _, name := range []string{"install", "uninstall", "seed", "create", "dispatch", "test-connection", "test-email"} {
		assert.NotNil(t, a.Command(name), name)
	}
}

func TestDispatchRequiresNewsletter(t *testing.T) {
	a, args := testApp(t)
	err := a.Run(append(args, "dispatch"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newsletter")
}

func TestDispatchQueueNeedsBroker(t *testing.T) {
	t.Setenv("RABBITMQ_URL", "")
	a, args := testApp(t)
	err := a.Run(append(args, "dispatch", "--newsletter", "3", "--queue"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "amqp.url")
}

func TestUninstallNeedsConfirmation(t *testing.T) {
	a, args := testApp(t)
	err := a.Run(append(args, "uninstall"))
	require.Error(t, err)

	var exit cli.ExitCoder
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, 2, exit.ExitCode())
}
