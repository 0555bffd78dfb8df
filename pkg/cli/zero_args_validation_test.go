package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZeroArgCommandsRejectUnexpectedPositionalArgs(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SDLQ_OUTPUT", "")

	bootstrap := newRootCmd()
	bootstrap.SetArgs([]string{"config", "set-profile", "--name", "default"})
	require.NoError(t, bootstrap.Execute())

	tests := []struct {
		name string
		args []string
	}{
		{name: "version", args: []string{"version", "extra"}},
		{name: "commands", args: []string{"commands", "extra"}},
		{name: "config show", args: []string{"config", "show", "extra"}},
		{name: "config set-profile", args: []string{"config", "set-profile", "--name", "p", "extra"}},
		{name: "config path", args: []string{"config", "path", "extra"}},
		{name: "history list", args: []string{"history", "list", "extra"}},
		{name: "history purge", args: []string{"history", "purge", "--older-than", "1h", "extra"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(tc.args)
			err := cmd.Execute()
			require.Error(t, err)
			require.Contains(t, err.Error(), "unknown command \"extra\"")
		})
	}
}
