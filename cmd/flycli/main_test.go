package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/flycli/internal/config"
)

func TestWrappedCommand(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		want    []string
		wantErr bool
	}{
		{name: "none", argv: nil},
		{name: "after dash", argv: []string{"-p", "4000", "--", "npm", "run", "dev"}, want: []string{"npm", "run", "dev"}},
		{name: "flags of wrapped command stay", argv: []string{"--", "vite", "--port", "5173"}, want: []string{"vite", "--port", "5173"}},
		{name: "positional without dash", argv: []string{"npm"}, wantErr: true},
		{name: "positional before dash", argv: []string{"npm", "--", "run"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			var gotErr error
			cmd := &cobra.Command{
				Use: "x",
				RunE: func(cmd *cobra.Command, args []string) error {
					got, gotErr = wrappedCommand(cmd, args)
					return nil
				},
			}
			cmd.Flags().IntP("port", "p", 0, "")
			cmd.SetArgs(tt.argv)
			require.NoError(t, cmd.Execute())

			if tt.wantErr {
				assert.ErrorIs(t, gotErr, ErrArgsWithoutDash)
				return
			}
			require.NoError(t, gotErr)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	printBanner(&buf, 3100, 3000, false)
	out := buf.String()
	assert.Contains(t, out, "http://localhost:3100")
	assert.Contains(t, out, "http://localhost:3000")
	assert.Contains(t, out, "TIP: Make sure your development server is running on port 3000.")

	buf.Reset()
	printBanner(&buf, 3100, 5173, true)
	assert.NotContains(t, buf.String(), "TIP")
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)

	root.SetArgs([]string{"init", dir})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "wrote")

	data, err := os.ReadFile(filepath.Join(dir, config.FileName))
	require.NoError(t, err)
	_, err = config.ParseFile(data)
	require.NoError(t, err)

	root = newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs([]string{"init", dir})
	require.NoError(t, root.Execute())
	assert.Contains(t, errOut.String(), "already exists")
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, appName+" v"+appVersion, strings.TrimSpace(out.String()))
}

func TestRootFlags(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"port", "app-port", "workspace", "silent", "verbose", "model", "max-steps", "panel-dir", "inject-launcher", "watch"} {
		assert.NotNil(t, root.Flags().Lookup(name), name)
	}
	for short, name := range map[string]string{"p": "port", "a": "app-port", "w": "workspace", "s": "silent", "v": "verbose"} {
		f := root.Flags().ShorthandLookup(short)
		require.NotNil(t, f, short)
		assert.Equal(t, name, f.Name)
	}
}

func TestRunServerRejectsSamePort(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"-w", t.TempDir(), "-p", "4000", "-a", "4000"})
	err := root.Execute()
	require.ErrorIs(t, err, config.ErrSamePort)
}

func TestRunServerRejectsMissingWorkspace(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"-w", filepath.Join(t.TempDir(), "nope")})
	err := root.Execute()
	require.ErrorIs(t, err, config.ErrWorkspace)
}
