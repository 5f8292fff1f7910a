package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smnsjas/go-winexec/client"
	"github.com/smnsjas/go-winexec/powershell"
)

var runOpts struct {
	script  string
	command string
	mode    string
	params  []string
}

// runCmd runs a script on every host
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a PowerShell script",
	Long: `Run a PowerShell script on every host and print its output.

Modes:
  encoded    one base64-encoded command (default)
  unencoded  the script is written line by line to a scratch file
  split      the encoded script is staged in chunks, then decoded

Examples:
  winexec run -H web01 -u deploy --script deploy.ps1
  winexec run -H web01 -H web02 -c 'Restart-Service W3SVC' --mode unencoded
  winexec run -H web01 --script deploy.ps1 --ps-param Version=5.1`,
	Args: cobra.NoArgs,
	RunE: runScript,
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.script, "script", "s", "", "Script file to run ('-' reads stdin)")
	runCmd.Flags().StringVarP(&runOpts.command, "command", "c", "", "Script text to run")
	runCmd.Flags().StringVarP(&runOpts.mode, "mode", "m", "", "Framing mode: encoded, unencoded or split")
	runCmd.Flags().StringArrayVar(&runOpts.params, "ps-param", nil, "Extra powershell.exe parameter, Name or Name=Value (repeatable)")
}

func runScript(cmd *cobra.Command, _ []string) error {
	script, err := readScript(runOpts.script, runOpts.command, os.Stdin)
	if err != nil {
		return err
	}
	params, err := parseParams(runOpts.params)
	if err != nil {
		return err
	}

	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.closeLog()

	mode := powershell.ModeEncoded
	if env.base.DisableEncoding {
		mode = powershell.ModeUnencoded
	}
	if runOpts.mode != "" {
		if mode, err = powershell.ParseMode(runOpts.mode); err != nil {
			return err
		}
	}

	return env.forEachHost(cmd.Context(), func(ctx context.Context, host string, s *client.Session) error {
		res, err := s.RunScript(ctx, script, params, mode)
		env.report(host, res)
		return err
	})
}

// readScript returns the script from exactly one of path and text. A path
// of "-" reads stdin.
func readScript(path, text string, stdin io.Reader) (string, error) {
	switch {
	case path != "" && text != "":
		return "", errors.New("use either --script or --command, not both")
	case text != "":
		return text, nil
	case path == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read script from stdin: %w", err)
		}
		return string(data), nil
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read script: %w", err)
		}
		return string(data), nil
	default:
		return "", errors.New("a script is required (use --script or --command)")
	}
}

// parseParams parses Name or Name=Value parameter flags.
func parseParams(values []string) ([]powershell.Parameter, error) {
	params := make([]powershell.Parameter, 0, len(values))
	for _, v := range values {
		name, value, _ := strings.Cut(v, "=")
		name = strings.TrimSpace(name)
		if name == "" || name == "-" {
			return nil, fmt.Errorf("invalid --ps-param %q", v)
		}
		params = append(params, powershell.Parameter{Name: name, Value: value})
	}
	return params, nil
}
