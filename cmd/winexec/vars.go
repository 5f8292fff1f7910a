package main

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/smnsjas/go-winexec/client"
	"github.com/smnsjas/go-winexec/powershell"
)

var varsOpts struct {
	script      string
	command     string
	names       []string
	secretNames []string
	showSecrets bool
}

// varsCmd runs a script and prints the environment variables it sets
var varsCmd = &cobra.Command{
	Use:   "vars",
	Short: "Run a script and print environment variables it leaves behind",
	Long: `Run a script and print the final values of the named environment
variables as NAME=value lines. Secret variables are masked in the log and,
unless --show-secrets is given, in the output.

Examples:
  winexec vars -H build01 --script build.ps1 --var BUILD_ID --var ARTIFACT
  winexec vars -H build01 -c '$env:TOKEN = (New-Token)' --secret-var TOKEN --show-secrets`,
	Args: cobra.NoArgs,
	RunE: collectVariables,
}

func init() {
	varsCmd.Flags().StringVarP(&varsOpts.script, "script", "s", "", "Script file to run ('-' reads stdin)")
	varsCmd.Flags().StringVarP(&varsOpts.command, "command", "c", "", "Script text to run")
	varsCmd.Flags().StringArrayVar(&varsOpts.names, "var", nil, "Variable to collect (repeatable)")
	varsCmd.Flags().StringArrayVar(&varsOpts.secretNames, "secret-var", nil, "Secret variable to collect (repeatable)")
	varsCmd.Flags().BoolVar(&varsOpts.showSecrets, "show-secrets", false, "Print secret values instead of the mask")
}

func collectVariables(cmd *cobra.Command, _ []string) error {
	script, err := readScript(varsOpts.script, varsOpts.command, os.Stdin)
	if err != nil {
		return err
	}
	names := variableNames(varsOpts.names, varsOpts.secretNames)
	if len(names) == 0 {
		return fmt.Errorf("at least one --var or --secret-var is required")
	}

	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.closeLog()

	return env.forEachHost(cmd.Context(), func(ctx context.Context, host string, s *client.Session) error {
		res, vars, err := s.RunScriptCollectingVariables(ctx, script, names, varsOpts.secretNames)
		env.report(host, res)
		if err != nil {
			return err
		}
		for _, name := range names {
			secret := slices.Contains(varsOpts.secretNames, name) && !varsOpts.showSecrets
			env.out.text(os.Stdout, host, name+"="+powershell.MaskValue(vars[name], secret)+"\n")
		}
		return nil
	})
}

// variableNames returns names followed by secret names not already listed.
func variableNames(names, secretNames []string) []string {
	out := slices.Clone(names)
	for _, n := range secretNames {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}
