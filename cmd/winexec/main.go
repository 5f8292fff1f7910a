// Command winexec runs PowerShell scripts and copies files on Windows hosts
// over WinRM.
//
// The password can be provided via:
//   - a YAML profile (--profile)
//   - the WINEXEC_PASSWORD environment variable (recommended)
//   - a prompt on stdin (if neither is set)
//
// Examples:
//
//	export WINEXEC_PASSWORD='secret'
//	winexec run --host web01 --user deploy --script deploy.ps1
//	winexec run --host web01 --host web02 --mode unencoded -c 'Get-Service W3SVC'
//	winexec copy --host web01 --src ./app.zip --dest 'C:\deploy'
//	winexec vars --host web01 --script build.ps1 --var BUILD_ID --secret-var API_TOKEN
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smnsjas/go-winexec/client"
)

var (
	version = "dev"
	commit  = "none"
)

// globalOptions are the connection flags shared by every subcommand.
type globalOptions struct {
	profile  string
	hosts    []string
	port     int
	useTLS   bool
	insecure bool

	user   string
	domain string
	auth   string
	helper string

	workDir   string
	timeout   time.Duration
	noProfile bool
	parallel  int

	logFile  string
	logLevel string
}

var opts globalOptions

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "winexec",
	Short: "Run PowerShell on Windows hosts over WinRM",
	Long: `winexec runs PowerShell scripts, copies files and collects environment
variables on one or more Windows hosts through WinRM.

Connection settings come from an optional YAML profile; flags override it.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVarP(&opts.profile, "profile", "p", "", "YAML session profile")
	f.StringArrayVarP(&opts.hosts, "host", "H", nil, "Target host (repeatable)")
	f.IntVar(&opts.port, "port", 0, "WinRM port (default: 5985 for HTTP, 5986 for HTTPS)")
	f.BoolVar(&opts.useTLS, "tls", false, "Use HTTPS")
	f.BoolVar(&opts.insecure, "insecure", false, "Skip TLS certificate verification")
	f.StringVarP(&opts.user, "user", "u", "", "Username")
	f.StringVar(&opts.domain, "domain", "", "User domain (also the Kerberos realm)")
	f.StringVar(&opts.auth, "auth", "basic", "Authentication: basic, ntlm or kerberos")
	f.StringVar(&opts.helper, "kerberos-helper", "", "Run commands through this Kerberos helper program")
	f.StringVarP(&opts.workDir, "workdir", "w", "", `Remote working directory (e.g. C:\deploy)`)
	f.DurationVar(&opts.timeout, "timeout", client.DefaultTimeout, "Timeout for each operation")
	f.BoolVar(&opts.noProfile, "no-profile", false, "Start powershell.exe with -NoProfile")
	f.IntVar(&opts.parallel, "parallel", 8, "Maximum hosts handled at once")
	f.StringVar(&opts.logFile, "log-file", "", "Write logs to this rotating file instead of stderr")
	f.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(varsCmd)
}

// exitCode returns the remote exit code of a failed script, or 1.
func exitCode(err error) int {
	var e *client.Error
	if errors.As(err, &e) && e.Kind == client.KindScriptExecution && e.ExitCode > 0 && e.ExitCode < 256 {
		return e.ExitCode
	}
	return 1
}
