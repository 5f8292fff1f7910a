package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/smnsjas/go-winexec/client"
	"github.com/smnsjas/go-winexec/powershell"
)

var copyOpts struct {
	src       string
	dest      string
	name      string
	chunkSize int
}

// copyCmd copies a local file to every host
var copyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Copy a local file to the hosts",
	Long: `Copy a local file into a directory on every host, replacing any
existing file. The directory is created if missing.

Examples:
  winexec copy -H web01 --src ./app.zip --dest 'C:\deploy'
  winexec copy -H web01 -H web02 --src ./web.config --dest '%TEMP%\stage' --name web.config`,
	Args: cobra.NoArgs,
	RunE: copyFile,
}

func init() {
	copyCmd.Flags().StringVar(&copyOpts.src, "src", "", "Local file to copy")
	copyCmd.Flags().StringVar(&copyOpts.dest, "dest", "", `Remote directory (e.g. C:\deploy or %TEMP%\stage)`)
	copyCmd.Flags().StringVar(&copyOpts.name, "name", "", "Remote file name (default: base name of --src)")
	copyCmd.Flags().IntVar(&copyOpts.chunkSize, "chunk-size", 0, "Bytes per transfer command (default from profile)")
	_ = copyCmd.MarkFlagRequired("src")
	_ = copyCmd.MarkFlagRequired("dest")
}

func copyFile(cmd *cobra.Command, _ []string) error {
	content, err := os.ReadFile(copyOpts.src)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	name := copyOpts.name
	if name == "" {
		name = filepath.Base(copyOpts.src)
	}
	if name == "." || name == string(filepath.Separator) {
		return errors.New("cannot derive a remote file name; use --name")
	}

	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.closeLog()

	// Progress only makes sense for one host on a terminal.
	showProgress := len(env.hosts) == 1 && term.IsTerminal(int(os.Stderr.Fd()))

	return env.forEachHost(cmd.Context(), func(ctx context.Context, host string, s *client.Session) error {
		var copyOptions []client.CopyOption
		if copyOpts.chunkSize > 0 {
			copyOptions = append(copyOptions, client.WithChunkSize(copyOpts.chunkSize))
		}
		if showProgress {
			copyOptions = append(copyOptions, client.WithProgress(func(f float64) {
				fmt.Fprintf(os.Stderr, "\r%s: %5.1f%% of %s", name, f*100, formatBytes(int64(len(content))))
			}))
		}

		res, err := s.CopyFile(ctx, copyOpts.dest, name, content, copyOptions...)
		if showProgress {
			fmt.Fprintln(os.Stderr)
		}
		if err != nil {
			env.report(host, res)
			return err
		}
		env.out.text(os.Stdout, host, fmt.Sprintf("copied %s to %s (%d commands, %s)\n",
			formatBytes(int64(len(content))), powershell.JoinPath(copyOpts.dest, name), res.CommandCount, res.Elapsed.Round(time.Millisecond)))
		return nil
	})
}

// formatBytes converts bytes to human-readable format (KB, MB, GB).
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
