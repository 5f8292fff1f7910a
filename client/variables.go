package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/smnsjas/go-winexec/powershell"
)

// OutputVariableCollector captures environment variables a script leaves
// behind. The script is extended to write them to a side file, which is read
// back after a successful run and always deleted.
type OutputVariableCollector struct {
	transport Transport
	encoded   bool
	logger    *slog.Logger
	metrics   *Metrics

	// commands counts read-back and cleanup commands.
	commands int
}

// Prepare returns script extended with the lines that record names in the
// side file at path.
func (c *OutputVariableCollector) Prepare(script, path string, names []string) string {
	return powershell.CaptureVariables(script, path, names)
}

// Collect reads the side file at path and returns the requested variables.
// Variables that are unset or empty are left out; Windows does not tell the
// two apart. Values of names in secret are masked in the log. A failed read
// yields an empty map and a warning.
func (c *OutputVariableCollector) Collect(ctx context.Context, path string, names []string, secret map[string]bool, inv powershell.Invocation) map[string]string {
	result := make(map[string]string)

	data, err := c.readBack(ctx, path, inv)
	if err != nil {
		c.logger.Warn("failed to read output variables", "path", path, "error", err)
		return result
	}

	parsed := powershell.ParseVariables(data)
	for _, name := range names {
		value, ok := parsed[name]
		if !ok || value == "" {
			c.logger.Debug("output variable not set", "name", name)
			continue
		}
		result[name] = value
		c.logger.Info("output variable", "name", name, "value", powershell.MaskValue(value, secret[name]))
	}
	return result
}

func (c *OutputVariableCollector) readBack(ctx context.Context, path string, inv powershell.Invocation) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	c.commands++
	code, err := c.transport.Execute(ctx, powershell.ReadBack(path, c.encoded, inv), &stdout, &stderr)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("read-back exited with code %d: %s", code, bytes.TrimSpace(stderr.Bytes()))
	}
	return powershell.DecodeReadBack(stdout.Bytes(), c.encoded)
}

// Remove deletes the side file. Failures are logged only.
func (c *OutputVariableCollector) Remove(ctx context.Context, path string, inv powershell.Invocation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	c.commands++
	code, err := c.transport.Execute(ctx, powershell.Cleanup(path, inv), io.Discard, io.Discard)
	if err == nil && code != 0 {
		err = fmt.Errorf("exited with code %d", code)
	}
	if err != nil {
		c.metrics.cleanupFailed()
		c.logger.Warn("failed to remove output variables file", "path", path, "error", err)
	}
}
