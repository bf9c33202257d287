package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

type CmdExecutor struct {
	log *slog.Logger
}

func NewExecutor(log *slog.Logger) *CmdExecutor {
	return &CmdExecutor{
		log: log,
	}
}

// ExecuteCommandToWriter streams the command's stdout to w. Stderr is
// captured separately and surfaced in the error on failure.
func (c *CmdExecutor) ExecuteCommandToWriter(ctx context.Context, w io.Writer, command string, env []string, arg ...string) error {
	commandWithPath, err := exec.LookPath(command)
	if err != nil {
		return fmt.Errorf("unable to find command:%s in path: %w", command, err)
	}
	c.log.Info("running command", "command", commandWithPath, "args", strings.Join(arg, " "))

	var stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, commandWithPath, arg...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = w
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %s: %w", command, strings.TrimSpace(stderr.String()), err)
	}

	return nil
}
