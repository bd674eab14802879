package alert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// CommandPlayer runs an external audio player, e.g. "paplay /usr/share/sounds/alert.wav".
type CommandPlayer struct {
	Command string
	Args    []string
}

// NewCommandPlayer splits cmdline on whitespace and appends the clip path.
func NewCommandPlayer(cmdline, clip string) (*CommandPlayer, error) {
	fields := strings.Fields(cmdline)
	if len(fields) == 0 {
		return nil, fmt.Errorf("alert player command is empty")
	}
	args := fields[1:]
	if clip != "" {
		args = append(args, clip)
	}
	return &CommandPlayer{Command: fields[0], Args: args}, nil
}

func (p *CommandPlayer) Play(ctx context.Context) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run %s: %w: %s", p.Command, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// BellPlayer rings the terminal bell.
type BellPlayer struct {
	W io.Writer
}

func (p *BellPlayer) Play(context.Context) error {
	_, err := p.W.Write([]byte("\a"))
	return err
}
