package extractor

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// CommandRunner runs an external command to completion. Implementations
// must stop the command when ctx is done.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// ffmpeg children can hold the pipes open after yt-dlp is killed
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
