package download

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const waitDelay = time.Second

var DefaultArgs = []string{"--add-header", "accept:*/*", "--no-playlist"}

// Downloader runs an external fetch tool such as yt-dlp inside a scratch
// directory and expects exactly one file to appear there.
type Downloader struct {
	command string
	args    []string
	logger  *zap.Logger
}

func New(command string, args []string, logger *zap.Logger) *Downloader {
	if command == "" {
		command = "yt-dlp"
	}
	if args == nil {
		args = DefaultArgs
	}
	return &Downloader{command: command, args: args, logger: logger.Named("download")}
}

// Fetch downloads url into dir, which must be empty, and returns the path of
// the single file created. Cancelling ctx kills the tool.
func (d *Downloader) Fetch(ctx context.Context, url, dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read download dir: %w", err)
	}
	if len(entries) != 0 {
		return "", fmt.Errorf("download dir %s is not empty", dir)
	}

	// "--" keeps a url starting with "-" from being read as an option
	args := append(append([]string{}, d.args...), "--", url)
	cmd := exec.CommandContext(ctx, d.command, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	d.logger.Debug("running downloader", zap.String("command", d.command), zap.String("url", url))
	if err := cmd.Run(); err != nil {
		d.logger.Debug("downloader output", zap.String("stderr", stderr.String()))
		return "", fmt.Errorf("%s command failed: %w", d.command, err)
	}

	entries, err = os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read download dir: %w", err)
	}
	if len(entries) != 1 {
		return "", fmt.Errorf("%s created %d files instead of one", d.command, len(entries))
	}
	return filepath.Join(dir, entries[0].Name()), nil
}
