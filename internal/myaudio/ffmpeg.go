package myaudio

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/sodav/monitor/internal/errors"
)

// cmdCloser waits for the ffmpeg process when the stream shuts down so no
// zombie is left behind.
type cmdCloser struct {
	cmd *exec.Cmd
}

func (c *cmdCloser) Close() error {
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return c.cmd.Wait()
}

// startFFmpegDecoder spawns ffmpeg decoding the compressed stream on input
// to mono s16le PCM at the configured sample rate. ffmpeg probes the input
// format itself, which covers MP3, AAC, Ogg and WAV streams alike.
func startFFmpegDecoder(ctx context.Context, cfg StreamConfig, input io.Reader) (io.Reader, io.Closer, error) {
	binary := cfg.FfmpegPath
	if binary == "" {
		binary = "ffmpeg"
	}

	// #nosec G204 -- binary path comes from operator configuration
	cmd := exec.CommandContext(ctx, binary,
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-ac", "1",
		"pipe:1",
	)
	cmd.Stdin = input

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, errors.New(fmt.Errorf("%w: ffmpeg stdout: %w", ErrStreamUnavailable, err)).
			Component("myaudio").
			Category(errors.CategoryStream).
			Build()
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, errors.New(fmt.Errorf("%w: starting ffmpeg: %w", ErrStreamUnavailable, err)).
			Component("myaudio").
			Category(errors.CategoryStream).
			Context("binary", binary).
			Build()
	}

	return stdout, &cmdCloser{cmd: cmd}, nil
}
