package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
)

// CLIEncoder drives the reference flac binary as an external encoding
// process: raw PCM on stdin, encoded stream on stdout.
type CLIEncoder struct {
	// Path to the flac binary; empty means "flac" from PATH.
	Path string

	Log *slog.Logger
}

type encodedStream struct {
	io.ReadCloser
	cmd *exec.Cmd
	log *slog.Logger
}

// Close releases the stdout pipe and reaps the process.
func (s *encodedStream) Close() error {
	err := s.ReadCloser.Close()
	if waitErr := s.cmd.Wait(); waitErr != nil {
		s.log.Debug("flac process exited", "error", waitErr)
	}
	return err
}

// Start launches the encoder. The run ends when pcm reaches EOF; the
// returned stream then drains the remaining encoded bytes.
func (e *CLIEncoder) Start(ctx context.Context, pcm io.Reader, format PCMFormat, opts EncoderOptions) (io.ReadCloser, error) {
	log := e.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "flac-cli")

	path := e.Path
	if path == "" {
		path = "flac"
	}

	args := []string{
		"--silent",
		"--stdout",
		"--force-raw-format",
		"--endian=little",
		"--sign=signed",
		fmt.Sprintf("--channels=%d", format.Channels),
		fmt.Sprintf("--bps=%d", format.BitsPerSample),
		fmt.Sprintf("--sample-rate=%d", format.SampleRate),
		fmt.Sprintf("-%d", opts.CompressionLevel),
	}
	if opts.Verify {
		args = append(args, "--verify")
	}
	if opts.Ogg {
		args = append(args, "--ogg")
	}
	if opts.TotalSamples > 0 {
		args = append(args, fmt.Sprintf("--input-size=%d", opts.TotalSamples*uint64(format.BytesPerFrame())))
	}
	for _, k := range sortedKeys(opts.Tags) {
		args = append(args, fmt.Sprintf("--tag=%s=%s", k, opts.Tags[k]))
	}
	args = append(args, "-")

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = pcm
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("sink: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sink: starting %s: %w", path, err)
	}
	log.Debug("flac process started", "pid", cmd.Process.Pid, "args", args)

	return &encodedStream{ReadCloser: stdout, cmd: cmd, log: log}, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
