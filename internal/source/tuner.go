package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rkarpov/carrierwatch/internal/iq"
)

const rtlSDRRuntime = "rtl_sdr"

// ErrTunerExited is returned when the helper process dies while the
// pipeline still expects samples. It is fatal to the acquisition side.
var ErrTunerExited = errors.New("tuner process exited")

// tunerSource streams raw u8 samples from an rtl-sdr dongle through the
// rtl_sdr helper binary writing to stdout. A hardware error surfaces as
// a fatal stream error; device-side buffer overruns reported on stderr
// are counted, not fatal.
type tunerSource struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	stdout io.ReadCloser
	logger *slog.Logger

	rate float64
	raw  []byte

	seq    uint64
	offset uint64
	start  time.Time

	overflows atomic.Uint64
	stderrWG  sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func openTuner(ctx context.Context, cfg Config, logger *slog.Logger) (*tunerSource, error) {
	if cfg.Format != "" && cfg.Format != iq.FormatU8 {
		return nil, fmt.Errorf("rtl-sdr delivers %s samples, not %s", iq.FormatU8, cfg.Format)
	}

	binPath := cfg.BinPath
	if binPath == "" {
		var err error
		if binPath, err = exec.LookPath(rtlSDRRuntime); err != nil {
			return nil, fmt.Errorf("finding %s runtime: %w", rtlSDRRuntime, err)
		}
	}

	args := []string{
		"-f", strconv.FormatFloat(cfg.CenterFreq, 'f', -1, 64),
		"-s", strconv.FormatFloat(cfg.SampleRate, 'f', -1, 64),
		"-d", strconv.Itoa(cfg.DeviceIdx),
	}
	if cfg.Gain != 0 {
		args = append(args, "-g", strconv.FormatFloat(cfg.Gain, 'f', 1, 64))
	}
	args = append(args, "-") // samples to stdout

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, binPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting %s: %w", rtlSDRRuntime, err)
	}

	s := &tunerSource{
		cmd:    cmd,
		cancel: cancel,
		stdout: stdout,
		logger: logger.With(slog.String("source", string(VariantRTLSDR))),
		rate:   cfg.SampleRate,
		raw:    make([]byte, cfg.BlockSize*iq.FormatU8.BytesPerSample()),
		start:  time.Now().UTC(),
	}

	s.stderrWG.Add(1)
	go s.handleStderr(stderr)

	return s, nil
}

// handleStderr logs the helper's chatter and counts reported sample
// loss so lossy operation is observable.
func (s *tunerSource) handleStderr(stderr io.Reader) {
	defer s.stderrWG.Done()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// librtlsdr prints "lost at least N bytes" on USB overruns.
		if strings.Contains(line, "lost at least") {
			s.overflows.Add(1)
			s.logger.Warn("device buffer overrun", slog.String("line", line))
			continue
		}

		s.logger.Info(fmt.Sprintf("%s >> %s", rtlSDRRuntime, line))
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
		s.logger.Warn(fmt.Sprintf("reading stderr: %s", err.Error()))
	}
}

func (s *tunerSource) NextBlock(ctx context.Context) (*iq.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := io.ReadFull(s.stdout, s.raw)
	if err != nil {
		// The helper never ends its stream voluntarily; any EOF means
		// the process is gone. During a requested shutdown that is the
		// expected way the stream terminates.
		if s.cmd.ProcessState != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, fs.ErrClosed) {
			if ctx.Err() != nil {
				return nil, ErrEndOfStream
			}
			return nil, fmt.Errorf("%w: %w", ErrTunerExited, err)
		}
		return nil, fmt.Errorf("reading tuner stream: %w", err)
	}

	samples := make([]complex64, n/iq.FormatU8.BytesPerSample())
	if _, err := iq.Convert(iq.FormatU8, s.raw[:n], samples); err != nil {
		return nil, err
	}

	b := &iq.Block{
		Samples:   samples,
		Seq:       s.seq,
		Offset:    s.offset,
		Timestamp: s.start.Add(time.Duration(float64(s.offset) / s.rate * float64(time.Second))),
	}
	s.seq++
	s.offset += uint64(len(samples))
	return b, nil
}

func (s *tunerSource) SampleRate() float64 {
	return s.rate
}

// Overflows reports device-side buffer overruns seen on stderr.
func (s *tunerSource) Overflows() uint64 {
	return s.overflows.Load()
}

func (s *tunerSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		err := s.cmd.Wait()
		s.stderrWG.Wait()
		if err != nil && !errors.Is(err, context.Canceled) {
			var exitErr *exec.ExitError
			// A kill from our own cancel is a normal shutdown.
			if !errors.As(err, &exitErr) || exitErr.ExitCode() >= 0 {
				s.closeErr = fmt.Errorf("%s: %w", rtlSDRRuntime, err)
			}
		}
	})
	return s.closeErr
}
