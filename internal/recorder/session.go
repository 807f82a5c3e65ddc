package recorder

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"radio-recorder-backend/internal/logging"
)

// Headers are the HTTP headers the capture process must present to the
// streaming service.
type Headers struct {
	AuthToken string
	UserAgent string
	Referer   string
}

// Outcome is the terminal result of one capture session.
type Outcome struct {
	FilePath string
	FileSize int64
	Err      error
}

// CaptureSession is one running external capture process.
type CaptureSession interface {
	// Wait blocks until the process terminates and returns its outcome.
	Wait() Outcome
	// Stop requests graceful termination; a kill follows after a grace
	// period. Idempotent.
	Stop()
}

// Engine builds and launches ffmpeg invocations that copy the audio stream
// into a local file without re-encoding.
type Engine struct {
	ffmpegPath string
	stopGrace  time.Duration
	log        zerolog.Logger
}

// NewEngine creates a capture engine around the given ffmpeg binary.
func NewEngine(ffmpegPath string, stopGrace time.Duration) *Engine {
	if stopGrace <= 0 {
		stopGrace = 5 * time.Second
	}
	return &Engine{
		ffmpegPath: ffmpegPath,
		stopGrace:  stopGrace,
		log:        logging.WithComponent("capture"),
	}
}

// Available checks that the ffmpeg binary can be executed.
func (e *Engine) Available() error {
	out, err := exec.Command(e.ffmpegPath, "-version").Output()
	if err != nil {
		return fmt.Errorf("ffmpeg not found at %q: %w", e.ffmpegPath, err)
	}
	if !strings.Contains(string(out), "ffmpeg version") {
		return fmt.Errorf("%q does not look like ffmpeg", e.ffmpegPath)
	}
	return nil
}

func buildArgs(streamURL string, hdr Headers, duration time.Duration, outputPath string) []string {
	headerLines := fmt.Sprintf("X-Radiko-AuthToken: %s\r\nReferer: %s\r\n", hdr.AuthToken, hdr.Referer)
	return []string{
		"-y",
		"-loglevel", "info",
		"-headers", headerLines,
		"-user_agent", hdr.UserAgent,
		"-i", streamURL,
		"-t", strconv.Itoa(int(duration.Seconds())),
		"-c:a", "copy",
		"-bsf:a", "aac_adtstoasc",
		outputPath,
	}
}

// Start launches a capture of streamURL into outputPath, hard-capped at
// duration. The returned session owns the process exclusively.
func (e *Engine) Start(streamURL string, hdr Headers, duration time.Duration, outputPath string) (CaptureSession, error) {
	cmd := exec.Command(e.ffmpegPath, buildArgs(streamURL, hdr, duration, outputPath)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn capture process: %w", err)
	}

	s := &session{
		cmd:        cmd,
		outputPath: outputPath,
		done:       make(chan struct{}),
		stopGrace:  e.stopGrace,
		log:        e.log.With().Str("output", outputPath).Logger(),
	}

	// Progress markers on stderr are non-authoritative; log and move on.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.log.Debug().Msg(scanner.Text())
		}
	}()

	go func() {
		waitErr := cmd.Wait()
		s.outcome = evaluateOutcome(waitErr, outputPath)
		close(s.done)
	}()

	s.log.Info().Str("url", streamURL).Dur("duration", duration).Msg("capture started")
	return s, nil
}

type session struct {
	cmd        *exec.Cmd
	outputPath string
	done       chan struct{}
	outcome    Outcome
	stopOnce   sync.Once
	stopGrace  time.Duration
	log        zerolog.Logger
}

func (s *session) Wait() Outcome {
	<-s.done
	return s.outcome
}

func (s *session) Stop() {
	s.stopOnce.Do(func() {
		select {
		case <-s.done:
			return
		default:
		}
		s.log.Info().Msg("stopping capture process")
		if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			return
		}
		go func() {
			select {
			case <-s.done:
			case <-time.After(s.stopGrace):
				s.log.Warn().Msg("capture process did not exit in time, killing")
				s.cmd.Process.Kill()
			}
		}()
	})
}

// evaluateOutcome classifies a finished capture. A clean exit only counts
// as success when the output file exists and is non-empty.
func evaluateOutcome(waitErr error, outputPath string) Outcome {
	if waitErr != nil {
		return Outcome{Err: fmt.Errorf("capture process failed: %w", waitErr)}
	}
	info, err := os.Stat(outputPath)
	if err != nil {
		return Outcome{Err: fmt.Errorf("output file missing: %w", err)}
	}
	if info.Size() == 0 {
		return Outcome{Err: fmt.Errorf("empty output file %s", outputPath)}
	}
	return Outcome{FilePath: outputPath, FileSize: info.Size()}
}
