package runner

import (
	"bufio"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	// creack/pty runs the training process attached to a pseudo-terminal.
	// Python line-buffers stdout when it detects a terminal; through a plain
	// pipe it block-buffers, and log lines would arrive in multi-kilobyte
	// bursts minutes late. The PTY is what makes live streaming work.
	"github.com/creack/pty"

	apperrors "github.com/epoq/desktop/internal/errors"
)

// stopGrace is how long Stop waits after SIGTERM before killing the process.
const stopGrace = 5 * time.Second

// TrainingJob supervises one long-running training script and streams its
// output line by line. A job runs at most once; create a new job to train
// again.
type TrainingJob struct {
	// OnLine is invoked for each complete output line, in order.
	// Typically wired to the control channel's Broadcast. Must be set
	// before Start.
	OnLine func(line string)

	mu      sync.Mutex
	cmd     *exec.Cmd
	running bool

	// done is closed when the process has exited and output is drained.
	done chan struct{}

	// exitErr records the process exit error, if any.
	exitErr error
}

// NewTrainingJob creates a job that reports output lines to onLine.
func NewTrainingJob(onLine func(line string)) *TrainingJob {
	return &TrainingJob{
		OnLine: onLine,
		done:   make(chan struct{}),
	}
}

// Start launches the script under a PTY and begins streaming output.
// Returns a runner.already_running error if the job was already started.
func (j *TrainingJob) Start(interpreter, script string, args ...string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running || j.cmd != nil {
		return apperrors.New(apperrors.CodeRunnerAlreadyRunning, "training job already started")
	}

	cmdArgs := append([]string{script}, args...)
	j.cmd = exec.Command(interpreter, cmdArgs...)

	ptmx, err := pty.Start(j.cmd)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeRunnerSpawnFailed, "failed to start training script", err)
	}
	j.running = true

	log.Printf("runner: training started: %s %s", interpreter, script)

	go j.streamOutput(ptmx)

	return nil
}

// streamOutput reads the PTY line by line, invoking OnLine for each line,
// then reaps the process. Reading the PTY master returns an error (EIO on
// Linux) once the child exits; that is the normal end of stream.
func (j *TrainingJob) streamOutput(ptmx *os.File) {
	scanner := bufio.NewScanner(ptmx)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		// The PTY translates \n to \r\n; strip the carriage return so
		// clients receive clean lines.
		line := strings.TrimRight(scanner.Text(), "\r")
		if j.OnLine != nil {
			j.OnLine(line)
		}
	}

	ptmx.Close()
	err := j.cmd.Wait()

	j.mu.Lock()
	j.running = false
	j.exitErr = err
	j.mu.Unlock()

	if err != nil {
		log.Printf("runner: training exited: %v", err)
	} else {
		log.Printf("runner: training finished")
	}
	close(j.done)
}

// Stop asks the training process to terminate: SIGTERM first, SIGKILL if it
// is still alive after a grace period. Returns a runner.not_running error if
// no process is running.
func (j *TrainingJob) Stop() error {
	j.mu.Lock()
	running := j.running
	cmd := j.cmd
	j.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		return apperrors.New(apperrors.CodeRunnerNotRunning, "no training job running")
	}

	log.Printf("runner: stopping training (pid %d)", cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process may have exited between the check and the signal.
		return nil
	}

	select {
	case <-j.done:
	case <-time.After(stopGrace):
		log.Printf("runner: training ignored SIGTERM, killing")
		cmd.Process.Kill()
	}
	return nil
}

// Wait blocks until the process has exited and all output was delivered.
// Returns the process exit error, if any.
func (j *TrainingJob) Wait() error {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exitErr
}

// Running reports whether the training process is currently alive.
func (j *TrainingJob) Running() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}
