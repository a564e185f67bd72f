package runner

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/epoq/desktop/internal/errors"
)

// lineCollector gathers streamed lines for assertions.
type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *lineCollector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func TestTrainingJobStreamsLinesInOrder(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "train.sh", "echo epoch 1 done\necho epoch 2 done\necho epoch 3 done\n")

	collector := &lineCollector{}
	job := NewTrainingJob(collector.add)

	if err := job.Start("sh", filepath.Join(dir, script)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := job.Wait(); err != nil {
		t.Fatalf("script should exit cleanly: %v", err)
	}

	want := []string{"epoch 1 done", "epoch 2 done", "epoch 3 done"}
	got := collector.snapshot()
	if len(got) != len(want) {
		t.Fatalf("got %d lines %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTrainingJobDoubleStart(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "sleepy.sh", "sleep 10\n")

	job := NewTrainingJob(func(string) {})
	if err := job.Start("sh", filepath.Join(dir, script)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		job.Stop()
		job.Wait()
	}()

	err := job.Start("sh", filepath.Join(dir, script))
	if err == nil {
		t.Fatal("second Start should fail")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeRunnerAlreadyRunning {
		t.Errorf("error code = %q, want %q", code, apperrors.CodeRunnerAlreadyRunning)
	}
}

func TestTrainingJobStop(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "forever.sh", "sleep 60\n")

	job := NewTrainingJob(func(string) {})
	if err := job.Start("sh", filepath.Join(dir, script)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !job.Running() {
		t.Fatal("job should be running after Start")
	}

	done := make(chan struct{})
	go func() {
		job.Stop()
		job.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Stop did not terminate the job")
	}

	if job.Running() {
		t.Error("job should not be running after Stop")
	}
}

func TestTrainingJobStopWithoutStart(t *testing.T) {
	job := NewTrainingJob(func(string) {})
	err := job.Stop()
	if err == nil {
		t.Fatal("Stop without Start should fail")
	}
	if code := apperrors.GetCode(err); code != apperrors.CodeRunnerNotRunning {
		t.Errorf("error code = %q, want %q", code, apperrors.CodeRunnerNotRunning)
	}
}
