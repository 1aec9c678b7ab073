// Package execrun implements the Async Build Executor: it
// spawns the packager subprocess with the Patcher-computed environment,
// streams merged stdout/stderr line-by-line through a classifier and
// callback, estimates completion percentage, and classifies failures.
//
// Grounded in build/chroot.go's runDirect (exec.CommandContext, merged
// stdout/stderr capture, stderr-tail error wrapping), generalized from a
// one-shot command run to a streaming line reader with cancellation and
// progress estimation.
package execrun

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"

	goerrors "github.com/MadGoatHaz/goatd-kernel/src/common/errors"
	"github.com/MadGoatHaz/goatd-kernel/src/common/logs"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/logcollector"
	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/models"
)

var log = logs.NewDefault()

// SetLogger overrides the package logger.
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// DryRunHookEnv is the environment variable that, when set to "1", makes
// RunKernelBuild perform a validation-only pass instead of launching the
// packager.
const DryRunHookEnv = "GOATD_DRY_RUN_HOOK"

// statusMarkers classifies a line as a StatusUpdate event rather than a
// plain Log event.
var statusMarkers = []string{
	"Compiling:", "Linking:", "Building:", "Linking vmlinux", "Compiling",
}

// progressMarkers are the object-compile line prefixes the estimator
// counts to derive a monotonic, heuristic completion percentage.
var progressMarkers = []string{"CC", "LD", "AR"}

// ProgressCallback receives each output line plus, when the line moved the
// estimator, an updated progress fraction in [0, 100].
type ProgressCallback func(line string, progress *int)

// Cancelled is a watch-style cancellation signal: a channel that is closed,
// or receives a value, when the build should stop.
type Cancelled <-chan struct{}

// RunKernelBuild spawns the packager (makepkg -f --noconfirm, or the
// equivalent the host provides) rooted at kernelPath, with env applied over
// the host environment, and streams output through callback and collector.
// It honours cancel and classifies failures by exit code and signal.
func RunKernelBuild(
	ctx context.Context,
	kernelPath string,
	env map[string]string,
	callback ProgressCallback,
	cancel Cancelled,
	collector *logcollector.Collector,
) error {
	if os.Getenv(DryRunHookEnv) == "1" {
		return dryRun(kernelPath, env, callback, collector)
	}

	pkgbuild := kernelPath + "/PKGBUILD"
	if _, err := os.Stat(pkgbuild); err != nil {
		return goerrors.ErrPKGBUILDMissing.WithMessagef("%s", pkgbuild)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-cancel:
			stop()
		case <-runCtx.Done():
		}
	}()

	cmd := exec.CommandContext(runCtx, "makepkg", "-f", "--noconfirm")
	cmd.Dir = kernelPath
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return goerrors.ErrBuildIO.WithCause(err)
	}
	cmd.Stderr = cmd.Stdout // merged stream

	if err := cmd.Start(); err != nil {
		return goerrors.ErrBuildIO.WithCause(err)
	}

	var compiled int64
	var tail tailBuffer
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-cancel:
			_ = cmd.Process.Kill()
			cmd.Wait()
			return goerrors.ErrBuildCancelled
		default:
		}

		line := scanner.Text()
		tail.add(line)

		progress := estimateProgress(line, &compiled)
		isParsed := isStatusLine(line)

		kind := models.EventLog
		if isParsed {
			kind = models.EventStatusUpdate
		}
		if collector != nil {
			collector.WriteLine(kind, line, isParsed)
		}
		if callback != nil {
			callback(line, progress)
		}
	}
	if err := scanner.Err(); err != nil {
		return goerrors.ErrBuildIO.WithCause(err)
	}

	if err := cmd.Wait(); err != nil {
		select {
		case <-cancel:
			return goerrors.ErrBuildCancelled
		default:
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if ok := asExitError(err, &exitErr); ok {
			exitCode = exitErr.ExitCode()
		}
		return goerrors.ErrBuildNonZeroExit.WithMessagef("exit %d: %s", exitCode, tail.String())
	}
	return nil
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// dryRun performs a validation-only pass: confirm PKGBUILD exists, emit a
// handful of synthetic lines through callback/collector, and return success
// without spawning the packager.
func dryRun(kernelPath string, env map[string]string, callback ProgressCallback, collector *logcollector.Collector) error {
	pkgbuild := kernelPath + "/PKGBUILD"
	if _, err := os.Stat(pkgbuild); err != nil {
		return goerrors.ErrPKGBUILDMissing.WithMessagef("%s", pkgbuild)
	}

	lines := []string{
		fmt.Sprintf("dry-run: environment has %d variables", len(env)),
		"Compiling: dry-run synthetic object",
		"Linking vmlinux",
	}
	progress := 0
	for i, line := range lines {
		progress = (i + 1) * 100 / len(lines)
		p := progress
		if collector != nil {
			collector.WriteLine(models.EventLog, line, isStatusLine(line))
		}
		if callback != nil {
			callback(line, &p)
		}
	}
	return nil
}

// estimateProgress bumps compiled on a CC/LD/AR line and returns a
// heuristic, monotonic-within-the-call estimate, or nil when the line
// doesn't move the counter. The mapping saturates at 95 so the orchestrator
// retains headroom to mark 100 on validate.
func estimateProgress(line string, compiled *int64) *int {
	trimmed := strings.TrimSpace(line)
	matched := false
	for _, marker := range progressMarkers {
		if strings.HasPrefix(trimmed, marker+" ") || strings.HasPrefix(trimmed, marker+"\t") {
			matched = true
			break
		}
	}
	if !matched {
		return nil
	}
	n := atomic.AddInt64(compiled, 1)
	// Heuristic: assume a few thousand translation units is "done"; this is
	// intentionally approximate.
	pct := int(n / 40)
	if pct > 95 {
		pct = 95
	}
	return &pct
}

func isStatusLine(line string) bool {
	for _, marker := range statusMarkers {
		if strings.HasPrefix(line, marker) {
			return true
		}
	}
	return false
}

// tailBuffer keeps the last few lines of output for error reporting,
// mirroring build/chroot.go's stderr-tail capture via io.MultiWriter.
type tailBuffer struct {
	lines []string
}

const tailBufferSize = 40

func (t *tailBuffer) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > tailBufferSize {
		t.lines = t.lines[len(t.lines)-tailBufferSize:]
	}
}

func (t *tailBuffer) String() string {
	return strings.Join(t.lines, "\n")
}
