package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Runner 受限的外部进程执行器
type Runner struct {
	timeout     time.Duration
	allowedBins []string
	tempDir     string
	logger      *zap.Logger
}

// Result 执行结果
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	Killed   bool // 是否被超时杀死
}

// NewRunner 创建进程执行器
func NewRunner(timeout time.Duration, allowedBins []string, tempDir string, logger *zap.Logger) *Runner {
	return &Runner{
		timeout:     timeout,
		allowedBins: allowedBins,
		tempDir:     tempDir,
		logger:      logger,
	}
}

// Execute runs command with args under the runner timeout.
func (r *Runner) Execute(ctx context.Context, command string, args []string) (*Result, error) {
	startTime := time.Now()

	if !r.isAllowed(command) {
		return nil, fmt.Errorf("command '%s' is not allowed", command)
	}

	cmdPath, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("command not found: %s", command)
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, cmdPath, args...)
	cmd.Env = r.buildEnvironment()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// 超时时杀掉整个进程组，ffmpeg 可能派生子进程
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("Executing command",
		zap.String("command", command),
		zap.Strings("args", args),
	)

	err = cmd.Run()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(startTime),
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.Killed = true
		result.ExitCode = -1
		r.logger.Warn("Command killed due to timeout",
			zap.String("command", command),
			zap.Duration("timeout", r.timeout),
		)
		return result, fmt.Errorf("command timed out after %v", r.timeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return result, fmt.Errorf("execution failed: %w", err)
		}
	}

	r.logger.Debug("Command completed",
		zap.String("command", command),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

func (r *Runner) isAllowed(command string) bool {
	baseName := filepath.Base(command)
	for _, allowed := range r.allowedBins {
		if allowed == baseName || allowed == command {
			return true
		}
	}
	return false
}

func (r *Runner) buildEnvironment() []string {
	sysPath := os.Getenv("PATH")
	if sysPath == "" {
		sysPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}
	env := []string{
		"PATH=" + sysPath,
		"HOME=" + os.Getenv("HOME"),
		"LANG=en_US.UTF-8",
	}
	if r.tempDir != "" {
		env = append(env, "TMPDIR="+r.tempDir)
	}
	return env
}
