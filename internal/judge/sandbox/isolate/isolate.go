// Package isolate drives the external isolate(1) sandbox binary: box
// lifecycle, limited command execution and meta-file retrieval.
package isolate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	appErr "judgelet/pkg/errors"
	"judgelet/pkg/utils/logger"
)

// Limits bounds one sandboxed invocation. Zero fields take the defaults.
type Limits struct {
	CPUTimeSec  float64 `yaml:"cpuTimeSec"`
	WallTimeSec float64 `yaml:"wallTimeSec"`
	MemoryKB    int64   `yaml:"memoryKB"`
	FileSizeKB  int64   `yaml:"fileSizeKB"`
	StackKB     int64   `yaml:"stackKB"`
	Processes   int     `yaml:"processes"`
}

// Default limits: CPU 2s, wall 5s, memory 512MB, output file 50MB, stack 256MB.
const (
	DefaultCPUTimeSec  = 2.0
	DefaultWallTimeSec = 5.0
	DefaultMemoryKB    = 512 * 1024
	DefaultFileSizeKB  = 50 * 1024
	DefaultStackKB     = 256 * 1024
	DefaultProcesses   = 64
)

// DefaultLimits returns the per-run defaults.
func DefaultLimits() Limits {
	return Limits{
		CPUTimeSec:  DefaultCPUTimeSec,
		WallTimeSec: DefaultWallTimeSec,
		MemoryKB:    DefaultMemoryKB,
		FileSizeKB:  DefaultFileSizeKB,
		StackKB:     DefaultStackKB,
		Processes:   DefaultProcesses,
	}
}

// Normalized fills zero fields with defaults and forces the wall limit to
// stay strictly above the CPU limit.
func (l Limits) Normalized() Limits {
	if l.CPUTimeSec <= 0 {
		l.CPUTimeSec = DefaultCPUTimeSec
	}
	if l.WallTimeSec <= 0 {
		l.WallTimeSec = DefaultWallTimeSec
	}
	if l.WallTimeSec <= l.CPUTimeSec {
		l.WallTimeSec = l.CPUTimeSec + 1
	}
	if l.MemoryKB <= 0 {
		l.MemoryKB = DefaultMemoryKB
	}
	if l.FileSizeKB <= 0 {
		l.FileSizeKB = DefaultFileSizeKB
	}
	if l.StackKB <= 0 {
		l.StackKB = DefaultStackKB
	}
	if l.Processes <= 0 {
		l.Processes = DefaultProcesses
	}
	return l
}

// Config controls how the driver invokes the isolator.
type Config struct {
	BinaryPath     string        `yaml:"binaryPath"`
	BoxRoot        string        `yaml:"boxRoot"`
	InitAttempts   int           `yaml:"initAttempts"`
	InitRetryDelay time.Duration `yaml:"initRetryDelay"`
	// SuperviseBuffer is added to the wall limit for the watchdog that kills
	// a hung isolator invocation.
	SuperviseBuffer time.Duration `yaml:"superviseBuffer"`
	OutputCapBytes  int           `yaml:"outputCapBytes"`
	// ExtraDirs are additional --dir mounts for language toolchains.
	ExtraDirs []string `yaml:"extraDirs"`
}

func (c Config) withDefaults() Config {
	if c.BinaryPath == "" {
		c.BinaryPath = "isolate"
	}
	if c.BoxRoot == "" {
		c.BoxRoot = "/var/local/lib/isolate"
	}
	if c.InitAttempts <= 0 {
		c.InitAttempts = 3
	}
	if c.InitRetryDelay <= 0 {
		c.InitRetryDelay = 200 * time.Millisecond
	}
	if c.SuperviseBuffer <= 0 {
		c.SuperviseBuffer = 2 * time.Second
	}
	if c.OutputCapBytes <= 0 {
		c.OutputCapBytes = 64 * 1024
	}
	return c
}

// RunResult carries the raw strings produced by one sandboxed invocation.
// MetaText is the unparsed meta file; SyntheticTimeout marks a meta that the
// driver fabricated after killing a hung isolator.
type RunResult struct {
	Stdout           string
	Stderr           string
	MetaText         string
	SyntheticTimeout bool
}

// Driver wraps the isolate binary. One driver serves all boxes; per-box
// exclusivity is the pool's job.
type Driver struct {
	cfg Config
}

// NewDriver builds a driver, applying config defaults.
func NewDriver(cfg Config) *Driver {
	return &Driver{cfg: cfg.withDefaults()}
}

// BoxDir returns the writable working directory of a box.
func (d *Driver) BoxDir(boxID int) string {
	return filepath.Join(d.cfg.BoxRoot, strconv.Itoa(boxID), "box")
}

// retryableInitMarkers are isolator stderr fragments that clear up after a
// cleanup-then-init cycle.
var retryableInitMarkers = []string{
	"unexpected mountpoint",
	"Unexpected mountpoint",
	"Cannot remove",
	"Device or resource busy",
}

// Init tears down any stale state for the box and creates it fresh. Init
// retries the full cleanup-then-init cycle on mountpoint-class failures.
func (d *Driver) Init(ctx context.Context, boxID int) error {
	attempt := func() error {
		// Stale state first: isolator cleanup, then the directory itself.
		_ = d.runIsolate(ctx, boxID, "--cleanup")
		_ = os.RemoveAll(filepath.Join(d.cfg.BoxRoot, strconv.Itoa(boxID)))

		if err := d.runIsolate(ctx, boxID, "--init"); err != nil {
			if isRetryableInit(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.cfg.InitRetryDelay), uint64(d.cfg.InitAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(attempt, policy); err != nil {
		return appErr.Wrapf(err, appErr.SandboxInitFailed, "init box %d failed", boxID)
	}
	return nil
}

func isRetryableInit(err error) bool {
	msg := err.Error()
	for _, marker := range retryableInitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// WriteSource writes a UTF-8 file into the box working directory.
func (d *Driver) WriteSource(boxID int, filename, text string) error {
	path := filepath.Join(d.BoxDir(boxID), filename)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return appErr.Wrapf(err, appErr.SandboxRunFailed, "write %s into box %d failed", filename, boxID)
	}
	return nil
}

// Run executes argv inside the box under the given limits. Stdin is fed from
// a box-local input.txt which is written even when stdinText is empty, so
// programs probing for EOF see a definite empty file. Stdout, stderr and the
// meta file are read back after the isolator exits; when the isolator itself
// hangs past the wall limit plus the supervise buffer, its process group is
// killed and a synthetic status:TO meta is returned.
func (d *Driver) Run(ctx context.Context, boxID int, argv []string, stdinText string, extraEnv []string, limits Limits) (RunResult, error) {
	if len(argv) == 0 {
		return RunResult{}, appErr.New(appErr.SandboxRunFailed).WithMessage("empty argv")
	}
	limits = limits.Normalized()
	boxDir := d.BoxDir(boxID)

	if err := os.WriteFile(filepath.Join(boxDir, "input.txt"), []byte(stdinText), 0o644); err != nil {
		return RunResult{}, appErr.Wrapf(err, appErr.SandboxRunFailed, "write input.txt into box %d failed", boxID)
	}
	// A meta file left over from an earlier step (the compile, typically) must
	// not be mistaken for this run's result.
	_ = os.Remove(filepath.Join(boxDir, "meta.txt"))
	_ = os.Remove(filepath.Join(filepath.Dir(boxDir), "meta.txt"))

	args := d.buildRunArgs(boxID, boxDir, argv, extraEnv, limits)
	cmd := exec.Command(d.cfg.BinaryPath, args...)
	cmd.SysProcAttr = &unix.SysProcAttr{Setpgid: true}
	var isolatorOut bytes.Buffer
	cmd.Stdout = &isolatorOut
	cmd.Stderr = &isolatorOut

	if err := cmd.Start(); err != nil {
		return RunResult{}, appErr.Wrapf(err, appErr.SandboxRunFailed, "start isolator for box %d failed", boxID)
	}

	supervise := time.Duration(limits.WallTimeSec*float64(time.Second)) + d.cfg.SuperviseBuffer
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timedOut := false
	timer := time.NewTimer(supervise)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		timedOut = true
		d.killGroup(cmd)
		<-done
	case <-ctx.Done():
		d.killGroup(cmd)
		<-done
		return RunResult{}, appErr.Wrap(ctx.Err(), appErr.ExecutionCancelled)
	}

	result := RunResult{
		Stdout: d.readBoxFile(boxDir, "out.txt"),
		Stderr: d.readBoxFile(boxDir, "err.txt"),
	}

	if timedOut {
		logger.Warn(ctx, "isolator exceeded supervisory timeout",
			zap.Int("box_id", boxID),
			zap.Duration("supervise", supervise))
		result.MetaText = fmt.Sprintf("status:TO\ntime:%.3f\ntime-wall:%.3f\n", limits.WallTimeSec, limits.WallTimeSec)
		result.SyntheticTimeout = true
		return result, nil
	}

	result.MetaText = d.readMetaText(boxDir)
	if result.MetaText == "" {
		return result, appErr.Newf(appErr.MetaUnparsable, "no meta file after run in box %d: %s",
			boxID, truncate(isolatorOut.String(), 300))
	}
	return result, nil
}

// Cleanup tears the box down. Best effort: errors are logged and swallowed.
func (d *Driver) Cleanup(ctx context.Context, boxID int) {
	if err := d.runIsolate(ctx, boxID, "--cleanup"); err != nil {
		logger.Debug(ctx, "box cleanup failed", zap.Int("box_id", boxID), zap.Error(err))
	}
	_ = os.RemoveAll(filepath.Join(d.cfg.BoxRoot, strconv.Itoa(boxID)))
}

func (d *Driver) buildRunArgs(boxID int, boxDir string, argv, extraEnv []string, limits Limits) []string {
	args := []string{
		fmt.Sprintf("--box-id=%d", boxID),
		"--run",
		fmt.Sprintf("--processes=%d", limits.Processes),
		fmt.Sprintf("--time=%g", limits.CPUTimeSec),
		fmt.Sprintf("--wall-time=%g", limits.WallTimeSec),
		fmt.Sprintf("--mem=%d", limits.MemoryKB),
		fmt.Sprintf("--fsize=%d", limits.FileSizeKB),
		fmt.Sprintf("--stack=%d", limits.StackKB),
		"--dir=/usr/bin",
		"--dir=/usr/lib",
		"--dir=/lib",
		"--dir=/lib64",
		"--dir=/etc",
		"--dir=/usr/libexec",
	}
	for _, dir := range d.cfg.ExtraDirs {
		args = append(args, "--dir="+dir)
	}
	// Mounting the box working dir explicitly avoids "unexpected mountpoint"
	// failures inside containers.
	args = append(args,
		fmt.Sprintf("--dir=/box=%s:rw", boxDir),
		"--env=PATH=/usr/bin:/bin",
		"--env=HOME=/tmp",
	)
	for _, kv := range extraEnv {
		args = append(args, "--env="+kv)
	}
	args = append(args,
		"--stdin=input.txt",
		fmt.Sprintf("--stdout=%s", filepath.Join(boxDir, "out.txt")),
		fmt.Sprintf("--stderr=%s", filepath.Join(boxDir, "err.txt")),
		fmt.Sprintf("--meta=%s", filepath.Join(boxDir, "meta.txt")),
		"--",
	)
	return append(args, argv...)
}

func (d *Driver) runIsolate(ctx context.Context, boxID int, op string) error {
	cmd := exec.CommandContext(ctx, d.cfg.BinaryPath, fmt.Sprintf("--box-id=%d", boxID), op)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("isolate %s box %d: %w (%s)", op, boxID, err, strings.TrimSpace(string(output)))
	}
	return nil
}

func (d *Driver) killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid targets the whole process group set up via Setpgid.
	_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
}

func (d *Driver) readBoxFile(boxDir, name string) string {
	data, err := os.ReadFile(filepath.Join(boxDir, name))
	if err != nil {
		return ""
	}
	return truncate(string(data), d.cfg.OutputCapBytes)
}

// readMetaText reads meta.txt from the box dir, falling back to the box
// parent dir where some isolator builds place it.
func (d *Driver) readMetaText(boxDir string) string {
	for _, path := range []string{
		filepath.Join(boxDir, "meta.txt"),
		filepath.Join(filepath.Dir(boxDir), "meta.txt"),
	} {
		if data, err := os.ReadFile(path); err == nil {
			return string(data)
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
