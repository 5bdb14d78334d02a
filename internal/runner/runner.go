package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"frameforge/internal/domain"
)

// maxCaptureBytes bounds how much child stderr is retained per invocation.
const maxCaptureBytes = 64 * 1024

// Request carries one job and execution callbacks for a single run.
type Request struct {
	Job     domain.EditJob
	OnStage func(status domain.JobStatus)
	OnLog   func(log domain.CommandLog)
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec with bounded stderr capture.
type execRunner struct {
	captureLimit int
}

// Run executes one command and captures the stderr tail and exit code.
// Cancelling ctx kills the child; Run returns only after it has exited.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	stderr := newTailWriter(r.captureLimit)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// Runner turns one EditJob into a supervised external process execution
// and a terminal result. At most one job runs at a time per Runner.
type Runner struct {
	policy   *Policy
	runner   commandRunner
	validate *validator.Validate
	log      *zap.Logger
	busy     atomic.Bool

	stat       func(name string) (os.FileInfo, error)
	open       func(name string) (*os.File, error)
	readDir    func(name string) ([]os.DirEntry, error)
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
	remove     func(name string) error
	createTemp func(dir, pattern string) (*os.File, error)
}

// New constructs the production runner with OS dependencies.
func New(policy *Policy, log *zap.Logger) *Runner {
	if policy == nil {
		policy = DefaultPolicy()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		policy:     policy,
		runner:     &execRunner{captureLimit: maxCaptureBytes},
		validate:   validator.New(),
		log:        log,
		stat:       os.Stat,
		open:       os.Open,
		readDir:    os.ReadDir,
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
		remove:     os.Remove,
		createTemp: os.CreateTemp,
	}
}

// Run validates the job, executes its invocation plan, and produces the
// job's single terminal result. A second call while a job is active is
// rejected with ErrBusy without touching the running job.
func (r *Runner) Run(ctx context.Context, req Request) (domain.JobResult, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return domain.JobResult{}, ErrBusy
	}
	defer r.busy.Store(false)

	job := req.Job
	logger := r.log.With(zap.String("job_id", job.ID), zap.String("operation", string(job.Operation)))

	if verr := r.validateJob(job); verr != nil {
		logger.Warn("job rejected", zap.String("reason", verr.Error()))
		return domain.JobResult{Status: domain.ResultFailed, Diagnostic: verr.Error()}, verr
	}

	workDir, err := r.mkdirTemp("", "frameforge-*")
	if err != nil {
		wrapped := fmt.Errorf("create scratch directory: %w", err)
		return domain.JobResult{Status: domain.ResultFailed, Diagnostic: wrapped.Error()}, wrapped
	}
	defer func() {
		if rmErr := r.removeAll(workDir); rmErr != nil {
			logger.Warn("scratch cleanup failed", zap.Error(rmErr))
		}
	}()

	logger.Info("job started", zap.Strings("inputs", job.Inputs), zap.String("output", job.Output))
	emitStage(req.OnStage, domain.JobStatusProbing)

	var logs []domain.CommandLog
	info, probeErr := r.probeMedia(ctx, primaryInput(job), needsFor(job.Operation))
	if probeErr != nil {
		if ctx.Err() != nil {
			return r.cancelled(logger, job, logs)
		}
		logs = appendCommandLog(logs, req.OnLog, probeErr)
		logger.Error("probe failed", zap.Error(probeErr))
		return domain.JobResult{Status: domain.ResultFailed, Diagnostic: probeErr.Error(), Logs: logs}, probeErr
	}

	if job.Operation == domain.OperationExtractAudio && !info.HasAudio {
		verr := &ValidationError{Field: "inputs", Reason: "input video has no audio stream"}
		logger.Warn("job rejected", zap.String("reason", verr.Error()))
		return domain.JobResult{Status: domain.ResultFailed, Diagnostic: verr.Error(), Logs: logs}, verr
	}

	stagedPattern := ""
	if job.Operation == domain.OperationImageToVideo {
		stagedPattern, err = stageImageSequence(job.Inputs[0], workDir)
		if err != nil {
			wrapped := fmt.Errorf("stage image sequence: %w", err)
			logger.Error("staging failed", zap.Error(wrapped))
			return domain.JobResult{Status: domain.ResultFailed, Diagnostic: wrapped.Error(), Logs: logs}, wrapped
		}
	}

	plan, err := r.policy.Plan(job, info, workDir, stagedPattern)
	if err != nil {
		verr := &ValidationError{Field: "params", Reason: err.Error()}
		logger.Warn("job rejected", zap.String("reason", verr.Error()))
		return domain.JobResult{Status: domain.ResultFailed, Diagnostic: verr.Error(), Logs: logs}, verr
	}

	emitStage(req.OnStage, domain.JobStatusEncoding)
	for _, inv := range plan.Invocations {
		if ctx.Err() != nil {
			return r.cancelled(logger, job, logs)
		}

		logger.Debug("running command", zap.String("command", inv.Name), zap.Strings("args", inv.Args))
		result, runErr := r.runner.Run(ctx, inv.Name, inv.Args...)
		log := domain.CommandLog{
			Command:  inv.Name,
			Args:     inv.Args,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
		}
		logs = append(logs, log)
		emitLog(req.OnLog, log)

		if runErr != nil {
			if ctx.Err() != nil {
				return r.cancelled(logger, job, logs)
			}
			cmdErr := &CommandError{Log: log, Err: runErr}
			logger.Error("command failed", zap.String("command", inv.Name), zap.Int("exit_code", log.ExitCode))
			return domain.JobResult{Status: domain.ResultFailed, Diagnostic: log.Stderr, Logs: logs}, cmdErr
		}
	}

	emitStage(req.OnStage, domain.JobStatusFinalizing)
	if _, statErr := r.stat(job.Output); statErr != nil {
		missing := fmt.Errorf("tool exited cleanly but output file is missing: %s", job.Output)
		logger.Error("output missing", zap.Error(statErr))
		return domain.JobResult{Status: domain.ResultFailed, Diagnostic: missing.Error(), Logs: logs}, missing
	}

	logger.Info("job succeeded", zap.String("output", job.Output))
	return domain.JobResult{
		Status:     domain.ResultSucceeded,
		OutputPath: job.Output,
		Logs:       logs,
	}, nil
}

// cancelled removes any partial output and reports the cancelled result.
func (r *Runner) cancelled(logger *zap.Logger, job domain.EditJob, logs []domain.CommandLog) (domain.JobResult, error) {
	if _, err := r.stat(job.Output); err == nil {
		if rmErr := r.remove(job.Output); rmErr != nil {
			logger.Warn("partial output cleanup failed", zap.Error(rmErr))
		}
	}
	logger.Info("job cancelled")
	return domain.JobResult{Status: domain.ResultCancelled, Logs: logs}, context.Canceled
}

// validateJob enforces all path and parameter invariants before any
// external process is spawned.
func (r *Runner) validateJob(job domain.EditJob) *ValidationError {
	wantInputs := 1
	if job.Operation == domain.OperationCombine {
		wantInputs = 2
	}
	if len(job.Inputs) != wantInputs {
		return &ValidationError{Field: "inputs", Reason: fmt.Sprintf("operation %s needs %d input(s), got %d", job.Operation, wantInputs, len(job.Inputs))}
	}

	if strings.TrimSpace(job.Output) == "" {
		return &ValidationError{Field: "output", Reason: "output path is required"}
	}
	for _, input := range job.Inputs {
		if filepath.Clean(input) == filepath.Clean(job.Output) {
			return &ValidationError{Field: "output", Reason: "output path must differ from every input path"}
		}
	}
	if _, err := r.stat(job.Output); err == nil {
		return &ValidationError{Field: "output", Reason: fmt.Sprintf("output file already exists: %s", job.Output)}
	}
	if verr := r.checkOutputParent(job.Output); verr != nil {
		return verr
	}
	if verr := r.checkInputs(job); verr != nil {
		return verr
	}
	return r.checkParams(job)
}

// checkOutputParent verifies the output's parent directory exists and is
// writable, using a create-then-remove probe file.
func (r *Runner) checkOutputParent(output string) *ValidationError {
	parent := filepath.Dir(output)
	info, err := r.stat(parent)
	if err != nil {
		return &ValidationError{Field: "output", Reason: fmt.Sprintf("output directory does not exist: %s", parent)}
	}
	if !info.IsDir() {
		return &ValidationError{Field: "output", Reason: fmt.Sprintf("output parent is not a directory: %s", parent)}
	}

	probe, err := r.createTemp(parent, ".write-check-*")
	if err != nil {
		return &ValidationError{Field: "output", Reason: fmt.Sprintf("output directory is not writable: %s", parent)}
	}
	name := probe.Name()
	_ = probe.Close()
	_ = r.remove(name)
	return nil
}

// checkInputs verifies input existence, readability, and extensions.
func (r *Runner) checkInputs(job domain.EditJob) *ValidationError {
	if job.Operation == domain.OperationImageToVideo {
		dir := job.Inputs[0]
		info, err := r.stat(dir)
		if err != nil {
			return &ValidationError{Field: "inputs", Reason: fmt.Sprintf("image directory does not exist: %s", dir)}
		}
		if !info.IsDir() {
			return &ValidationError{Field: "inputs", Reason: fmt.Sprintf("not a directory: %s", dir)}
		}
		entries, err := r.readDir(dir)
		if err != nil {
			return &ValidationError{Field: "inputs", Reason: fmt.Sprintf("cannot read image directory: %s", dir)}
		}
		found := false
		for _, entry := range entries {
			if !entry.IsDir() && domain.IsImagePath(entry.Name()) {
				found = true
				break
			}
		}
		if !found {
			return &ValidationError{Field: "inputs", Reason: fmt.Sprintf("no image files in directory: %s", dir)}
		}
		if !domain.IsVideoPath(job.Output) {
			return &ValidationError{Field: "output", Reason: "output must be a video file"}
		}
		return nil
	}

	for _, input := range job.Inputs {
		info, err := r.stat(input)
		if err != nil {
			return &ValidationError{Field: "inputs", Reason: fmt.Sprintf("input does not exist: %s", input)}
		}
		if info.IsDir() {
			return &ValidationError{Field: "inputs", Reason: fmt.Sprintf("input is a directory: %s", input)}
		}
		f, err := r.open(input)
		if err != nil {
			return &ValidationError{Field: "inputs", Reason: fmt.Sprintf("input is not readable: %s", input)}
		}
		_ = f.Close()
		if !domain.IsVideoPath(input) {
			return &ValidationError{Field: "inputs", Reason: fmt.Sprintf("not a recognized video file: %s", input)}
		}
	}

	if job.Operation == domain.OperationExtractAudio {
		if !domain.IsAudioPath(job.Output) {
			return &ValidationError{Field: "output", Reason: "output must be a supported audio format"}
		}
		return nil
	}
	if !domain.IsVideoPath(job.Output) {
		return &ValidationError{Field: "output", Reason: "output must be a video file"}
	}
	return nil
}

// checkParams applies the declarative bounds of the operation's block.
func (r *Runner) checkParams(job domain.EditJob) *ValidationError {
	var err error
	switch job.Operation {
	case domain.OperationCompress:
		err = r.validate.Struct(job.Params.Compress)
	case domain.OperationTrim:
		err = r.validate.Struct(job.Params.Trim)
	case domain.OperationChangeSpeed:
		err = r.validate.Struct(job.Params.Speed)
	case domain.OperationImageToVideo:
		err = r.validate.Struct(job.Params.ImageToVideo)
	case domain.OperationCombine, domain.OperationExtractAudio:
		// no numeric parameters
	default:
		return &ValidationError{Field: "operation", Reason: fmt.Sprintf("unsupported operation: %s", job.Operation)}
	}
	if err != nil {
		return &ValidationError{Field: "params", Reason: validationReason(err)}
	}
	return nil
}

// validationReason flattens validator output to a one-line reason.
func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fmt.Sprintf("%s fails %q constraint", fe.Field(), fe.Tag()))
		}
		return strings.Join(parts, "; ")
	}
	return err.Error()
}

// stageImageSequence copies the directory's image files, in lexicographic
// filename order, into workDir under sequential names and returns the
// input pattern. The source directory is never modified. Staged names keep
// a fixed extension; the tool identifies the actual format by content.
func stageImageSequence(dir, workDir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && domain.IsImagePath(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no image files in %s", dir)
	}
	sort.Strings(names)

	seqDir := filepath.Join(workDir, "frames")
	if err := os.MkdirAll(seqDir, 0o755); err != nil {
		return "", err
	}
	for i, name := range names {
		dst := filepath.Join(seqDir, fmt.Sprintf("img-%03d.jpg", i+1))
		if err := copyFile(filepath.Join(dir, name), dst); err != nil {
			return "", err
		}
	}

	return filepath.Join(seqDir, "img-%03d.jpg"), nil
}

// copyFile duplicates src to dst, truncating dst if present.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// primaryInput returns the file probed for media properties.
func primaryInput(job domain.EditJob) string {
	if len(job.Inputs) == 0 {
		return ""
	}
	return job.Inputs[0]
}

// appendCommandLog records a failed probe command when one is attached.
func appendCommandLog(logs []domain.CommandLog, onLog func(domain.CommandLog), err error) []domain.CommandLog {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		logs = append(logs, cmdErr.Log)
		emitLog(onLog, cmdErr.Log)
	}
	return logs
}

// emitStage forwards stage updates when callback is configured.
func emitStage(cb func(domain.JobStatus), status domain.JobStatus) {
	if cb != nil {
		cb(status)
	}
}

// emitLog forwards command logs when callback is configured.
func emitLog(cb func(domain.CommandLog), log domain.CommandLog) {
	if cb != nil {
		cb(log)
	}
}

// NewForTests constructs a runner with injectable dependencies.
func NewForTests(
	policy *Policy,
	cmdRunner commandRunner,
	stat func(name string) (os.FileInfo, error),
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	remove func(name string) error,
) *Runner {
	r := New(policy, zap.NewNop())
	if cmdRunner != nil {
		r.runner = cmdRunner
	}
	if stat != nil {
		r.stat = stat
	}
	if mkdirTemp != nil {
		r.mkdirTemp = mkdirTemp
	}
	if removeAll != nil {
		r.removeAll = removeAll
	}
	if remove != nil {
		r.remove = remove
	}
	return r
}
