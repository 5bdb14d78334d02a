package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"go.uber.org/zap"

	"frameforge/internal/config"
	"frameforge/internal/diagnostics"
	"frameforge/internal/domain"
	"frameforge/internal/jobs"
	"frameforge/internal/runner"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var videoDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Video files",
		Pattern:     "*.mp4;*.m4v;*.mov;*.mkv;*.avi;*.webm;*.wmv;*.flv;*.mpg;*.mpeg;*.3gp;*.ogv",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

var audioDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Audio files",
		Pattern:     "*.mp3;*.flac;*.wav;*.aac;*.m4a;*.ogg;*.opus;*.wma;*.ac3",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App wires configuration, jobs, the runner, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Jobs        *jobs.Manager
	Runner      jobRunner
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	log         *zap.Logger

	// newRunner rebuilds the runner when tool paths change in settings.
	newRunner func(domain.Settings) jobRunner

	mu          sync.Mutex
	activeJobID string
	cancel      context.CancelFunc
	events      *jobs.EventBus
	runtimeCtx  context.Context
}

// jobRunner isolates the job runner behind an interface.
type jobRunner interface {
	Run(ctx context.Context, req runner.Request) (domain.JobResult, error)
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".frameforge", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		logger = zap.NewNop()
	}

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)

	newRunner := func(s domain.Settings) jobRunner {
		return runner.New(policyFor(s), logger)
	}

	return &App{
		Settings:    settings,
		Store:       store,
		Jobs:        jobs.NewManager(),
		Runner:      newRunner(settings),
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
		log:         logger,
		newRunner:   newRunner,
		events:      jobs.NewEventBus(1000),
	}, nil
}

// policyFor maps settings onto the runner's command policy.
func policyFor(settings domain.Settings) *runner.Policy {
	policy := runner.DefaultPolicy()
	if strings.TrimSpace(settings.FFmpegPath) != "" {
		policy.FFmpegPath = settings.FFmpegPath
	}
	if strings.TrimSpace(settings.FFprobePath) != "" {
		policy.FFprobePath = settings.FFprobePath
	}
	return policy
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "FrameForge",
		Width:       1080,
		Height:      720,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.runtimeCtx = nil
		},
		Bind: []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes
// diagnostics and rebuilds the runner with the new tool paths.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	if a.newRunner != nil {
		a.Runner = a.newRunner(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// PickVideoFile opens a native file dialog for video selection.
func (a *App) PickVideoFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select video file",
		Filters: videoDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickImageDirectory opens a native directory picker for image sequences.
func (a *App) PickImageDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select directory with images",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickOutputVideoFile opens a save dialog for the rendered video.
func (a *App) PickOutputVideoFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.SaveFileDialog(ctx, wailsruntime.SaveDialogOptions{
		Title:            "Choose a new output video file",
		DefaultDirectory: a.Settings.OutputDir,
		Filters:          videoDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickOutputAudioFile opens a save dialog for the extracted audio.
func (a *App) PickOutputAudioFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.SaveFileDialog(ctx, wailsruntime.SaveDialogOptions{
		Title:            "Choose a new output audio file",
		DefaultDirectory: a.Settings.OutputDir,
		Filters:          audioDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.Settings = settings
	a.Diagnostics = a.checker.Run(settings)
	return a.Diagnostics, nil
}

// StartEdit creates an edit job and runs it asynchronously. A job
// submitted while another is active is rejected.
func (a *App) StartEdit(operation string, inputs []string, output string, params domain.Params) (domain.Job, error) {
	job := domain.EditJob{
		ID:        uuid.NewString(),
		Operation: domain.Operation(operation),
		Inputs:    append([]string(nil), inputs...),
		Output:    strings.TrimSpace(output),
		Params:    params,
	}

	if err := a.Jobs.Start(job.ID, job.Operation); err != nil {
		return domain.Job{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.activeJobID = job.ID
	a.cancel = cancel
	a.mu.Unlock()

	a.publishStatus(job.ID, domain.JobStatusProbing, "Job started")

	go a.runEditJob(ctx, job)
	return a.Jobs.Current(), nil
}

// CancelEdit cancels the currently running job, if any.
func (a *App) CancelEdit() error {
	a.mu.Lock()
	cancel := a.cancel
	activeJobID := a.activeJobID
	a.mu.Unlock()

	if cancel == nil {
		return jobs.ErrNoRunningJob
	}

	cancel()
	if err := a.Jobs.Cancel(); err != nil && !errors.Is(err, jobs.ErrNoRunningJob) {
		return err
	}

	if activeJobID != "" {
		a.publishStatus(activeJobID, domain.JobStatusCancelled, "Cancellation requested")
	}
	return nil
}

// CurrentJob returns current job metadata and status.
func (a *App) CurrentJob() domain.Job {
	return a.Jobs.Current()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// runEditJob executes the runner and maps outcomes to job events.
func (a *App) runEditJob(ctx context.Context, job domain.EditJob) {
	req := runner.Request{
		Job: job,
		OnStage: func(status domain.JobStatus) {
			if err := a.Jobs.Transition(status); err == nil {
				a.publishStatus(job.ID, status, "Entered "+string(status)+" stage")
			}
		},
		OnLog: func(log domain.CommandLog) {
			a.publishEvent(jobs.Event{
				JobID:    job.ID,
				Type:     jobs.EventTypeLog,
				Message:  "Command completed",
				Command:  log.Command,
				Args:     log.Args,
				ExitCode: log.ExitCode,
				Stderr:   log.Stderr,
			})
		},
	}

	result, err := a.Runner.Run(ctx, req)
	switch result.Status {
	case domain.ResultCancelled:
		_ = a.Jobs.Transition(domain.JobStatusCancelled)
		a.publishStatus(job.ID, domain.JobStatusCancelled, "Job cancelled")

	case domain.ResultFailed:
		_ = a.Jobs.Transition(domain.JobStatusFailed)
		a.publishStatus(job.ID, domain.JobStatusFailed, "Job failed")
		message := result.Diagnostic
		if message == "" && err != nil {
			message = err.Error()
		}
		a.publishEvent(jobs.Event{
			JobID:   job.ID,
			Type:    jobs.EventTypeError,
			Status:  domain.JobStatusFailed,
			Message: message,
		})

	case domain.ResultSucceeded:
		if err := a.Jobs.Transition(domain.JobStatusDone); err == nil {
			a.publishStatus(job.ID, domain.JobStatusDone, "Job completed")
		}
		a.publishEvent(jobs.Event{
			JobID:      job.ID,
			Type:       jobs.EventTypeResult,
			Status:     domain.JobStatusDone,
			Message:    "Output rendered",
			OutputPath: result.OutputPath,
		})
	}

	a.clearActiveJob(job.ID)
}

// publishStatus sends a normalized status event.
func (a *App) publishStatus(jobID string, status domain.JobStatus, message string) {
	a.publishEvent(jobs.Event{
		JobID:   jobID,
		Type:    jobs.EventTypeStatus,
		Status:  status,
		Message: message,
	})
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", published)
	}
}

// clearActiveJob clears cancellation handles for completed job IDs.
func (a *App) clearActiveJob(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activeJobID == jobID {
		a.activeJobID = ""
		a.cancel = nil
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims user inputs and restores required defaults.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.FFmpegPath = strings.TrimSpace(settings.FFmpegPath)
	settings.FFprobePath = strings.TrimSpace(settings.FFprobePath)
	defaults := config.DefaultSettings()
	if settings.FFmpegPath == "" {
		settings.FFmpegPath = defaults.FFmpegPath
	}
	if settings.FFprobePath == "" {
		settings.FFprobePath = defaults.FFprobePath
	}
	if settings.MaxCPUPercent <= 0 {
		settings.MaxCPUPercent = defaults.MaxCPUPercent
	}
	return settings
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
