package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"frameforge/internal/domain"
)

// fakeRunner records invocations and delegates to injected behavior.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	run   func(ctx context.Context, name string, args ...string) (commandResult, error)
}

// Run records the call and delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()
	if f.run == nil {
		return commandResult{}, nil
	}
	return f.run(ctx, name, args...)
}

// callCount returns the number of recorded external invocations.
func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// probeAware answers probe queries and hands encoder calls to encode.
func probeAware(frameRate, duration, audioStreams string, encode func(ctx context.Context, args ...string) (commandResult, error)) func(ctx context.Context, name string, args ...string) (commandResult, error) {
	return func(ctx context.Context, name string, args ...string) (commandResult, error) {
		if name == "ffprobe" {
			switch {
			case hasArg(args, "stream=r_frame_rate"):
				return commandResult{Stdout: frameRate}, nil
			case hasArg(args, "format=duration"):
				return commandResult{Stdout: duration}, nil
			case hasArg(args, "-show_streams"):
				return commandResult{Stdout: audioStreams}, nil
			}
			return commandResult{}, errors.New("unexpected probe query")
		}
		return encode(ctx, args...)
	}
}

// TestRunRejectsMissingInputWithoutSpawning checks validation precedes any spawn.
func TestRunRejectsMissingInputWithoutSpawning(t *testing.T) {
	root := t.TempDir()
	fake := &fakeRunner{}
	r := NewForTests(nil, fake, nil, nil, nil, nil)

	result, err := r.Run(context.Background(), Request{Job: domain.EditJob{
		ID:        "job-1",
		Operation: domain.OperationChangeSpeed,
		Inputs:    []string{filepath.Join(root, "missing.mp4")},
		Output:    filepath.Join(root, "out.mp4"),
		Params:    domain.Params{Speed: domain.SpeedParams{Factor: 2}},
	}})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if result.Status != domain.ResultFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if fake.callCount() != 0 {
		t.Fatalf("external calls = %d, want 0", fake.callCount())
	}
}

// TestRunRejectsTrimEndBeforeStart checks frame range bounds.
func TestRunRejectsTrimEndBeforeStart(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "clip.mp4")
	mustWriteFile(t, input, "media")

	fake := &fakeRunner{}
	r := NewForTests(nil, fake, nil, nil, nil, nil)

	_, err := r.Run(context.Background(), Request{Job: domain.EditJob{
		ID:        "job-1",
		Operation: domain.OperationTrim,
		Inputs:    []string{input},
		Output:    filepath.Join(root, "out.mp4"),
		Params:    domain.Params{Trim: domain.TrimParams{StartFrame: 90, EndFrame: 30}},
	}})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if fake.callCount() != 0 {
		t.Fatalf("external calls = %d, want 0", fake.callCount())
	}
}

// TestRunRejectsOutputEqualToInput checks the path distinctness invariant.
func TestRunRejectsOutputEqualToInput(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "clip.mp4")
	mustWriteFile(t, input, "media")

	r := NewForTests(nil, &fakeRunner{}, nil, nil, nil, nil)
	_, err := r.Run(context.Background(), Request{Job: domain.EditJob{
		ID:        "job-1",
		Operation: domain.OperationChangeSpeed,
		Inputs:    []string{input},
		Output:    input,
		Params:    domain.Params{Speed: domain.SpeedParams{Factor: 2}},
	}})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
}

// TestRunRejectsExistingOutput checks pre-existing outputs are refused.
func TestRunRejectsExistingOutput(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "clip.mp4")
	output := filepath.Join(root, "out.mp4")
	mustWriteFile(t, input, "media")
	mustWriteFile(t, output, "already here")

	r := NewForTests(nil, &fakeRunner{}, nil, nil, nil, nil)
	_, err := r.Run(context.Background(), Request{Job: domain.EditJob{
		ID:        "job-1",
		Operation: domain.OperationChangeSpeed,
		Inputs:    []string{input},
		Output:    output,
		Params:    domain.Params{Speed: domain.SpeedParams{Factor: 2}},
	}})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
}

// TestRunSpeedChangeSuccess checks the happy path for a single invocation.
func TestRunSpeedChangeSuccess(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "clip.mp4")
	output := filepath.Join(root, "fast.mp4")
	mustWriteFile(t, input, "media")

	var seenArgs []string
	fake := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		seenArgs = append([]string{}, args...)
		mustWriteFile(t, output, "rendered")
		return commandResult{ExitCode: 0}, nil
	}}

	r := NewForTests(nil, fake, nil, nil, nil, nil)
	var stages []domain.JobStatus
	result, err := r.Run(context.Background(), Request{
		Job: domain.EditJob{
			ID:        "job-1",
			Operation: domain.OperationChangeSpeed,
			Inputs:    []string{input},
			Output:    output,
			Params:    domain.Params{Speed: domain.SpeedParams{Factor: 2}},
		},
		OnStage: func(status domain.JobStatus) { stages = append(stages, status) },
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Status != domain.ResultSucceeded {
		t.Fatalf("status = %s, want succeeded", result.Status)
	}
	if result.OutputPath != output {
		t.Fatalf("output path = %q, want %q", result.OutputPath, output)
	}
	if len(result.Logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(result.Logs))
	}
	if got := argValue(seenArgs, "-filter_complex"); got != "[0:v]setpts=0.5*PTS[v]" {
		t.Fatalf("filter = %q", got)
	}
	want := []domain.JobStatus{domain.JobStatusProbing, domain.JobStatusEncoding, domain.JobStatusFinalizing}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stages = %v, want %v", stages, want)
		}
	}
}

// TestRunReportsToolFailureDiagnostic checks nonzero exits surface stderr.
func TestRunReportsToolFailureDiagnostic(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "clip.mp4")
	mustWriteFile(t, input, "media")

	fake := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		return commandResult{Stderr: "codec not found", ExitCode: 1}, errors.New("exit status 1")
	}}

	r := NewForTests(nil, fake, nil, nil, nil, nil)
	result, err := r.Run(context.Background(), Request{Job: domain.EditJob{
		ID:        "job-1",
		Operation: domain.OperationChangeSpeed,
		Inputs:    []string{input},
		Output:    filepath.Join(root, "out.mp4"),
		Params:    domain.Params{Speed: domain.SpeedParams{Factor: 2}},
	}})

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error type = %T, want *CommandError", err)
	}
	if result.Status != domain.ResultFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if !strings.Contains(result.Diagnostic, "codec not found") {
		t.Fatalf("diagnostic = %q, want codec not found", result.Diagnostic)
	}
	if cmdErr.Log.ExitCode != 1 {
		t.Fatalf("exit code = %d, want 1", cmdErr.Log.ExitCode)
	}
}

// TestRunCancelRemovesPartialOutput checks cancellation cleanup.
func TestRunCancelRemovesPartialOutput(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "clip.mp4")
	output := filepath.Join(root, "out.mp4")
	mustWriteFile(t, input, "media")

	started := make(chan struct{})
	fake := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		mustWriteFile(t, output, "partial")
		close(started)
		<-ctx.Done()
		return commandResult{ExitCode: -1}, ctx.Err()
	}}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	r := NewForTests(nil, fake, nil, nil, nil, nil)
	result, err := r.Run(ctx, Request{Job: domain.EditJob{
		ID:        "job-1",
		Operation: domain.OperationChangeSpeed,
		Inputs:    []string{input},
		Output:    output,
		Params:    domain.Params{Speed: domain.SpeedParams{Factor: 2}},
	}})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if result.Status != domain.ResultCancelled {
		t.Fatalf("status = %s, want cancelled", result.Status)
	}
	if _, statErr := os.Stat(output); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("partial output still present, stat err = %v", statErr)
	}
}

// TestRunBusyRejectsSecondJob checks concurrent submissions are refused
// without disturbing the active job.
func TestRunBusyRejectsSecondJob(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "clip.mp4")
	output := filepath.Join(root, "out.mp4")
	mustWriteFile(t, input, "media")

	started := make(chan struct{})
	release := make(chan struct{})
	fake := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		close(started)
		<-release
		mustWriteFile(t, output, "rendered")
		return commandResult{ExitCode: 0}, nil
	}}

	r := NewForTests(nil, fake, nil, nil, nil, nil)
	job := domain.EditJob{
		ID:        "job-1",
		Operation: domain.OperationChangeSpeed,
		Inputs:    []string{input},
		Output:    output,
		Params:    domain.Params{Speed: domain.SpeedParams{Factor: 2}},
	}

	type runResult struct {
		result domain.JobResult
		err    error
	}
	firstDone := make(chan runResult, 1)
	go func() {
		result, err := r.Run(context.Background(), Request{Job: job})
		firstDone <- runResult{result, err}
	}()

	<-started
	second := job
	second.ID = "job-2"
	second.Output = filepath.Join(root, "other.mp4")
	if _, err := r.Run(context.Background(), Request{Job: second}); !errors.Is(err, ErrBusy) {
		t.Fatalf("second run error = %v, want %v", err, ErrBusy)
	}

	close(release)
	first := <-firstDone
	if first.err != nil {
		t.Fatalf("first run error = %v", first.err)
	}
	if first.result.Status != domain.ResultSucceeded {
		t.Fatalf("first run status = %s, want succeeded", first.result.Status)
	}
}

// TestRunTrimUsesProbedFrameRateAndAudio checks frame conversion and
// conditional audio mapping.
func TestRunTrimUsesProbedFrameRateAndAudio(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "clip.mp4")
	output := filepath.Join(root, "cut.mp4")
	mustWriteFile(t, input, "media")

	var seenArgs []string
	fake := &fakeRunner{}
	fake.run = probeAware("30000/1001\n", "", "codec_type=audio\n", func(ctx context.Context, args ...string) (commandResult, error) {
		seenArgs = append([]string{}, args...)
		mustWriteFile(t, output, "rendered")
		return commandResult{ExitCode: 0}, nil
	})

	r := NewForTests(nil, fake, nil, nil, nil, nil)
	result, err := r.Run(context.Background(), Request{Job: domain.EditJob{
		ID:        "job-1",
		Operation: domain.OperationTrim,
		Inputs:    []string{input},
		Output:    output,
		Params:    domain.Params{Trim: domain.TrimParams{StartFrame: 30, EndFrame: 60}},
	}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != domain.ResultSucceeded {
		t.Fatalf("status = %s, want succeeded", result.Status)
	}

	// 30000/1001 rounds up to 30 fps, so frames 30..60 are seconds 1..2.
	if got := argValue(seenArgs, "-ss"); got != "1" {
		t.Fatalf("-ss = %q, want 1", got)
	}
	if got := argValue(seenArgs, "-to"); got != "2" {
		t.Fatalf("-to = %q, want 2", got)
	}
	if argValue(seenArgs, "-c:a") != "aac" {
		t.Fatalf("expected audio mapping, args = %v", seenArgs)
	}
}

// TestRunExtractAudioRequiresAudioStream checks silent inputs are rejected.
func TestRunExtractAudioRequiresAudioStream(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "clip.mp4")
	mustWriteFile(t, input, "media")

	encoderCalled := false
	fake := &fakeRunner{}
	fake.run = probeAware("", "", "", func(ctx context.Context, args ...string) (commandResult, error) {
		encoderCalled = true
		return commandResult{ExitCode: 0}, nil
	})

	r := NewForTests(nil, fake, nil, nil, nil, nil)
	_, err := r.Run(context.Background(), Request{Job: domain.EditJob{
		ID:        "job-1",
		Operation: domain.OperationExtractAudio,
		Inputs:    []string{input},
		Output:    filepath.Join(root, "sound.mp3"),
	}})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if encoderCalled {
		t.Fatal("encoder should not run for a silent input")
	}
}

// TestRunCompressRunsTwoPasses checks pass ordering and sizing probe use.
func TestRunCompressRunsTwoPasses(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "clip.mp4")
	output := filepath.Join(root, "small.mp4")
	mustWriteFile(t, input, "media")

	var encodes [][]string
	fake := &fakeRunner{}
	fake.run = probeAware("", "60.0\n", "", func(ctx context.Context, args ...string) (commandResult, error) {
		encodes = append(encodes, append([]string{}, args...))
		if len(encodes) == 2 {
			mustWriteFile(t, output, "rendered")
		}
		return commandResult{ExitCode: 0}, nil
	})

	r := NewForTests(nil, fake, nil, nil, nil, nil)
	result, err := r.Run(context.Background(), Request{Job: domain.EditJob{
		ID:        "job-1",
		Operation: domain.OperationCompress,
		Inputs:    []string{input},
		Output:    output,
		Params: domain.Params{Compress: domain.CompressParams{
			TargetSizeMB:     10,
			AudioBitrateKbps: 128,
		}},
	}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != domain.ResultSucceeded {
		t.Fatalf("status = %s, want succeeded", result.Status)
	}

	if len(encodes) != 2 {
		t.Fatalf("encoder invocations = %d, want 2", len(encodes))
	}
	if argValue(encodes[0], "-pass") != "1" || argValue(encodes[1], "-pass") != "2" {
		t.Fatalf("pass ordering wrong: %v / %v", encodes[0], encodes[1])
	}
	if !hasArg(encodes[0], "-an") {
		t.Fatal("first pass should skip audio")
	}
	if encodes[1][len(encodes[1])-1] != output {
		t.Fatalf("second pass target = %q, want %q", encodes[1][len(encodes[1])-1], output)
	}
}

// TestRunImageToVideoStagesSequence checks staging order and pattern input.
func TestRunImageToVideoStagesSequence(t *testing.T) {
	root := t.TempDir()
	imagesDir := filepath.Join(root, "images")
	output := filepath.Join(root, "slides.mp4")
	mustWriteFile(t, filepath.Join(imagesDir, "b-second.png"), "png")
	mustWriteFile(t, filepath.Join(imagesDir, "a-first.jpg"), "jpg")
	mustWriteFile(t, filepath.Join(imagesDir, "notes.txt"), "ignored")

	var pattern string
	fake := &fakeRunner{run: func(ctx context.Context, name string, args ...string) (commandResult, error) {
		pattern = argValue(args, "-i")
		mustWriteFile(t, output, "rendered")
		return commandResult{ExitCode: 0}, nil
	}}

	r := NewForTests(nil, fake, nil, nil, nil, nil)
	result, err := r.Run(context.Background(), Request{Job: domain.EditJob{
		ID:        "job-1",
		Operation: domain.OperationImageToVideo,
		Inputs:    []string{imagesDir},
		Output:    output,
		Params: domain.Params{ImageToVideo: domain.ImageToVideoParams{
			InputFrameRate:  1,
			OutputFrameRate: 24,
			Width:           1920,
			Height:          1080,
		}},
	}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != domain.ResultSucceeded {
		t.Fatalf("status = %s, want succeeded", result.Status)
	}
	if !strings.HasSuffix(pattern, "img-%03d.jpg") {
		t.Fatalf("input pattern = %q, want img-%%03d.jpg suffix", pattern)
	}

	// Source directory must be untouched by staging.
	entries, readErr := os.ReadDir(imagesDir)
	if readErr != nil {
		t.Fatalf("read images dir: %v", readErr)
	}
	if len(entries) != 3 {
		t.Fatalf("source dir entries = %d, want 3", len(entries))
	}
}

// TestStageImageSequenceOrdersLexicographically checks staged naming.
func TestStageImageSequenceOrdersLexicographically(t *testing.T) {
	root := t.TempDir()
	srcDir := filepath.Join(root, "src")
	workDir := filepath.Join(root, "work")
	mustWriteFile(t, filepath.Join(srcDir, "z.png"), "last")
	mustWriteFile(t, filepath.Join(srcDir, "a.jpg"), "first")
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	pattern, err := stageImageSequence(srcDir, workDir)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if !strings.HasSuffix(pattern, "img-%03d.jpg") {
		t.Fatalf("pattern = %q", pattern)
	}

	first, err := os.ReadFile(filepath.Join(workDir, "frames", "img-001.jpg"))
	if err != nil {
		t.Fatalf("read staged frame: %v", err)
	}
	if string(first) != "first" {
		t.Fatalf("first staged frame = %q, want contents of a.jpg", first)
	}
}

// mustWriteFile writes a file creating parent directories.
func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file %s: %v", path, err)
	}
}

// argValue returns value for key-style CLI args.
func argValue(args []string, key string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}

// hasArg reports whether args include the target flag.
func hasArg(args []string, key string) bool {
	for _, arg := range args {
		if arg == key {
			return true
		}
	}
	return false
}
