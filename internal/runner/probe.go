package runner

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"frameforge/internal/domain"
)

// probeNeeds describes which media properties an operation requires.
type probeNeeds struct {
	frameRate bool
	duration  bool
	audio     bool
}

// needsFor maps each operation to the probes it depends on.
func needsFor(op domain.Operation) probeNeeds {
	switch op {
	case domain.OperationCompress:
		return probeNeeds{duration: true}
	case domain.OperationTrim:
		return probeNeeds{frameRate: true, audio: true}
	case domain.OperationExtractAudio:
		return probeNeeds{audio: true}
	default:
		return probeNeeds{}
	}
}

// probeMedia gathers the requested properties of the primary input by
// querying the probe tool. Each query is a separate short invocation.
func (r *Runner) probeMedia(ctx context.Context, input string, needs probeNeeds) (MediaInfo, error) {
	var info MediaInfo

	if needs.frameRate {
		out, err := r.probeQuery(ctx, input, "-select_streams", "v",
			"-show_entries", "stream=r_frame_rate")
		if err != nil {
			return info, err
		}
		rate, err := parseFrameRate(out)
		if err != nil {
			return info, fmt.Errorf("probe %s: %w", input, err)
		}
		info.FrameRate = rate
	}

	if needs.duration {
		out, err := r.probeQuery(ctx, input, "-show_entries", "format=duration")
		if err != nil {
			return info, err
		}
		duration, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
		if err != nil {
			return info, fmt.Errorf("probe %s: invalid duration %q", input, strings.TrimSpace(out))
		}
		info.Duration = duration
	}

	if needs.audio {
		result, err := r.runner.Run(ctx, r.policy.FFprobePath,
			"-i", input,
			"-show_streams",
			"-select_streams", "a",
			"-loglevel", "error")
		if err != nil {
			return info, &CommandError{
				Log: domain.CommandLog{
					Command:  r.policy.FFprobePath,
					Args:     []string{"-i", input, "-show_streams", "-select_streams", "a", "-loglevel", "error"},
					ExitCode: result.ExitCode,
					Stderr:   result.Stderr,
				},
				Err: err,
			}
		}
		info.HasAudio = strings.TrimSpace(result.Stdout) != ""
	}

	return info, nil
}

// probeQuery runs one single-value probe and returns its stdout.
func (r *Runner) probeQuery(ctx context.Context, input string, entries ...string) (string, error) {
	args := append([]string{
		"-v", "error",
		"-of", "default=noprint_wrappers=1:nokey=1",
	}, entries...)
	args = append(args, input)

	result, err := r.runner.Run(ctx, r.policy.FFprobePath, args...)
	if err != nil {
		return "", &CommandError{
			Log: domain.CommandLog{
				Command:  r.policy.FFprobePath,
				Args:     args,
				ExitCode: result.ExitCode,
				Stderr:   result.Stderr,
			},
			Err: err,
		}
	}
	return result.Stdout, nil
}

// parseFrameRate converts ffprobe's "num/den" rational to whole frames
// per second, never below 1.
func parseFrameRate(raw string) (float64, error) {
	text := strings.TrimSpace(raw)
	// Multiple video streams yield one line each; the first carries the
	// stream the encoder maps by default.
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = strings.TrimSpace(text[:idx])
	}

	parts := strings.Split(text, "/")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid frame rate %q", text)
	}
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q", text)
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || den == 0 {
		return 0, fmt.Errorf("invalid frame rate %q", text)
	}

	rate := math.Ceil(num / den)
	if rate < 1 {
		rate = 1
	}
	return rate, nil
}
