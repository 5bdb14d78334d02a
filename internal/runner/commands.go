package runner

import (
	"fmt"
	"path/filepath"
	goruntime "runtime"
	"strconv"

	"frameforge/internal/domain"
)

// Invocation is one discrete external tool command. Arguments are always
// passed as a list, never through a shell.
type Invocation struct {
	Name string
	Args []string
}

// Plan is the ordered set of invocations that realizes one job.
type Plan struct {
	Invocations []Invocation
}

// MediaInfo holds probed properties of the primary input file.
type MediaInfo struct {
	FrameRate float64
	Duration  float64
	HasAudio  bool
}

// Policy translates a validated job into external tool invocations. The
// exact argument templates are configuration owned by the caller; the
// runner core never assumes a particular tool or flag set.
type Policy struct {
	FFmpegPath  string
	FFprobePath string
	// NullSink is the discard target for analysis-only encoder passes.
	NullSink string
}

// DefaultPolicy returns the stock ffmpeg/ffprobe argument templates.
func DefaultPolicy() *Policy {
	nullSink := "/dev/null"
	if goruntime.GOOS == "windows" {
		nullSink = "NUL"
	}
	return &Policy{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		NullSink:    nullSink,
	}
}

// Plan builds the invocation sequence for a job. workDir is a private
// scratch directory that exists for the duration of the job; pass log
// files and staged inputs live there. stagedPattern is non-empty only
// for image sequence jobs.
func (p *Policy) Plan(job domain.EditJob, info MediaInfo, workDir, stagedPattern string) (Plan, error) {
	switch job.Operation {
	case domain.OperationCompress:
		return p.planCompress(job, info, workDir)
	case domain.OperationTrim:
		return p.planTrim(job, info)
	case domain.OperationChangeSpeed:
		return p.planSpeed(job)
	case domain.OperationCombine:
		return p.planCombine(job)
	case domain.OperationImageToVideo:
		return p.planImageToVideo(job, stagedPattern)
	case domain.OperationExtractAudio:
		return p.planExtractAudio(job)
	default:
		return Plan{}, fmt.Errorf("unsupported operation: %s", job.Operation)
	}
}

// baseArgs are prepended to every encoder invocation. -nostdin keeps a
// detached child from blocking on a tty prompt.
func baseArgs() []string {
	return []string{"-hide_banner", "-nostdin", "-y"}
}

// planCompress produces a two-pass encode sized to fit the target. The
// first pass analyzes only; the second writes the output. A 10% margin
// is reserved so container overhead cannot push past the target.
func (p *Policy) planCompress(job domain.EditJob, info MediaInfo, workDir string) (Plan, error) {
	params := job.Params.Compress
	if info.Duration <= 0 {
		return Plan{}, fmt.Errorf("cannot size output: input duration is unknown")
	}

	budgetBytes := float64(params.TargetSizeMB) * 1024 * 1024 * 0.9
	audioBits := float64(params.AudioBitrateKbps) * 1024
	videoBitrate := int((budgetBytes*8 - audioBits*info.Duration) / info.Duration)
	if videoBitrate <= 0 {
		return Plan{}, fmt.Errorf("target size %d MB is too small for a %.0fs video", params.TargetSizeMB, info.Duration)
	}

	passLog := filepath.Join(workDir, "passlog")
	firstPass := append(baseArgs(),
		"-i", job.Inputs[0],
		"-c:v", "libx264",
		"-b:v", strconv.Itoa(videoBitrate),
		"-pass", "1",
		"-passlogfile", passLog,
		"-an",
		"-f", "null", p.NullSink,
	)
	secondPass := append(baseArgs(),
		"-i", job.Inputs[0],
		"-c:v", "libx264",
		"-b:v", strconv.Itoa(videoBitrate),
		"-pass", "2",
		"-passlogfile", passLog,
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", params.AudioBitrateKbps),
		job.Output,
	)

	return Plan{Invocations: []Invocation{
		{Name: p.FFmpegPath, Args: firstPass},
		{Name: p.FFmpegPath, Args: secondPass},
	}}, nil
}

// planTrim cuts the probed frame range. The audio stream is carried over
// only when the input has one.
func (p *Policy) planTrim(job domain.EditJob, info MediaInfo) (Plan, error) {
	params := job.Params.Trim
	if info.FrameRate <= 0 {
		return Plan{}, fmt.Errorf("cannot convert frames to time: input frame rate is unknown")
	}

	start := float64(params.StartFrame) / info.FrameRate
	end := float64(params.EndFrame) / info.FrameRate

	args := append(baseArgs(), "-i", job.Inputs[0])
	if start > 0 {
		args = append(args, "-ss", formatSeconds(start))
	}
	if end > 0 {
		args = append(args, "-to", formatSeconds(end))
	}
	args = append(args, "-c:v", "libx264")
	if info.HasAudio {
		args = append(args, "-c:a", "aac")
	}
	args = append(args, job.Output)

	return Plan{Invocations: []Invocation{{Name: p.FFmpegPath, Args: args}}}, nil
}

// planSpeed retimes the video stream with a setpts filter. Audio is
// dropped, matching the single mapped output stream.
func (p *Policy) planSpeed(job domain.EditJob) (Plan, error) {
	pts := 1 / job.Params.Speed.Factor
	args := append(baseArgs(),
		"-i", job.Inputs[0],
		"-filter_complex", fmt.Sprintf("[0:v]setpts=%s*PTS[v]", formatSeconds(pts)),
		"-map", "[v]",
		"-c:v", "libx264",
		job.Output,
	)
	return Plan{Invocations: []Invocation{{Name: p.FFmpegPath, Args: args}}}, nil
}

// planCombine concatenates two inputs through the concat filter.
func (p *Policy) planCombine(job domain.EditJob) (Plan, error) {
	args := append(baseArgs(),
		"-i", job.Inputs[0],
		"-i", job.Inputs[1],
		"-filter_complex", "[0:v:0][0:a:0][1:v:0][1:a:0]concat=n=2:v=1:a=1[outv][outa]",
		"-map", "[outv]",
		"-map", "[outa]",
		job.Output,
	)
	return Plan{Invocations: []Invocation{{Name: p.FFmpegPath, Args: args}}}, nil
}

// planImageToVideo renders the staged sequence, letterboxed to the
// requested frame size.
func (p *Policy) planImageToVideo(job domain.EditJob, stagedPattern string) (Plan, error) {
	if stagedPattern == "" {
		return Plan{}, fmt.Errorf("image sequence was not staged")
	}

	params := job.Params.ImageToVideo
	scale := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease:eval=frame,pad=%d:%d:-1:-1:eval=frame",
		params.Width, params.Height, params.Width, params.Height,
	)
	args := append(baseArgs(),
		"-framerate", strconv.Itoa(params.InputFrameRate),
		"-start_number", "1",
		"-i", stagedPattern,
		"-vf", scale,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(params.OutputFrameRate),
		job.Output,
	)
	return Plan{Invocations: []Invocation{{Name: p.FFmpegPath, Args: args}}}, nil
}

// planExtractAudio copies the audio track, encoded per output extension.
func (p *Policy) planExtractAudio(job domain.EditJob) (Plan, error) {
	codec, ok := domain.AudioCodecFor(job.Output)
	if !ok {
		return Plan{}, fmt.Errorf("no audio encoder for extension %q", filepath.Ext(job.Output))
	}

	args := append(baseArgs(),
		"-i", job.Inputs[0],
		"-map", "0:a",
		"-q:a", "0",
		"-acodec", codec,
		job.Output,
	)
	return Plan{Invocations: []Invocation{{Name: p.FFmpegPath, Args: args}}}, nil
}

// formatSeconds renders a float without exponent notation or trailing zeros.
func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
