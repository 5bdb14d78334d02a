package domain

// Operation identifies one of the supported editing operations.
type Operation string

const (
	OperationCompress     Operation = "compress"
	OperationTrim         Operation = "trim"
	OperationChangeSpeed  Operation = "change_speed"
	OperationCombine      Operation = "combine"
	OperationImageToVideo Operation = "image_to_video"
	OperationExtractAudio Operation = "extract_audio"
)

// JobStatus tracks each stage of a single editing job.
type JobStatus string

const (
	JobStatusIdle       JobStatus = "idle"
	JobStatusProbing    JobStatus = "probing"
	JobStatusEncoding   JobStatus = "encoding"
	JobStatusFinalizing JobStatus = "finalizing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// ResultStatus is the terminal outcome of one job run.
type ResultStatus string

const (
	ResultSucceeded ResultStatus = "succeeded"
	ResultFailed    ResultStatus = "failed"
	ResultCancelled ResultStatus = "cancelled"
)

// CompressParams targets an output file size for the compress operation.
type CompressParams struct {
	TargetSizeMB     int `json:"targetSizeMB" validate:"gt=0"`
	AudioBitrateKbps int `json:"audioBitrateKbps" validate:"gt=0"`
}

// TrimParams selects a frame range to keep. End may equal Start.
type TrimParams struct {
	StartFrame int64 `json:"startFrame" validate:"gte=0"`
	EndFrame   int64 `json:"endFrame" validate:"gte=0,gtefield=StartFrame"`
}

// SpeedParams scales playback speed. Factor 2 plays twice as fast.
type SpeedParams struct {
	Factor float64 `json:"factor" validate:"gt=0"`
}

// ImageToVideoParams controls image sequence rendering.
type ImageToVideoParams struct {
	InputFrameRate  int `json:"inputFrameRate" validate:"gt=0"`
	OutputFrameRate int `json:"outputFrameRate" validate:"gt=0"`
	Width           int `json:"width" validate:"gt=0"`
	Height          int `json:"height" validate:"gt=0"`
}

// Params carries the operation-specific parameter block. Only the block
// matching the job's operation is consulted.
type Params struct {
	Compress     CompressParams     `json:"compress,omitempty"`
	Trim         TrimParams         `json:"trim,omitempty"`
	Speed        SpeedParams        `json:"speed,omitempty"`
	ImageToVideo ImageToVideoParams `json:"imageToVideo,omitempty"`
}

// EditJob is one user-requested editing operation with resolved parameters.
// It is passed by value and never mutated after submission.
type EditJob struct {
	ID        string    `json:"id"`
	Operation Operation `json:"operation"`
	Inputs    []string  `json:"inputs"`
	Output    string    `json:"output"`
	Params    Params    `json:"params"`
}

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stderr   string   `json:"stderr"`
}

// JobResult is the single terminal result produced for a job.
type JobResult struct {
	Status     ResultStatus `json:"status"`
	Diagnostic string       `json:"diagnostic,omitempty"`
	OutputPath string       `json:"outputPath,omitempty"`
	Logs       []CommandLog `json:"logs,omitempty"`
}

// Job stores the current job identity and lifecycle status.
type Job struct {
	ID        string    `json:"id"`
	Operation Operation `json:"operation,omitempty"`
	Status    JobStatus `json:"status"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	OutputDir     string  `json:"outputDir"`
	FFmpegPath    string  `json:"ffmpegPath"`
	FFprobePath   string  `json:"ffprobePath"`
	MaxCPUPercent float64 `json:"maxCpuPercent"`
}
