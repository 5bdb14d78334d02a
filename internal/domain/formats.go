package domain

import (
	"path/filepath"
	"strings"
)

// videoExtensions lists container extensions accepted as video input or output.
var videoExtensions = map[string]bool{
	".mp4": true, ".m4v": true, ".m4p": true, ".mov": true, ".qt": true,
	".avi": true, ".wmv": true, ".asf": true, ".flv": true, ".f4v": true,
	".f4p": true, ".f4a": true, ".f4b": true, ".webm": true, ".mkv": true,
	".mpg": true, ".mpeg": true, ".mp2": true, ".mpe": true, ".mpv": true,
	".vob": true, ".dvd": true, ".3gp": true, ".3g2": true, ".svi": true,
	".mxf": true, ".ogv": true, ".ogg": true, ".amv": true, ".rm": true,
	".roq": true, ".nsv": true, ".yuv": true, ".gifv": true, ".mng": true,
	".rrc": true, ".mod": true, ".dv": true,
}

// imageExtensions lists extensions considered part of an image sequence.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".jpe": true, ".jfif": true, ".pjpeg": true,
	".pjp": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
	".avif": true, ".apng": true, ".tif": true, ".tiff": true, ".heif": true,
	".heic": true, ".ico": true, ".cur": true, ".xbm": true, ".svg": true,
	".svgz": true,
}

// audioCodecs maps an audio output extension to the encoder passed to the
// external tool. Extensions absent from this map are not valid audio outputs.
var audioCodecs = map[string]string{
	".mp3":  "libmp3lame",
	".flac": "flac",
	".wav":  "pcm_s16le",
	".aac":  "aac",
	".m4a":  "aac",
	".alac": "alac",
	".ogg":  "libvorbis",
	".opus": "libopus",
	".wma":  "wmav2",
	".amr":  "libopencore_amrnb",
	".aiff": "pcm_s16be",
	".au":   "pcm_mulaw",
	".ac3":  "ac3",
	".dts":  "dca",
	".wv":   "wavpack",
	".tta":  "tta",
	".mp2":  "mp2",
	".caf":  "pcm_s16le",
}

func extOf(path string) string {
	return strings.ToLower(filepath.Ext(path))
}

// IsVideoPath reports whether the path has a recognized video extension.
func IsVideoPath(path string) bool {
	return videoExtensions[extOf(path)]
}

// IsImagePath reports whether the path has a recognized image extension.
func IsImagePath(path string) bool {
	return imageExtensions[extOf(path)]
}

// IsAudioPath reports whether the path has a supported audio output extension.
func IsAudioPath(path string) bool {
	_, ok := audioCodecs[extOf(path)]
	return ok
}

// AudioCodecFor returns the encoder name for an audio output path.
func AudioCodecFor(path string) (string, bool) {
	codec, ok := audioCodecs[extOf(path)]
	return codec, ok
}

// AudioExtensions returns the supported audio output extensions, unordered.
func AudioExtensions() []string {
	out := make([]string, 0, len(audioCodecs))
	for ext := range audioCodecs {
		out = append(out, ext)
	}
	return out
}
