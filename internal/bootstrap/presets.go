package bootstrap

import (
	"sort"
	"strings"

	"frameforge/internal/domain"
)

// CompressPreset is one selectable target size for the compress page.
type CompressPreset struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	TargetSizeMB int    `json:"targetSizeMB"`
	Description  string `json:"description,omitempty"`
}

// AudioFormatOption is one selectable output format for audio extraction.
type AudioFormatOption struct {
	Extension string `json:"extension"`
	Codec     string `json:"codec"`
}

// CompressPresets returns the built-in target size presets.
func (a *App) CompressPresets() []CompressPreset {
	return []CompressPreset{
		{
			ID:           "discord",
			Name:         "Discord (10 MB)",
			TargetSizeMB: 10,
			Description:  "Fits the free Discord upload limit.",
		},
		{
			ID:           "email",
			Name:         "Email (25 MB)",
			TargetSizeMB: 25,
			Description:  "Fits common mail attachment limits.",
		},
		{
			ID:           "small",
			Name:         "Small (50 MB)",
			TargetSizeMB: 50,
		},
		{
			ID:           "medium",
			Name:         "Medium (100 MB)",
			TargetSizeMB: 100,
		},
	}
}

// AudioFormats returns the supported audio output formats, sorted by
// extension for a stable dropdown order.
func (a *App) AudioFormats() []AudioFormatOption {
	extensions := domain.AudioExtensions()
	sort.Strings(extensions)

	out := make([]AudioFormatOption, 0, len(extensions))
	for _, ext := range extensions {
		codec, ok := domain.AudioCodecFor("x" + ext)
		if !ok {
			continue
		}
		out = append(out, AudioFormatOption{
			Extension: strings.TrimPrefix(ext, "."),
			Codec:     codec,
		})
	}
	return out
}
