// Package preset provides the catalog of named compression configurations.
// Presets are defined once at process start and never mutated afterwards.
package preset

import (
	"errors"
	"fmt"
)

// ErrUnknownPreset is returned when a preset key is not in the catalog.
var ErrUnknownPreset = errors.New("unknown preset")

// Resolution bounds the output frame size. Width is an upper bound: sources
// narrower than Width are never upscaled. A zero Height keeps the aspect ratio.
type Resolution struct {
	Width  int `yaml:"width" json:"width" validate:"gt=0"`
	Height int `yaml:"height" json:"height,omitempty" validate:"gte=0"`
}

// Preset is an immutable descriptor of encoder parameters.
type Preset struct {
	// Key uniquely identifies the preset, e.g. "balanced".
	Key string `yaml:"key" json:"key" validate:"required,alphanum"`
	// DisplayName is shown on chat buttons.
	DisplayName string `yaml:"displayName" json:"display_name" validate:"required"`
	// Description is a one-line explanation for /help.
	Description string `yaml:"description" json:"description,omitempty"`
	// Video is false for audio-extraction presets.
	Video bool `yaml:"video" json:"video"`
	// QualityFactor is the x264 CRF. Present only when Video is true.
	QualityFactor *int `yaml:"qualityFactor" json:"quality_factor,omitempty" validate:"omitempty,gte=0,lte=51"`
	// SpeedProfile is the encoder speed/quality tier, e.g. "veryfast".
	SpeedProfile string `yaml:"speedProfile" json:"speed_profile,omitempty"`
	// MaxVideoBitrateKbps caps the video bitrate. Zero leaves it uncapped.
	MaxVideoBitrateKbps int `yaml:"maxVideoBitrateKbps" json:"max_video_bitrate_kbps,omitempty" validate:"gte=0"`
	// AudioBitrateKbps is the AAC bitrate.
	AudioBitrateKbps int `yaml:"audioBitrateKbps" json:"audio_bitrate_kbps" validate:"gt=0"`
	// TargetResolution is nil to keep the source resolution.
	TargetResolution *Resolution `yaml:"targetResolution" json:"target_resolution,omitempty"`
	// Container is the output file extension without the dot.
	Container string `yaml:"container" json:"container" validate:"required,oneof=mp4 mkv m4a mp3"`
	// EstimatedSizeRatio is the advisory output/input size ratio.
	EstimatedSizeRatio float64 `yaml:"estimatedSizeRatio" json:"estimated_size_ratio" validate:"gt=0,lte=1"`
}

// AudioOnly reports whether the preset drops the video stream.
func (p Preset) AudioOnly() bool {
	return !p.Video
}

// Extension returns the output file extension including the leading dot.
func (p Preset) Extension() string {
	return "." + p.Container
}

// check enforces the cross-field rules the struct tags cannot express.
func (p Preset) check() error {
	if p.Video && p.QualityFactor == nil {
		return fmt.Errorf("preset %q: video preset requires a quality factor", p.Key)
	}
	if p.Video && p.SpeedProfile == "" {
		return fmt.Errorf("preset %q: video preset requires a speed profile", p.Key)
	}
	if !p.Video && (p.QualityFactor != nil || p.TargetResolution != nil) {
		return fmt.Errorf("preset %q: audio preset cannot set video parameters", p.Key)
	}
	return nil
}

func intPtr(v int) *int {
	return &v
}
