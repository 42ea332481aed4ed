package preset

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrEmptyCatalog is returned when a catalog is built without presets.
var ErrEmptyCatalog = errors.New("preset catalog is empty")

// Catalog is a read-only, ordered set of presets.
type Catalog struct {
	order []string
	byKey map[string]Preset
}

// NewCatalog validates presets and returns a catalog that lists them in the
// given order.
func NewCatalog(presets []Preset) (*Catalog, error) {
	if len(presets) == 0 {
		return nil, ErrEmptyCatalog
	}

	v := validator.New()
	c := &Catalog{
		order: make([]string, 0, len(presets)),
		byKey: make(map[string]Preset, len(presets)),
	}
	for _, p := range presets {
		if err := v.Struct(p); err != nil {
			return nil, fmt.Errorf("preset %q: %w", p.Key, err)
		}
		if err := p.check(); err != nil {
			return nil, err
		}
		if _, dup := c.byKey[p.Key]; dup {
			return nil, fmt.Errorf("preset %q: duplicate key", p.Key)
		}
		c.order = append(c.order, p.Key)
		c.byKey[p.Key] = p
	}
	return c, nil
}

// Default returns the built-in catalog: low, balanced, high and audio.
func Default() *Catalog {
	c, err := NewCatalog(defaultPresets())
	if err != nil {
		panic(fmt.Sprintf("preset: invalid built-in table: %v", err))
	}
	return c
}

// LoadYAML builds a catalog from a YAML sequence of presets.
func LoadYAML(r io.Reader) (*Catalog, error) {
	var presets []Preset
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&presets); err != nil {
		return nil, fmt.Errorf("decode presets: %w", err)
	}
	return NewCatalog(presets)
}

// Get returns the preset for key or ErrUnknownPreset.
func (c *Catalog) Get(key string) (Preset, error) {
	p, ok := c.byKey[key]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, key)
	}
	return p, nil
}

// List returns all presets in display order.
func (c *Catalog) List() []Preset {
	out := make([]Preset, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byKey[k])
	}
	return out
}

// EstimateOutputSize returns originalBytes scaled by the preset's size ratio,
// rounded to the nearest byte. The value is advisory only.
func (c *Catalog) EstimateOutputSize(originalBytes int64, key string) (int64, error) {
	p, err := c.Get(key)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(float64(originalBytes) * p.EstimatedSizeRatio)), nil
}

func defaultPresets() []Preset {
	return []Preset{
		{
			Key:                 "low",
			DisplayName:         "⚡ High compression",
			Description:         "Smallest file, quick to share",
			Video:               true,
			QualityFactor:       intPtr(30),
			SpeedProfile:        "veryfast",
			MaxVideoBitrateKbps: 800,
			AudioBitrateKbps:    96,
			TargetResolution:    &Resolution{Width: 1280},
			Container:           "mp4",
			EstimatedSizeRatio:  0.20,
		},
		{
			Key:                 "balanced",
			DisplayName:         "⚖️ Balanced",
			Description:         "Recommended for most videos",
			Video:               true,
			QualityFactor:       intPtr(24),
			SpeedProfile:        "fast",
			MaxVideoBitrateKbps: 1500,
			AudioBitrateKbps:    128,
			TargetResolution:    &Resolution{Width: 1920},
			Container:           "mp4",
			EstimatedSizeRatio:  0.35,
		},
		{
			Key:                 "high",
			DisplayName:         "🎯 Best quality",
			Description:         "Close to the original, keeps resolution",
			Video:               true,
			QualityFactor:       intPtr(20),
			SpeedProfile:        "medium",
			MaxVideoBitrateKbps: 2500,
			AudioBitrateKbps:    192,
			Container:           "mp4",
			EstimatedSizeRatio:  0.60,
		},
		{
			Key:                "audio",
			DisplayName:        "🎵 Audio only",
			Description:        "Extract the soundtrack as AAC",
			AudioBitrateKbps:   128,
			Container:          "m4a",
			EstimatedSizeRatio: 0.08,
		},
	}
}
