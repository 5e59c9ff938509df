package preset

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Name identifies a transform profile.
type Name string

const (
	Default   Name = "default"
	Thumbnail Name = "thumbnail"
	Avatar    Name = "avatar"
	Banner    Name = "banner"
	Gallery   Name = "gallery"
)

// Format is an output encoding supported by the transform primitive.
type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
	GIF  Format = "gif"
	TIFF Format = "tiff"
)

// Preset bundles transform parameters.
type Preset struct {
	Name    Name   `yaml:"-" json:"name"`
	Width   int    `yaml:"width" json:"width"`
	Height  int    `yaml:"height" json:"height"`
	Quality int    `yaml:"quality" json:"quality"`
	Format  Format `yaml:"format" json:"format"`
}

// Catalog maps profile names to presets. It is read-only after construction.
type Catalog map[Name]Preset

// Builtin returns the default catalog.
func Builtin() Catalog {
	return Catalog{
		Default:   {Name: Default, Width: 1920, Height: 1080, Quality: 82, Format: JPEG},
		Thumbnail: {Name: Thumbnail, Width: 150, Height: 150, Quality: 70, Format: JPEG},
		Avatar:    {Name: Avatar, Width: 256, Height: 256, Quality: 80, Format: JPEG},
		Banner:    {Name: Banner, Width: 1600, Height: 400, Quality: 85, Format: JPEG},
		Gallery:   {Name: Gallery, Width: 1280, Height: 960, Quality: 85, Format: PNG},
	}
}

// ParseName validates a preset name against the catalog. Empty means default.
func (c Catalog) ParseName(v string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(v)))
	if n == "" {
		return Default, nil
	}
	if _, ok := c[n]; !ok {
		return "", fmt.Errorf("unknown preset %q", v)
	}
	return n, nil
}

// Resolve returns the preset for name, falling back to the default profile.
func (c Catalog) Resolve(name Name) Preset {
	if p, ok := c[name]; ok {
		return p
	}
	return c[Default]
}

type fileCatalog struct {
	Presets map[string]Preset `yaml:"presets"`
}

// LoadFile merges presets from a YAML file onto the builtin catalog.
//
//	presets:
//	  thumbnail: {width: 200, height: 200, quality: 75, format: jpeg}
func LoadFile(path string) (Catalog, error) {
	cat := Builtin()
	if path == "" {
		return cat, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preset file: %w", err)
	}
	var fc fileCatalog
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse preset file: %w", err)
	}
	for name, p := range fc.Presets {
		n := Name(strings.ToLower(name))
		p.Name = n
		if err := p.validate(); err != nil {
			return nil, err
		}
		cat[n] = p
	}
	return cat, nil
}

func (p Preset) validate() error {
	if p.Width <= 0 && p.Height <= 0 {
		return fmt.Errorf("preset %s: width or height required", p.Name)
	}
	if p.Quality < 1 || p.Quality > 100 {
		return fmt.Errorf("preset %s: quality %d out of range", p.Name, p.Quality)
	}
	switch p.Format {
	case JPEG, PNG, GIF, TIFF:
	default:
		return fmt.Errorf("preset %s: unsupported format %q", p.Name, p.Format)
	}
	return nil
}
