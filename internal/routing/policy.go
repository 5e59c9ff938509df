package routing

import (
	"strings"

	"media-gateway/internal/config"
	"media-gateway/internal/models"
	"media-gateway/internal/preset"
)

// Decision is the outcome of the routing policy.
type Decision struct {
	Target models.Target
	Mode   models.Mode
	Reason string
}

// Policy decides per request where the transform runs. It is pure: no I/O, no state.
type Policy struct {
	SmallFileThreshold        int64
	LargeFileThreshold        int64
	HighPriorityLoadThreshold int
	complexMIME               map[string]struct{}
	advancedPresets           map[preset.Name]struct{}
}

// NewPolicy builds a policy from config.
func NewPolicy(cfg config.Config) Policy {
	p := Policy{
		SmallFileThreshold:        cfg.SmallFileThreshold,
		LargeFileThreshold:        cfg.LargeFileThreshold,
		HighPriorityLoadThreshold: cfg.HighPriorityLoadThreshold,
		complexMIME:               make(map[string]struct{}, len(cfg.ComplexMIMETypes)),
		advancedPresets:           make(map[preset.Name]struct{}, len(cfg.AdvancedPresets)),
	}
	for _, m := range cfg.ComplexMIMETypes {
		p.complexMIME[strings.ToLower(m)] = struct{}{}
	}
	for _, n := range cfg.AdvancedPresets {
		p.advancedPresets[preset.Name(strings.ToLower(n))] = struct{}{}
	}
	return p
}

// Decide evaluates the rules in order; the first match wins.
// currentLoad is the number of outstanding remote jobs.
func (p Policy) Decide(fileSize int64, mimeType string, opts models.Options, currentLoad int) Decision {
	target, reason := p.target(fileSize, mimeType, opts, currentLoad)
	mode := models.ModeSync
	if target == models.TargetRemote && opts.Async {
		mode = models.ModeAsync
	}
	return Decision{Target: target, Mode: mode, Reason: reason}
}

func (p Policy) target(fileSize int64, mimeType string, opts models.Options, currentLoad int) (models.Target, string) {
	if opts.UseAdvancedProcessing != nil {
		if *opts.UseAdvancedProcessing {
			return models.TargetRemote, "explicit_override"
		}
		return models.TargetLocal, "explicit_override"
	}
	if opts.Priority.IsHigh() && currentLoad > p.HighPriorityLoadThreshold {
		return models.TargetLocal, "high_priority_congested"
	}
	if fileSize < p.SmallFileThreshold {
		return models.TargetLocal, "small_file"
	}
	if opts.SkipMetadata {
		return models.TargetLocal, "skip_metadata"
	}
	if p.isComplexMIME(mimeType) {
		return models.TargetRemote, "complex_format"
	}
	if _, ok := p.advancedPresets[opts.Preset]; ok {
		return models.TargetRemote, "advanced_preset"
	}
	if fileSize > p.LargeFileThreshold {
		return models.TargetRemote, "large_file"
	}
	return models.TargetLocal, "default"
}

func (p Policy) isComplexMIME(mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	_, ok := p.complexMIME[mt]
	return ok
}
