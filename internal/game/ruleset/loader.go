package ruleset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	gerrors "github.com/cory-johannsen/gacha/internal/errors"
)

// Parse decodes a ruleset document, applies defaults and validates it.
//
// Postcondition: Returns a valid *Ruleset or a CONFIGURATION_INVARIANT_VIOLATION error.
func Parse(data []byte) (*Ruleset, error) {
	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, gerrors.Wrap(gerrors.CodeConfigurationInvariantViolation, "parsing ruleset", err)
	}
	rs.applyDefaults()
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// Load reads a ruleset from path. When path is a directory every .yaml/.yml
// file in it is decoded in lexical order and merged: streams by name, batches
// by size, and fusion tuning by last non-zero value.
//
// Precondition: path must name a readable file or directory.
// Postcondition: Returns a valid *Ruleset or a non-nil error.
func Load(path string) (*Ruleset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, gerrors.Wrap(gerrors.CodeConfigurationInvariantViolation, "reading ruleset", err)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, gerrors.Wrap(gerrors.CodeConfigurationInvariantViolation, "reading ruleset", err)
		}
		return Parse(data)
	}

	files, err := yamlFiles(path)
	if err != nil {
		return nil, gerrors.Wrap(gerrors.CodeConfigurationInvariantViolation, "reading ruleset directory", err)
	}
	merged := Ruleset{Streams: map[string]StreamDef{}}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, gerrors.Wrap(gerrors.CodeConfigurationInvariantViolation, "reading ruleset", err)
		}
		var part Ruleset
		if err := yaml.Unmarshal(data, &part); err != nil {
			return nil, gerrors.Wrap(gerrors.CodeConfigurationInvariantViolation,
				fmt.Sprintf("parsing ruleset file %s", f), err)
		}
		merged.merge(part)
	}
	merged.applyDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}

func (r *Ruleset) merge(part Ruleset) {
	for name, s := range part.Streams {
		r.Streams[name] = s
	}
	for _, b := range part.Batches {
		replaced := false
		for i := range r.Batches {
			if r.Batches[i].Size == b.Size {
				r.Batches[i] = b
				replaced = true
			}
		}
		if !replaced {
			r.Batches = append(r.Batches, b)
		}
	}
	if part.Fusion.RequiredCount != 0 {
		r.Fusion.RequiredCount = part.Fusion.RequiredCount
	}
	if part.Fusion.SubGradeBonus != 0 {
		r.Fusion.SubGradeBonus = part.Fusion.SubGradeBonus
	}
	if part.Fusion.MaxAutoFuseIterations != 0 {
		r.Fusion.MaxAutoFuseIterations = part.Fusion.MaxAutoFuseIterations
	}
	if len(part.Fusion.StatMultipliers) > 0 {
		r.Fusion.StatMultipliers = part.Fusion.StatMultipliers
	}
}

// yamlFiles lists the .yaml/.yml files directly inside dir, in lexical order.
func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	return paths, nil
}
