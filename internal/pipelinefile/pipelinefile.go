// Package pipelinefile loads the JSON pipeline descriptor that names the
// ordered steps and patch scripts a run executes, normalizing each step's
// scripts field (a string, a {"script": ...} object, or an array of
// either) into a flat ordered list.
package pipelinefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Step is one normalized pipeline step: a name (defaulted if absent) and an
// ordered, non-empty list of script paths.
type Step struct {
	Name    string
	Scripts []string
}

// Pipeline is the normalized descriptor: an ordered, non-empty list of
// steps, each with a non-empty script list.
type Pipeline struct {
	Steps []Step
}

// rawStep mirrors the JSON shape before scripts-field normalization.
type rawStep struct {
	Name    string          `json:"name"`
	Scripts json.RawMessage `json:"scripts"`
}

type rawPipeline struct {
	Steps []rawStep `json:"steps"`
}

// scriptEntry is {"script": "..."}, the object form a scripts[] entry may take.
type scriptEntry struct {
	Script string `json:"script"`
}

// Load reads and normalizes the pipeline descriptor at path (absolute, or
// relative to root). Fatal structural problems are reported as
// PIPELINE_INVALID errors.
func Load(root, path string) (Pipeline, error) {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return Pipeline{}, fmt.Errorf("PIPELINE_INVALID: %w", err)
	}

	var raw rawPipeline
	if err := json.Unmarshal(data, &raw); err != nil {
		return Pipeline{}, fmt.Errorf("PIPELINE_INVALID: %w", err)
	}
	if len(raw.Steps) == 0 {
		return Pipeline{}, fmt.Errorf("PIPELINE_INVALID steps[] is required")
	}

	steps := make([]Step, 0, len(raw.Steps))
	for i, rs := range raw.Steps {
		name := strings.TrimSpace(rs.Name)
		if name == "" {
			name = fmt.Sprintf("step-%d", i+1)
		}
		scripts, err := normalizeScripts(rs.Scripts)
		if err != nil {
			return Pipeline{}, fmt.Errorf("PIPELINE_INVALID step %q: %w", name, err)
		}
		if len(scripts) == 0 {
			return Pipeline{}, fmt.Errorf("PIPELINE_INVALID step %q: scripts[] is required (non-empty)", name)
		}
		steps = append(steps, Step{Name: name, Scripts: scripts})
	}

	return Pipeline{Steps: steps}, nil
}

// normalizeScripts accepts a JSON string, {"script": "..."}, or an array of
// either, and returns a flat ordered list of non-empty trimmed strings.
func normalizeScripts(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	}

	var entry scriptEntry
	if err := json.Unmarshal(raw, &entry); err == nil && entry.Script != "" {
		s := strings.TrimSpace(entry.Script)
		if s == "" {
			return nil, nil
		}
		return []string{s}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("scripts must be a string, object, or array: %w", err)
	}
	var out []string
	for _, item := range items {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			str = strings.TrimSpace(str)
			if str != "" {
				out = append(out, str)
			}
			continue
		}
		var e scriptEntry
		if err := json.Unmarshal(item, &e); err == nil {
			str := strings.TrimSpace(e.Script)
			if str != "" {
				out = append(out, str)
			}
		}
	}
	return out, nil
}
