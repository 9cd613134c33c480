// Package buildinfo merges externally supplied build and CI metadata into a run summary.
package buildinfo

import (
	"fmt"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

// Merge returns a new map holding base overlaid with every source in order.
// Later sources win on key conflicts. Inputs are never mutated.
func Merge(base map[string]any, sources ...map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	maps.Copy(out, base)
	for _, src := range sources {
		maps.Copy(out, src)
	}
	return out
}

// Apply sets the build info of summary to the merge of its current build info and sources
func Apply(summary *types.RunSummary, sources ...map[string]any) {
	summary.BuildInfo = Merge(summary.BuildInfo, sources...)
}

// LoadFile reads a flat key/value document. YAML is a superset of JSON so
// both formats are accepted.
func LoadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read build info file %s: %w", path, err)
	}

	info := make(map[string]any)
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse build info file %s: %w", path, err)
	}
	return info, nil
}

// FromPairs parses "key=value" pairs as given on the command line
func FromPairs(pairs []string) (map[string]any, error) {
	info := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid build info pair %q, expected key=value", pair)
		}
		info[key] = value
	}
	return info, nil
}
