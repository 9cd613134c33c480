// Package teams resolves which team owns a test.
package teams

import (
	"errors"
	"fmt"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

// TeamConfig describes one owning team
type TeamConfig struct {
	Name   string   `yaml:"name"`
	Emails []string `yaml:"emails,omitempty"`
	Paths  []string `yaml:"paths,omitempty"`  // Globs or prefixes matched against the test file
	Suites []string `yaml:"suites,omitempty"` // Exact suite titles
}

// Config represents the complete ownership configuration
type Config struct {
	Teams []TeamConfig `yaml:"teams"`
}

// Registry answers ownership queries for one run. It is safe for concurrent use.
// The configured teams are read-only; mu guards the contacts learned from
// owner annotations while inputs are ingested.
type Registry struct {
	teams []TeamConfig
	log   log.Logger

	mu      sync.RWMutex
	learned map[string][]string
}

// NewRegistry creates a registry from an already parsed config
func NewRegistry(cfg Config, logger log.Logger) (*Registry, error) {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid team config: %w", err)
	}
	r := &Registry{teams: cfg.Teams, log: logger, learned: make(map[string][]string)}
	logger.Debug("Team registry loaded", "len(teams)", len(cfg.Teams))
	return r, nil
}

// LoadRegistry reads a YAML ownership config. An empty path yields an empty registry.
func LoadRegistry(cfgPath string, logger log.Logger) (*Registry, error) {
	if cfgPath == "" {
		return NewRegistry(Config{}, logger)
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewRegistry(*cfg, logger)
}

func loadConfig(cfgPath string) (*Config, error) {
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

func validateConfig(cfg Config) error {
	seen := make(map[string]struct{}, len(cfg.Teams))
	for i, t := range cfg.Teams {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("team at index %d has no name", i)
		}
		if _, ok := seen[t.Name]; ok {
			return fmt.Errorf("duplicate team %q", t.Name)
		}
		seen[t.Name] = struct{}{}
		for _, p := range t.Paths {
			if _, err := path.Match(p, ""); err != nil {
				return errors.Join(fmt.Errorf("team %q has invalid path pattern %q", t.Name, p), err)
			}
		}
	}
	return nil
}

// Resolve returns the first team whose suites or paths match, or UnknownTeam
func (r *Registry) Resolve(file, suite string) string {
	file = path.Clean(strings.ReplaceAll(file, "\\", "/"))
	for _, t := range r.teams {
		for _, s := range t.Suites {
			if s == suite {
				return t.Name
			}
		}
		for _, p := range t.Paths {
			if matchPath(p, file) {
				return t.Name
			}
		}
	}
	return types.UnknownTeam
}

// Emails returns the contacts of a team. Configured emails win over the ones
// learned from annotations.
func (r *Registry) Emails(team string) []string {
	for _, t := range r.teams {
		if t.Name == team && len(t.Emails) > 0 {
			return t.Emails
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.learned[team])
}

// Learn records the contacts carried by a structured owner annotation.
// Every address is kept once, in first-seen order.
func (r *Registry) Learn(annotation Annotation) {
	if annotation.Kind != AnnotationStructured || len(annotation.Emails) == 0 {
		return
	}
	team := annotation.TeamName()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, email := range annotation.Emails {
		email = strings.TrimSpace(email)
		if email != "" && !slices.Contains(r.learned[team], email) {
			r.learned[team] = append(r.learned[team], email)
		}
	}
}

// Owner picks the team of a test: an explicit team wins, then the owner
// annotation, then the configured ownership rules.
func (r *Registry) Owner(explicit string, annotation Annotation, file, suite string) string {
	if name := strings.TrimSpace(explicit); name != "" {
		return name
	}
	if !annotation.IsAbsent() {
		return annotation.TeamName()
	}
	return r.Resolve(file, suite)
}

func matchPath(pattern, file string) bool {
	if ok, _ := path.Match(pattern, file); ok {
		return true
	}
	prefix := strings.TrimSuffix(pattern, "/")
	return !strings.ContainsAny(prefix, "*?[") && strings.HasPrefix(file, prefix+"/")
}
