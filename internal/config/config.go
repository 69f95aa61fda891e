// Package config provides configuration loading and management for the
// safety hub server: the set of safety sources, the user profile groups, and
// the coordination timeouts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/safetyhub/safetyhub-server/internal/report"
	"github.com/safetyhub/safetyhub-server/internal/usergroups"
)

const (
	// DefaultRefreshTimeout bounds how long a refresh episode waits for a
	// source to answer before the episode is closed with partial data.
	DefaultRefreshTimeout = 10 * time.Second

	// DefaultResolvingActionTimeout bounds how long an executed issue action
	// may stay in flight before it is unmarked and an error is surfaced.
	DefaultResolvingActionTimeout = 10 * time.Second

	// DefaultMaxTrackedTimeouts bounds the timeout registry. In practice
	// only one or two timeouts are in flight at a time.
	DefaultMaxTrackedTimeouts = 10
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// ServiceName identifies this hub instance in logs and metrics.
	// Defaults to "safetyhub" if not specified.
	ServiceName string `yaml:"serviceName,omitempty"`

	// Sources is the ordered list of safety sources. The order here is the
	// registration order used when building aggregate views.
	Sources []SourceConfig `yaml:"sources"`

	// Users defines the user profile groups.
	Users []UserConfig `yaml:"users"`

	// Timeouts configures the coordination deadlines.
	Timeouts TimeoutsConfig `yaml:"timeouts,omitempty"`
}

// SourceConfig declares a single safety source.
type SourceConfig struct {
	// ID is the identifier sources use when submitting data.
	ID string `yaml:"id"`

	// Package is the owner package; submissions for this source are only
	// accepted from this caller package.
	Package string `yaml:"package"`

	// Endpoint receives refresh requests and data-changed notices.
	Endpoint string `yaml:"endpoint"`

	// RefreshOnPageOpen opts the source into page-open refreshes; all
	// other refresh reasons target every source.
	RefreshOnPageOpen bool `yaml:"refreshOnPageOpen,omitempty"`

	// ManagedProfiles indicates the source also reports for managed
	// profile users, not just the primary user of a group.
	ManagedProfiles bool `yaml:"managedProfiles,omitempty"`
}

// UserConfig declares a primary user and its linked managed profiles.
type UserConfig struct {
	ID       string   `yaml:"id"`
	Profiles []string `yaml:"profiles,omitempty"`
}

// TimeoutsConfig holds the externally supplied coordination durations.
type TimeoutsConfig struct {
	// Refresh is how long a refresh waits for sources, e.g. "10s".
	Refresh string `yaml:"refresh,omitempty"`

	// ResolvingAction is how long an issue action may stay in flight.
	ResolvingAction string `yaml:"resolvingAction,omitempty"`

	// MaxTracked bounds the number of scheduled timeouts.
	MaxTracked int `yaml:"maxTracked,omitempty"`
}

// LoadConfig loads the configuration using the provided options
func LoadConfig(opts ...Option) (*Config, error) {
	lc := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(lc); err != nil {
			return nil, err
		}
	}
	if lc.path == "" {
		return nil, fmt.Errorf("no configuration source provided")
	}

	data, err := os.ReadFile(lc.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// GetServiceName returns the configured service name, or the default.
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return "safetyhub"
	}
	return c.ServiceName
}

func (c *Config) validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	seenSources := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		prefix := fmt.Sprintf("sources[%d]", i)
		if src.ID == "" {
			return fmt.Errorf("%s: id is required", prefix)
		}
		if seenSources[src.ID] {
			return fmt.Errorf("%s: duplicate source id %q", prefix, src.ID)
		}
		seenSources[src.ID] = true
		if src.Package == "" {
			return fmt.Errorf("%s: package is required", prefix)
		}
		if src.Endpoint == "" {
			return fmt.Errorf("%s: endpoint is required", prefix)
		}
	}

	if len(c.Users) == 0 {
		return fmt.Errorf("at least one user must be configured")
	}
	seenUsers := make(map[string]bool)
	for i, user := range c.Users {
		prefix := fmt.Sprintf("users[%d]", i)
		if user.ID == "" {
			return fmt.Errorf("%s: id is required", prefix)
		}
		if seenUsers[user.ID] {
			return fmt.Errorf("%s: duplicate user id %q", prefix, user.ID)
		}
		seenUsers[user.ID] = true
		for _, profile := range user.Profiles {
			if profile == "" {
				return fmt.Errorf("%s: profile ids must not be empty", prefix)
			}
			if seenUsers[profile] {
				return fmt.Errorf("%s: duplicate user id %q", prefix, profile)
			}
			seenUsers[profile] = true
		}
	}

	return c.Timeouts.validate()
}

func (t *TimeoutsConfig) validate() error {
	for name, value := range map[string]string{
		"timeouts.refresh":         t.Refresh,
		"timeouts.resolvingAction": t.ResolvingAction,
	} {
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", name, value, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s: duration must be positive", name)
		}
	}
	if t.MaxTracked < 0 {
		return fmt.Errorf("timeouts.maxTracked must not be negative")
	}
	return nil
}

// RefreshTimeout returns the configured refresh deadline, or the default.
func (c *Config) RefreshTimeout() time.Duration {
	return parseDurationOr(c.Timeouts.Refresh, DefaultRefreshTimeout)
}

// ResolvingActionTimeout returns the configured resolving action deadline,
// or the default.
func (c *Config) ResolvingActionTimeout() time.Duration {
	return parseDurationOr(c.Timeouts.ResolvingAction, DefaultResolvingActionTimeout)
}

// MaxTrackedTimeouts returns the timeout registry bound, or the default.
func (c *Config) MaxTrackedTimeouts() int {
	if c.Timeouts.MaxTracked > 0 {
		return c.Timeouts.MaxTracked
	}
	return DefaultMaxTrackedTimeouts
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// SourceByID returns the source configuration with the given id, or nil.
func (c *Config) SourceByID(sourceID string) *SourceConfig {
	for i := range c.Sources {
		if c.Sources[i].ID == sourceID {
			return &c.Sources[i]
		}
	}
	return nil
}

// SourceOrder returns the registration index of a source id, used when
// ordering aggregate views. Unknown sources sort last.
func (c *Config) SourceOrder(sourceID string) int {
	for i := range c.Sources {
		if c.Sources[i].ID == sourceID {
			return i
		}
	}
	return len(c.Sources)
}

// ProfileGroups returns the primary-user to managed-profiles mapping used to
// build the group resolver.
func (c *Config) ProfileGroups() map[string][]string {
	groups := make(map[string][]string, len(c.Users))
	for _, user := range c.Users {
		groups[user.ID] = user.Profiles
	}
	return groups
}

// ViewSlots returns every (source, user) pair visible to the group, in
// registration order with the primary user ahead of managed profiles. This
// is the slot ordering aggregate views are built in.
func (c *Config) ViewSlots(group usergroups.UserProfileGroup) []report.SourceKey {
	var slots []report.SourceKey
	for i := range c.Sources {
		src := &c.Sources[i]
		slots = append(slots, report.SourceKey{SourceID: src.ID, UserID: group.PrimaryUserID})
		if src.ManagedProfiles {
			for _, profile := range group.ManagedProfileUserIDs {
				slots = append(slots, report.SourceKey{SourceID: src.ID, UserID: profile})
			}
		}
	}
	return slots
}

// RefreshTargets computes the (source, user) pairs a refresh with the given
// reason fans out to within a profile group. Page-open refreshes only reach
// sources that opted in; every other reason reaches all sources. Sources
// without managed profile support only get an entry for the primary user.
func (c *Config) RefreshTargets(
	reason report.RefreshReason, group usergroups.UserProfileGroup,
) []report.SourceKey {
	var targets []report.SourceKey
	for i := range c.Sources {
		src := &c.Sources[i]
		if reason == report.ReasonPageOpen && !src.RefreshOnPageOpen {
			continue
		}
		targets = append(targets, report.SourceKey{SourceID: src.ID, UserID: group.PrimaryUserID})
		if src.ManagedProfiles {
			for _, profile := range group.ManagedProfileUserIDs {
				targets = append(targets, report.SourceKey{SourceID: src.ID, UserID: profile})
			}
		}
	}
	return targets
}
