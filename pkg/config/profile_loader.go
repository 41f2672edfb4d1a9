package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// RegionalProfile is an optional, file-based overlay for operators who need
// more than the environment-variable Config: per-deployment networking and
// crypto/retention policy. Nothing in the three cores requires one — every
// constructor still takes the plain Config struct.
type RegionalProfile struct {
	Name         string             `yaml:"name" json:"name"`
	Code         string             `yaml:"code" json:"code"`
	DataResidency string            `yaml:"data_residency" json:"data_residency"`
	Compliance   []string           `yaml:"compliance" json:"compliance"`
	Networking   NetworkingConfig   `yaml:"networking" json:"networking"`
	CryptoPolicy CryptoPolicyConfig `yaml:"crypto_policy" json:"crypto_policy"`
	Retention    RetentionConfig    `yaml:"retention" json:"retention"`
}

// NetworkingConfig controls which downstream hosts the ingestor/validator
// subsystems may call out to (threat-intel feeds, injector APIs).
type NetworkingConfig struct {
	OutboundMode string   `yaml:"outbound_mode" json:"outbound_mode"` // "allowlist" | "denylist" | "island"
	Allowlist    []string `yaml:"allowlist,omitempty" json:"allowlist,omitempty"`
	Denylist     []string `yaml:"denylist,omitempty" json:"denylist,omitempty"`
	IslandMode   bool     `yaml:"island_mode" json:"island_mode"`
}

// CryptoPolicyConfig constrains key rotation for the Crypto Kernel.
type CryptoPolicyConfig struct {
	KeyRotationDays int  `yaml:"key_rotation_days" json:"key_rotation_days"`
	RequireHSM      bool `yaml:"require_hsm,omitempty" json:"require_hsm,omitempty"`
}

// RetentionConfig defines data retention for the audit ledger and
// artifact archive. The loaders apply no default: a field the profile
// omits stays zero.
type RetentionConfig struct {
	ArchiveMaxDays int `yaml:"archive_max_days" json:"archive_max_days"`
	AuditLogDays   int `yaml:"audit_log_days" json:"audit_log_days"`
}

// LoadProfile loads a regional profile YAML by jurisdiction code, searching
// profilesDir for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*RegionalProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile RegionalProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}

	if profile.Code == "" {
		profile.Code = code
	}
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml file from profilesDir.
func LoadAllProfiles(profilesDir string) (map[string]*RegionalProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*RegionalProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile RegionalProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Code] = &profile
	}
	return profiles, nil
}

// IsIslandMode reports whether the profile blocks all outbound networking —
// used by the threat-intel ingestor and global validator's injector client.
func (p *RegionalProfile) IsIslandMode() bool {
	return p.Networking.IslandMode || p.Networking.OutboundMode == "island"
}

// IsAllowed reports whether hostname may be contacted under this profile's
// outbound policy.
func (p *RegionalProfile) IsAllowed(hostname string) bool {
	if p.IsIslandMode() {
		return false
	}
	switch p.Networking.OutboundMode {
	case "allowlist":
		for _, h := range p.Networking.Allowlist {
			if h == hostname {
				return true
			}
		}
		return false
	case "denylist":
		for _, h := range p.Networking.Denylist {
			if h == hostname {
				return false
			}
		}
		return true
	default:
		return true
	}
}
