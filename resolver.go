package serializer

import (
	"encoding/base64"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LabelKeyInfo is the key material used to encrypt one label group.
// It is recomputed per call and never mutated.
type LabelKeyInfo struct {
	NetworkPublicKey  []byte   // nil when the label has no network key
	ProfilePublicKeys [][]byte // empty unless the label uses CurrentUser
}

// LabelKeySpec configures one label.
type LabelKeySpec struct {
	NetworkPublicKey []byte
	UserKeySpec      UserKeySpec
}

// LabelResolverConfig maps label names to their key specs.
// It is supplied once and treated as read-only afterwards.
type LabelResolverConfig struct {
	Labels map[string]LabelKeySpec
}

// LabelResolver resolves labels to key material for one principal.
// Immutable after construction; safe to share across goroutines.
type LabelResolver struct {
	config      *LabelResolverConfig
	profileKeys [][]byte
}

// NewContextLabelResolver returns a resolver bound to a snapshot of the
// caller's profile public keys.
func NewContextLabelResolver(config *LabelResolverConfig, profileKeys [][]byte) *LabelResolver {
	if config == nil {
		config = &LabelResolverConfig{}
	}
	snapshot := make([][]byte, len(profileKeys))
	for i, key := range profileKeys {
		snapshot[i] = append([]byte(nil), key...)
	}
	return &LabelResolver{config: config, profileKeys: snapshot}
}

// ResolveLabelInfo returns the key material for label. The boolean is false
// when the label is not configured; that is an expected outcome, not an error.
func (r *LabelResolver) ResolveLabelInfo(label string) (LabelKeyInfo, bool) {
	spec, ok := r.config.Labels[label]
	if !ok {
		return LabelKeyInfo{}, false
	}

	var info LabelKeyInfo
	if len(spec.NetworkPublicKey) > 0 {
		info.NetworkPublicKey = spec.NetworkPublicKey
	}
	if spec.UserKeySpec == UserKeySpecCurrentUser {
		info.ProfilePublicKeys = r.profileKeys
	}
	return info, true
}

// AvailableLabels returns the configured label names in sorted order.
func (r *LabelResolver) AvailableLabels() []string {
	labels := make([]string, 0, len(r.config.Labels))
	for label := range r.config.Labels {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// ProfileKeys returns the resolver's profile-key snapshot.
func (r *LabelResolver) ProfileKeys() [][]byte {
	return r.profileKeys
}

// labelConfigFile is the YAML layout for label configuration.
type labelConfigFile struct {
	Labels map[string]struct {
		NetworkPublicKey string `yaml:"network_public_key"`
		UserKeySpec      string `yaml:"user_key_spec"`
	} `yaml:"labels"`
}

// base64Prefix marks a key given as base64 rather than a literal string.
const base64Prefix = "base64:"

// ParseLabelConfig reads a YAML label configuration:
//
//	labels:
//	  system:
//	    network_public_key: age1...
//	  user:
//	    user_key_spec: CurrentUser
//	  search:
//	    network_public_key: base64:AAEC...
func ParseLabelConfig(data []byte) (*LabelResolverConfig, error) {
	var file labelConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg := &LabelResolverConfig{Labels: make(map[string]LabelKeySpec, len(file.Labels))}
	for label, entry := range file.Labels {
		if label == "" {
			return nil, fmt.Errorf("%w: empty label name", ErrInvalidConfig)
		}
		spec := UserKeySpec(entry.UserKeySpec)
		if !IsValidUserKeySpec(spec) {
			return nil, fmt.Errorf("%w: label %q: unknown user_key_spec %q", ErrInvalidConfig, label, entry.UserKeySpec)
		}
		key, err := parseConfigKey(entry.NetworkPublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: label %q: %w", ErrInvalidConfig, label, err)
		}
		cfg.Labels[label] = LabelKeySpec{NetworkPublicKey: key, UserKeySpec: spec}
	}
	return cfg, nil
}

// LoadLabelConfig reads a YAML label configuration from path.
func LoadLabelConfig(path string) (*LabelResolverConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading label config: %w", err)
	}
	return ParseLabelConfig(data)
}

func parseConfigKey(value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	if encoded, ok := strings.CutPrefix(value, base64Prefix); ok {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decoding network_public_key: %w", err)
		}
		return key, nil
	}
	return []byte(value), nil
}
