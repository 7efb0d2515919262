package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// ProfileService is the keyring service holding named profiles.
const ProfileService = "stackpilot-profile"

// Profile holds the control plane credentials stored under a profile name.
type Profile struct {
	Name            string `json:"-"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token,omitempty"`
	Region          string `json:"region,omitempty"`
}

// LoadProfile reads the named profile from the keyring. An empty name means
// no profile was requested and returns nil.
func LoadProfile(name string) (*Profile, error) {
	if name == "" {
		return nil, nil
	}

	secret, err := keyring.Get(ProfileService, name)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, engine.NewCredentialsError(fmt.Sprintf("profile %q not found in keyring", name), err).
			WithResource(name)
	}
	if err != nil {
		return nil, engine.NewCredentialsError("failed to read profile from keyring", err).WithResource(name)
	}

	var p Profile
	if err := json.Unmarshal([]byte(secret), &p); err != nil {
		return nil, engine.NewCredentialsError("profile is not valid JSON", err).WithResource(name)
	}
	if p.AccessKeyID == "" || p.SecretAccessKey == "" {
		return nil, engine.NewCredentialsError("profile is missing access_key_id or secret_access_key", nil).
			WithResource(name)
	}
	p.Name = name
	return &p, nil
}

// SaveProfile stores p in the keyring under p.Name.
func SaveProfile(p *Profile) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	if err := keyring.Set(ProfileService, p.Name, string(data)); err != nil {
		return fmt.Errorf("failed to store profile: %w", err)
	}
	return nil
}

// DeleteProfile removes the named profile.
func DeleteProfile(name string) error {
	if err := keyring.Delete(ProfileService, name); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// CustomJSON returns flag when set, else the STACKPILOT_CUSTOM_JSON variable
// as read through lookup.
func CustomJSON(flag string, lookup func(string) (string, bool)) string {
	if flag != "" {
		return flag
	}
	if v, ok := lookup(EnvCustomJSON); ok {
		return v
	}
	return ""
}
