// Package profile persists the single local user profile.
//
// The profile lives under one key, [Key], as a JSON document in a small
// key/value table. [SQLiteStore] is the default backend; [PostgresStore]
// serves the same table from PostgreSQL for shared setups. Use [Open] to pick
// the backend from configuration.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Key is the storage key of the profile document.
const Key = "neuro_profile"

// ErrNotFound is returned by [Store.Load] when no profile has been saved.
var ErrNotFound = errors.New("profile: not found")

// Tier is the membership tier.
type Tier string

const (
	TierFree    Tier = "FREE"
	TierPremium Tier = "PREMIUM"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPremium
}

// Onboarding baselines assigned to a freshly created profile.
const (
	BaselineCognitiveScore    = 8.5
	BaselineProductivityLevel = 6.0
	BaselineIQ                = 110
)

// Profile is the persisted user profile. The JSON field names are the
// on-disk format and must stay stable.
type Profile struct {
	Name              string   `json:"name"`
	Age               int      `json:"age"`
	Course            string   `json:"course"`
	StrengthAreas     []string `json:"strengthAreas"`
	FocusGoals        []string `json:"focusGoals"`
	CognitiveScore    float64  `json:"cognitiveScore"`
	ProductivityLevel float64  `json:"productivityLevel"`
	IQBaseline        int      `json:"iqBaseline"`
	Tier              Tier     `json:"tier"`
}

// New returns a FREE profile with the onboarding baselines applied.
func New(name string, age int, course string, strengths, goals []string) *Profile {
	return &Profile{
		Name:              name,
		Age:               age,
		Course:            course,
		StrengthAreas:     strengths,
		FocusGoals:        goals,
		CognitiveScore:    BaselineCognitiveScore,
		ProductivityLevel: BaselineProductivityLevel,
		IQBaseline:        BaselineIQ,
		Tier:              TierFree,
	}
}

// Validate checks the fields a profile must carry.
func (p *Profile) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if p.Age <= 0 {
		errs = append(errs, fmt.Errorf("age %d must be positive", p.Age))
	}
	if !p.Tier.Valid() {
		errs = append(errs, fmt.Errorf("tier %q is invalid; valid values: FREE, PREMIUM", p.Tier))
	}
	if p.ProductivityLevel < 0 || p.ProductivityLevel > 10 {
		errs = append(errs, fmt.Errorf("productivityLevel %.1f is out of range [0, 10]", p.ProductivityLevel))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("profile: invalid: %w", err)
	}
	return nil
}

// CanUseLiveAudio reports whether the profile may open a live audio session.
// Live audio is a PREMIUM feature.
func (p *Profile) CanUseLiveAudio() bool {
	return p != nil && p.Tier == TierPremium
}

// Store persists the profile document.
type Store interface {
	// Load returns the saved profile or [ErrNotFound].
	Load(ctx context.Context) (*Profile, error)

	// Save validates p and replaces the saved profile.
	Save(ctx context.Context, p *Profile) error

	// Erase deletes the saved profile. Erasing a missing profile is not an error.
	Erase(ctx context.Context) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

func encode(p *Profile) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("profile: encode: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile: decode %s: %w", Key, err)
	}
	if p.Tier == "" {
		p.Tier = TierFree
	}
	return &p, nil
}
