package profile_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/MrWong99/neurolink/internal/profile"
)

func TestNew_AppliesBaselines(t *testing.T) {
	t.Parallel()
	p := profile.New("Ada", 29, "Mathematics", []string{"Logic"}, []string{"Deep work"})

	if p.Tier != profile.TierFree {
		t.Errorf("tier = %q, want FREE", p.Tier)
	}
	if p.CognitiveScore != 8.5 || p.ProductivityLevel != 6.0 || p.IQBaseline != 110 {
		t.Errorf("baselines = %.1f/%.1f/%d, want 8.5/6.0/110", p.CognitiveScore, p.ProductivityLevel, p.IQBaseline)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("new profile should validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*profile.Profile)
		wantErr string
	}{
		{name: "valid", mutate: func(*profile.Profile) {}},
		{name: "premium", mutate: func(p *profile.Profile) { p.Tier = profile.TierPremium }},
		{name: "blank name", mutate: func(p *profile.Profile) { p.Name = "  " }, wantErr: "name is required"},
		{name: "zero age", mutate: func(p *profile.Profile) { p.Age = 0 }, wantErr: "age 0"},
		{name: "bad tier", mutate: func(p *profile.Profile) { p.Tier = "GOLD" }, wantErr: `tier "GOLD"`},
		{name: "productivity range", mutate: func(p *profile.Profile) { p.ProductivityLevel = 11 }, wantErr: "productivityLevel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := profile.New("Ada", 29, "Mathematics", nil, nil)
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestCanUseLiveAudio(t *testing.T) {
	t.Parallel()
	var nilProfile *profile.Profile
	if nilProfile.CanUseLiveAudio() {
		t.Error("nil profile must not use live audio")
	}
	p := profile.New("Ada", 29, "", nil, nil)
	if p.CanUseLiveAudio() {
		t.Error("FREE profile must not use live audio")
	}
	p.Tier = profile.TierPremium
	if !p.CanUseLiveAudio() {
		t.Error("PREMIUM profile should use live audio")
	}
}

func TestProfile_JSONFieldNames(t *testing.T) {
	t.Parallel()
	data, err := json.Marshal(profile.New("Ada", 29, "Maths", []string{"Logic"}, []string{"Focus"}))
	if err != nil {
		t.Fatal(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{
		"name", "age", "course", "strengthAreas", "focusGoals",
		"cognitiveScore", "productivityLevel", "iqBaseline", "tier",
	} {
		if _, ok := fields[key]; !ok {
			t.Errorf("JSON is missing field %q: %s", key, data)
		}
	}
}
