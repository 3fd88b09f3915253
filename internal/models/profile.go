// -----------------------------------------------------------------------
// Candidate Profile - What listings are matched against
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"strings"
)

// ProfileSkill is one skill with the candidate's depth in it.
type ProfileSkill struct {
	Name  string  `json:"name" yaml:"name"`
	Years float64 `json:"years" yaml:"years"`
	Level string  `json:"level,omitempty" yaml:"level,omitempty"`
}

// CandidateProfile describes the person the pipeline is matching for. It is
// seeded from a YAML document on first boot and editable through the config
// surface afterwards.
type CandidateProfile struct {
	Name          string         `json:"name" yaml:"name"`
	Summary       string         `json:"summary,omitempty" yaml:"summary,omitempty"`
	Skills        []ProfileSkill `json:"skills" yaml:"skills"`
	Titles        []string       `json:"titles,omitempty" yaml:"titles,omitempty"`
	Locations     []string       `json:"locations,omitempty" yaml:"locations,omitempty"`
	RemoteOK      bool           `json:"remote_ok" yaml:"remote_ok"`
	MinSalary     int            `json:"min_salary,omitempty" yaml:"min_salary,omitempty"`
	YearsTotal    float64        `json:"years_total,omitempty" yaml:"years_total,omitempty"`
	Preferences   []string       `json:"preferences,omitempty" yaml:"preferences,omitempty"`
	DealBreakers  []string       `json:"deal_breakers,omitempty" yaml:"deal_breakers,omitempty"`
	ResumeSummary string         `json:"resume_summary,omitempty" yaml:"resume_summary,omitempty"`
}

// Validate checks the profile is usable for matching.
func (p *CandidateProfile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if len(p.Skills) == 0 {
		return fmt.Errorf("profile requires at least one skill")
	}
	return nil
}

// SkillYears returns the candidate's years in a skill (case-insensitive),
// zero if absent.
func (p *CandidateProfile) SkillYears(name string) float64 {
	lowered := strings.ToLower(name)
	for _, s := range p.Skills {
		if strings.ToLower(s.Name) == lowered {
			return s.Years
		}
	}
	return 0
}

// HasSkill reports whether the candidate lists a skill.
func (p *CandidateProfile) HasSkill(name string) bool {
	lowered := strings.ToLower(name)
	for _, s := range p.Skills {
		if strings.ToLower(s.Name) == lowered {
			return true
		}
	}
	return false
}

// Reduced renders the compact profile block embedded in analyzer prompts.
// Keeping it short bounds token cost per analysis.
func (p *CandidateProfile) Reduced() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Candidate: %s\n", p.Name)
	if p.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", p.Summary)
	}
	if p.YearsTotal > 0 {
		fmt.Fprintf(&b, "Total experience: %.1f years\n", p.YearsTotal)
	}
	if len(p.Skills) > 0 {
		b.WriteString("Skills:\n")
		for _, s := range p.Skills {
			if s.Level != "" {
				fmt.Fprintf(&b, "- %s (%.1f years, %s)\n", s.Name, s.Years, s.Level)
			} else {
				fmt.Fprintf(&b, "- %s (%.1f years)\n", s.Name, s.Years)
			}
		}
	}
	if len(p.Titles) > 0 {
		fmt.Fprintf(&b, "Target titles: %s\n", strings.Join(p.Titles, ", "))
	}
	if len(p.Locations) > 0 {
		fmt.Fprintf(&b, "Locations: %s (remote ok: %t)\n", strings.Join(p.Locations, ", "), p.RemoteOK)
	}
	if p.MinSalary > 0 {
		fmt.Fprintf(&b, "Minimum salary: %d\n", p.MinSalary)
	}
	if len(p.Preferences) > 0 {
		fmt.Fprintf(&b, "Preferences: %s\n", strings.Join(p.Preferences, "; "))
	}
	if len(p.DealBreakers) > 0 {
		fmt.Fprintf(&b, "Deal breakers: %s\n", strings.Join(p.DealBreakers, "; "))
	}
	return b.String()
}
