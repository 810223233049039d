package models

import (
	"strings"
	"time"
)

type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ParseRiskLevel normalizes a model-supplied risk level. Empty and "none" map to RiskNone.
func ParseRiskLevel(s string) (RiskLevel, bool) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case "", RiskNone, "null":
		return RiskNone, true
	case RiskLow:
		return RiskLow, true
	case RiskMedium:
		return RiskMedium, true
	case RiskHigh:
		return RiskHigh, true
	case RiskCritical:
		return RiskCritical, true
	}
	return "", false
}

type Replaceability string

const (
	Replaceable              Replaceability = "replaceable"
	ConditionallyReplaceable Replaceability = "conditionally_replaceable"
	NonReplaceable           Replaceability = "non_replaceable"
)

func ParseReplaceability(s string) Replaceability {
	switch Replaceability(strings.ToLower(strings.TrimSpace(s))) {
	case Replaceable:
		return Replaceable
	case ConditionallyReplaceable:
		return ConditionallyReplaceable
	}
	return NonReplaceable
}

// AnalysisStage records how far the pipeline got for one block.
type AnalysisStage string

const (
	StageDetected   AnalysisStage = "detected"
	StageRemediated AnalysisStage = "remediated"
	StageVerified   AnalysisStage = "verified"
)

type Analysis struct {
	ID          uint          `gorm:"primaryKey" json:"id"`
	CodeBlockID uint          `gorm:"not null;uniqueIndex" json:"code_block_id"`
	SessionID   string        `gorm:"size:36;not null;index" json:"session_id"`
	Stage       AnalysisStage `gorm:"size:16;not null" json:"-"`

	VulnerabilityType        string         `gorm:"size:255" json:"vulnerability_type"`
	CWEID                    string         `gorm:"column:cwe_id;size:32" json:"cwe_id"`
	OWASPCategory            string         `gorm:"column:owasp_category;size:128" json:"owasp_category"`
	RiskLevel                RiskLevel      `gorm:"size:16;not null" json:"risk_level"`
	ConfidenceScore          float64        `json:"confidence_score"`
	VulnerabilityDescription string         `gorm:"type:text" json:"vulnerability_description"`
	ExploitationScenario     string         `gorm:"type:text" json:"exploitation_scenario"`
	LineNumbers              []int          `gorm:"serializer:json" json:"line_numbers"`
	Replaceability           Replaceability `gorm:"size:32" json:"replaceability"`

	SuggestedReplacement   *string `gorm:"type:text" json:"suggested_replacement"`
	RemediationExplanation string  `gorm:"type:text" json:"remediation_explanation"`
	CompatibilityNotes     string  `gorm:"type:text" json:"compatibility_notes"`

	VerificationPassed *bool    `json:"verification_passed"`
	VerificationResult string   `gorm:"type:text" json:"verification_result"`
	NewIssues          []string `gorm:"serializer:json" json:"new_issues"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasVulnerability reports whether detection flagged the block.
func (a *Analysis) HasVulnerability() bool {
	t := strings.TrimSpace(a.VulnerabilityType)
	return t != "" && !strings.EqualFold(t, "none") && strings.TrimSpace(a.VulnerabilityDescription) != ""
}

// DiffView is the rendered difference between a block and its suggested replacement.
type DiffView struct {
	Unified       string `json:"unified"`
	LinesAdded    int    `json:"lines_added"`
	LinesRemoved  int    `json:"lines_removed"`
	LinesModified int    `json:"lines_modified"`
}

type AnalysisDetail struct {
	Analysis
	BlockIndex int       `json:"block_index"`
	Diff       *DiffView `json:"diff,omitempty"`
}
