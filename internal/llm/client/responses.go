package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"rustsentry/internal/models"
)

// Findings is the validated result of the detect stage.
type Findings struct {
	VulnerabilityType        string
	CWEID                    string
	OWASPCategory            string
	RiskLevel                models.RiskLevel
	ConfidenceScore          float64
	VulnerabilityDescription string
	ExploitationScenario     string
	LineNumbers              []int
	Replaceability           models.Replaceability
	Raw                      string
}

// Vulnerable reports whether detection flagged something worth remediating.
func (f *Findings) Vulnerable() bool {
	t := strings.TrimSpace(f.VulnerabilityType)
	return t != "" && !strings.EqualFold(t, "none") && strings.TrimSpace(f.VulnerabilityDescription) != ""
}

// Fix is the validated result of the remediate stage.
type Fix struct {
	FixedCode          string
	Explanation        string
	CompatibilityNotes string
	Raw                string
}

// Verification is the validated result of the verify stage.
type Verification struct {
	Passed      bool
	Explanation string
	NewIssues   []string
	Raw         string
}

type detectResponse struct {
	Refusal                  *string  `json:"refusal"`
	VulnerabilityType        *string  `json:"vulnerability_type"`
	CWEID                    *string  `json:"cwe_id"`
	OWASPCategory            *string  `json:"owasp_category"`
	RiskLevel                *string  `json:"risk_level"`
	ConfidenceScore          *float64 `json:"confidence_score"`
	VulnerabilityDescription *string  `json:"vulnerability_description"`
	ExploitationScenario     *string  `json:"exploitation_scenario"`
	LineNumbers              []int    `json:"line_numbers"`
	Replaceability           *string  `json:"replaceability"`
}

type remediateResponse struct {
	Refusal            *string `json:"refusal"`
	FixedCode          *string `json:"fixed_code"`
	Explanation        *string `json:"explanation"`
	CompatibilityNotes *string `json:"compatibility_notes"`
}

type verifyResponse struct {
	Refusal                 *string  `json:"refusal"`
	VerificationPassed      *bool    `json:"verification_passed"`
	VerificationExplanation *string  `json:"verification_explanation"`
	NewIssues               []string `json:"new_issues"`
}

// cleanJSON strips markdown fences and surrounding prose from a completion.
func cleanJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}

func decode(stage Stage, content string, v any) error {
	cleaned := cleanJSON(content)
	if cleaned == "" {
		return &MalformedResponseError{Stage: stage, Reason: "empty response", Raw: content}
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return &MalformedResponseError{Stage: stage, Reason: err.Error(), Raw: content}
	}
	return nil
}

func refused(stage Stage, refusal *string) error {
	if refusal != nil && strings.TrimSpace(*refusal) != "" {
		return &RefusalError{Stage: stage, Reason: strings.TrimSpace(*refusal)}
	}
	return nil
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func ParseFindings(content string) (*Findings, error) {
	var r detectResponse
	if err := decode(StageDetect, content, &r); err != nil {
		return nil, err
	}
	if err := refused(StageDetect, r.Refusal); err != nil {
		return nil, err
	}
	malformed := func(format string, args ...any) error {
		return &MalformedResponseError{Stage: StageDetect, Reason: fmt.Sprintf(format, args...), Raw: content}
	}

	if r.VulnerabilityType == nil {
		return nil, malformed("missing vulnerability_type")
	}
	if r.ConfidenceScore == nil {
		return nil, malformed("missing confidence_score")
	}
	if *r.ConfidenceScore < 0 || *r.ConfidenceScore > 1 {
		return nil, malformed("confidence_score %v outside [0,1]", *r.ConfidenceScore)
	}
	risk, ok := models.ParseRiskLevel(str(r.RiskLevel))
	if !ok {
		return nil, malformed("unknown risk_level %q", str(r.RiskLevel))
	}

	f := &Findings{
		VulnerabilityType:        str(r.VulnerabilityType),
		CWEID:                    str(r.CWEID),
		OWASPCategory:            str(r.OWASPCategory),
		RiskLevel:                risk,
		ConfidenceScore:          *r.ConfidenceScore,
		VulnerabilityDescription: str(r.VulnerabilityDescription),
		ExploitationScenario:     str(r.ExploitationScenario),
		LineNumbers:              r.LineNumbers,
		Replaceability:           models.ParseReplaceability(str(r.Replaceability)),
		Raw:                      content,
	}
	if f.Vulnerable() && f.RiskLevel == models.RiskNone {
		return nil, malformed("vulnerability reported without risk_level")
	}
	if !f.Vulnerable() {
		f.RiskLevel = models.RiskNone
	}
	return f, nil
}

func ParseFix(content string) (*Fix, error) {
	var r remediateResponse
	if err := decode(StageRemediate, content, &r); err != nil {
		return nil, err
	}
	if err := refused(StageRemediate, r.Refusal); err != nil {
		return nil, err
	}
	if r.FixedCode == nil || strings.TrimSpace(*r.FixedCode) == "" {
		return nil, &MalformedResponseError{Stage: StageRemediate, Reason: "missing fixed_code", Raw: content}
	}
	return &Fix{
		// keep the model's indentation
		FixedCode:          *r.FixedCode,
		Explanation:        str(r.Explanation),
		CompatibilityNotes: str(r.CompatibilityNotes),
		Raw:                content,
	}, nil
}

func ParseVerification(content string) (*Verification, error) {
	var r verifyResponse
	if err := decode(StageVerify, content, &r); err != nil {
		return nil, err
	}
	if err := refused(StageVerify, r.Refusal); err != nil {
		return nil, err
	}
	if r.VerificationPassed == nil {
		return nil, &MalformedResponseError{Stage: StageVerify, Reason: "missing verification_passed", Raw: content}
	}
	issues := make([]string, 0, len(r.NewIssues))
	for _, issue := range r.NewIssues {
		if s := strings.TrimSpace(issue); s != "" {
			issues = append(issues, s)
		}
	}
	return &Verification{
		Passed:      *r.VerificationPassed,
		Explanation: str(r.VerificationExplanation),
		NewIssues:   issues,
		Raw:         content,
	}, nil
}
