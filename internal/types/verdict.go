package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Tool is a target sales-engagement platform, or ToolNone.
type Tool string

// Tool values
const (
	ToolOutreach  Tool = "Outreach.io"
	ToolSalesLoft Tool = "SalesLoft"
	ToolBoth      Tool = "Both"
	ToolNone      Tool = "none"
)

// Includes reports whether t covers the single tool other.
func (t Tool) Includes(other Tool) bool {
	return t == other || (t == ToolBoth && (other == ToolOutreach || other == ToolSalesLoft))
}

// SignalType describes how strongly a posting indicates tool usage.
type SignalType string

// SignalType values
const (
	SignalRequired     SignalType = "required"
	SignalPreferred    SignalType = "preferred"
	SignalStackMention SignalType = "stack_mention"
	SignalNone         SignalType = "none"
)

// MaxContextLength caps the verbatim quote kept from a description.
const MaxContextLength = 200

// AnalysisVerdict is the structured LLM output for one JobPosting.
type AnalysisVerdict struct {
	UsesTool     bool       `json:"uses_tool"`
	ToolDetected Tool       `json:"tool_detected" validate:"required,oneof=Outreach.io SalesLoft Both none"`
	SignalType   SignalType `json:"signal_type" validate:"required,oneof=required preferred stack_mention none"`
	Context      string     `json:"context,omitempty"`
}

// Validate checks enum membership and the uses_tool/tool_detected invariant.
func (v *AnalysisVerdict) Validate() error {
	validate := validator.New()
	if err := validate.Struct(v); err != nil {
		return err
	}
	if v.UsesTool != (v.ToolDetected != ToolNone) {
		return fmt.Errorf("uses_tool=%t contradicts tool_detected=%q", v.UsesTool, v.ToolDetected)
	}
	return nil
}

// NegativeVerdict is the valid "no tool mentioned" result.
func NegativeVerdict() AnalysisVerdict {
	return AnalysisVerdict{UsesTool: false, ToolDetected: ToolNone, SignalType: SignalNone}
}

// IdentifiedCompany is a company confirmed by a posting to use a target tool.
type IdentifiedCompany struct {
	CompanyName  string     `json:"company_name"`
	ToolDetected Tool       `json:"tool_detected"`
	SignalType   SignalType `json:"signal_type"`
	Context      string     `json:"context,omitempty"`
	JobTitle     string     `json:"job_title"`
	JobURL       string     `json:"job_url"`
	Platform     Platform   `json:"platform"`
	IdentifiedAt time.Time  `json:"identified_at"`
}

// CompanyKey returns the normalized uniqueness key for the company name.
func (c IdentifiedCompany) CompanyKey() string {
	return NormalizeCompanyName(c.CompanyName)
}

// NewIdentifiedCompany derives the record for a positive verdict.
func NewIdentifiedCompany(p JobPosting, v AnalysisVerdict, at time.Time) IdentifiedCompany {
	return IdentifiedCompany{
		CompanyName:  p.Company,
		ToolDetected: v.ToolDetected,
		SignalType:   v.SignalType,
		Context:      v.Context,
		JobTitle:     p.JobTitle,
		JobURL:       p.JobURL,
		Platform:     p.Platform,
		IdentifiedAt: at,
	}
}
