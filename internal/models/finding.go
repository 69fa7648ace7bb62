package models

import (
	"fmt"
	"strings"
)

type FindingType string

const (
	FindingAutoRenewalShortNotice  FindingType = "auto_renewal_short_notice"
	FindingUnlimitedLiability      FindingType = "unlimited_liability"
	FindingBroadIndemnity          FindingType = "broad_indemnity"
	FindingUnilateralTermination   FindingType = "unilateral_termination"
	FindingUnfavorableJurisdiction FindingType = "unfavorable_jurisdiction"
	FindingAutomaticPriceIncrease  FindingType = "automatic_price_increase"
	FindingDataRetentionRisk       FindingType = "data_retention_risk"
	FindingIPTransfer              FindingType = "ip_transfer"
	FindingNonCompeteOverreach     FindingType = "non_compete_overreach"
	FindingForceMajeureImbalance   FindingType = "force_majeure_imbalance"
)

var findingTypes = []FindingType{
	FindingAutoRenewalShortNotice,
	FindingUnlimitedLiability,
	FindingBroadIndemnity,
	FindingUnilateralTermination,
	FindingUnfavorableJurisdiction,
	FindingAutomaticPriceIncrease,
	FindingDataRetentionRisk,
	FindingIPTransfer,
	FindingNonCompeteOverreach,
	FindingForceMajeureImbalance,
}

// AllFindingTypes returns the closed set of finding types in canonical order.
func AllFindingTypes() []FindingType {
	out := make([]FindingType, len(findingTypes))
	copy(out, findingTypes)
	return out
}

func ParseFindingType(s string) (FindingType, error) {
	norm := FindingType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, t := range findingTypes {
		if t == norm {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown finding type %q", s)
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityWeights = map[Severity]float64{
	SeverityLow:      1,
	SeverityMedium:   2.5,
	SeverityHigh:     5,
	SeverityCritical: 8,
}

func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := severityWeights[sev]; !ok {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// Weight is the contribution of one finding of this severity to the risk score.
func (s Severity) Weight() float64 {
	return severityWeights[s]
}

// Evidence is a span of the document text. Start and End are byte offsets;
// both are -1 when the text could not be located verbatim.
type Evidence struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Page  int    `json:"page,omitempty"`
}

type Finding struct {
	Type           FindingType `json:"finding_type"`
	Severity       Severity    `json:"severity"`
	Description    string      `json:"description"`
	Evidence       *Evidence   `json:"evidence"`
	Recommendation string      `json:"recommendation,omitempty"`
}

type AuditReport struct {
	DocumentID     string    `json:"document_id"`
	Findings       []Finding `json:"findings"`
	RiskScore      float64   `json:"risk_score"`
	Method         Method    `json:"method"`
	FallbackReason string    `json:"fallback_reason,omitempty"`
}
