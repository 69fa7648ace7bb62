package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xhad/contractiq/internal/models"
	"github.com/xhad/contractiq/internal/types"
	"github.com/xhad/contractiq/pkg/fields"
)

const systemPrompt = "You are a contract risk analyzer. Return only valid JSON."

const auditPrompt = `Analyze the provided contract text and identify risky clauses.

Focus on detecting these risk types:
%s
For each finding, return JSON with:
- finding_type: Type of risk from the list above
- description: Clear description of the risk
- severity: "low", "medium", "high", or "critical"
- evidence_text: Exact text from contract showing the risk (max 200 chars)
- recommendation: Suggestion to mitigate the risk

Return JSON with a "findings" array. Return an empty array if no risks are found.

Contract text:
`

var riskDescriptions = map[models.FindingType]string{
	models.FindingAutoRenewalShortNotice:  "Auto-renewal with less than %d days notice",
	models.FindingUnlimitedLiability:      "No liability cap or unlimited liability exposure",
	models.FindingBroadIndemnity:          "Overly broad indemnification obligations",
	models.FindingUnilateralTermination:   "One-sided termination rights",
	models.FindingUnfavorableJurisdiction: "Jurisdiction clause favoring the other party",
	models.FindingAutomaticPriceIncrease:  "Automatic price increases without caps",
	models.FindingDataRetentionRisk:       "Unclear or excessive data retention",
	models.FindingIPTransfer:              "Intellectual property transfer or assignment clauses",
	models.FindingNonCompeteOverreach:     "Overly restrictive non-compete clauses",
	models.FindingForceMajeureImbalance:   "One-sided force majeure protections",
}

// buildAuditPrompt numbers every finding type the parser accepts, so the
// prompt and ParseModelFindings share one closed set.
func buildAuditPrompt(cfg AuditorConfig) string {
	var list strings.Builder
	for i, t := range models.AllFindingTypes() {
		desc := riskDescriptions[t]
		if t == models.FindingAutoRenewalShortNotice {
			desc = fmt.Sprintf(desc, cfg.NoticeThresholdDays)
		}
		if desc == "" {
			desc = strings.ReplaceAll(string(t), "_", " ")
		}
		fmt.Fprintf(&list, "%d. %s: %s\n", i+1, t, desc)
	}
	return fmt.Sprintf(auditPrompt, list.String())
}

type modelFinding struct {
	Type           string `json:"finding_type"`
	Description    string `json:"description"`
	Severity       string `json:"severity"`
	EvidenceText   string `json:"evidence_text"`
	Recommendation string `json:"recommendation"`
}

func auditWithModel(ctx context.Context, gen types.Generator, text string, cfg AuditorConfig, log *slog.Logger) ([]models.Finding, error) {
	prompt := buildAuditPrompt(cfg) + "\n" + fields.Truncate(text, cfg.MaxInputChars)
	raw, err := gen.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return ParseModelFindings(raw, text, log)
}

// ParseModelFindings decodes a {"findings": [...]} reply. Entries whose
// type or severity fall outside the closed sets are logged and dropped.
// Evidence is located in text so offsets can be reported; evidence that
// cannot be found verbatim keeps offsets of -1.
func ParseModelFindings(raw, text string, log *slog.Logger) ([]models.Finding, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	body := fields.ExtractJSON(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: no JSON object", fields.ErrMalformedOutput)
	}
	var out struct {
		Findings []json.RawMessage `json:"findings"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", fields.ErrMalformedOutput, err)
	}

	findings := make([]models.Finding, 0, len(out.Findings))
	for i, item := range out.Findings {
		var mf modelFinding
		if err := json.Unmarshal(item, &mf); err != nil {
			log.Warn("dropping unparseable finding", "index", i, "error", err)
			continue
		}
		typ, err := models.ParseFindingType(mf.Type)
		if err != nil {
			log.Warn("dropping unparseable finding", "index", i, "error", err)
			continue
		}
		sev, err := models.ParseSeverity(mf.Severity)
		if err != nil {
			log.Warn("dropping unparseable finding", "index", i, "error", err)
			continue
		}
		f := models.Finding{
			Type:           typ,
			Severity:       sev,
			Description:    strings.TrimSpace(mf.Description),
			Recommendation: strings.TrimSpace(mf.Recommendation),
		}
		if f.Description == "" {
			f.Description = "Flagged as " + strings.ReplaceAll(string(typ), "_", " ") + "."
		}
		if ev := strings.TrimSpace(mf.EvidenceText); ev != "" {
			f.Evidence = locate(text, ev)
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func locate(text, ev string) *models.Evidence {
	if i := strings.Index(text, ev); i >= 0 {
		return evidenceAt(text, i, i+len(ev))
	}
	return &models.Evidence{Text: ev, Start: -1, End: -1}
}
