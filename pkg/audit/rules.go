package audit

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xhad/contractiq/internal/models"
	"github.com/xhad/contractiq/pkg/fields"
)

// detector inspects the whole text and returns at most one finding.
type detector func(text string, cfg AuditorConfig) *models.Finding

// detectors run in this order; the order is part of the output contract.
var detectors = []detector{
	detectAutoRenewal,
	detectUnlimitedLiability,
	detectBroadIndemnity,
	detectUnilateralTermination,
	detectPriceIncrease,
}

var (
	renewalClause = regexp.MustCompile(`(?i)\b(?:automatic(?:ally)?\s+renew\w*|renew\w*\s+automatic(?:ally)?|auto-?renew\w*)`)
	noticePeriod  = regexp.MustCompile(`(?i)\b(\d+|one|two|three|four|five|six|seven|eight|nine|ten|fourteen|fifteen|twenty|thirty|forty-five|forty|sixty|ninety)\s*(?:\((\d+)\)\s*)?(?:calendar\s+|business\s+)?(days?|weeks?|months?)\b`)
	noticeWord    = regexp.MustCompile(`(?i)\bnotice\b`)

	liabilityLanguage  = regexp.MustCompile(`(?i)\bliab(?:le|ility|ilities)\b`)
	unlimitedLiability = regexp.MustCompile(`(?i)unlimited\s+liability|no\s+limit(?:ation)?\s+(?:on|of)\s+liability|liability[^.\n]{0,50}?without\s+limit(?:ation)?`)

	broadIndemnity = []*regexp.Regexp{
		regexp.MustCompile(`(?i)indemnif[^.\n]{0,100}?\b(?:any|all)\s+(?:claims|losses|damages|liabilities)`),
		regexp.MustCompile(`(?i)indemnif[^.\n]{0,100}?(?:defend|hold\s+harmless)[^.\n]{0,100}?\bany\b`),
	}
	indemnityQualifier = regexp.MustCompile(`(?i)\b(?:mutual(?:ly)?|each\s+party|to\s+the\s+extent|caused\s+by|attributable\s+to|negligen\w*|willful\s+misconduct|limited\s+to|subject\s+to|not\s+(?:to\s+)?exceed|capped)\b`)

	unilateralTermination = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bmay\s+terminate\b[^.\n]{0,120}?\b(?:at\s+any\s+time|for\s+(?:any\s+reason|convenience)|without\s+cause)`),
		regexp.MustCompile(`(?i)\bterminate\s+this\s+agreement\s+at\s+any\s+time\s+(?:with|without)\s+cause`),
	}
	mutualParty = regexp.MustCompile(`(?i)\b(?:either|each)\s+party\b|\bboth\s+parties\b|\bmutual`)

	priceIncrease = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:prices?|fees?|rates?)\b.{0,100}?(?:increase|escalat)\w*.{0,100}?automatic\w*`),
		regexp.MustCompile(`(?i)automatic\w*.{0,100}?\b(?:prices?|fees?|rates?)\b.{0,100}?increase\w*`),
	}
	priceCap = regexp.MustCompile(`(?i)(?:not\s+(?:to\s+)?exceed|maximum|cap(?:ped)?).{0,50}?\d+(?:\.\d+)?\s?%`)
)

var wordNumbers = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
	"eight": 8, "nine": 9, "ten": 10, "fourteen": 14, "fifteen": 15, "twenty": 20,
	"thirty": 30, "forty": 40, "forty-five": 45, "sixty": 60, "ninety": 90,
}

// AuditWithRules runs every detector over text.
func AuditWithRules(text string, cfg AuditorConfig) []models.Finding {
	findings := make([]models.Finding, 0, len(detectors))
	for _, d := range detectors {
		if f := d(text, cfg); f != nil {
			findings = append(findings, *f)
		}
	}
	return findings
}

func evidenceAt(text string, start, end int) *models.Evidence {
	return &models.Evidence{Text: text[start:end], Start: start, End: end}
}

// noticeDays converts a notice period match into days.
func noticeDays(text string, m []int) (int, bool) {
	raw := strings.ToLower(text[m[2]:m[3]])
	if m[4] >= 0 {
		raw = text[m[4]:m[5]]
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		v, ok := wordNumbers[raw]
		if !ok {
			return 0, false
		}
		n = v
	}
	switch unit := strings.ToLower(text[m[6]:m[7]]); {
	case strings.HasPrefix(unit, "week"):
		n *= 7
	case strings.HasPrefix(unit, "month"):
		n *= 30
	}
	return n, true
}

func detectAutoRenewal(text string, cfg AuditorConfig) *models.Finding {
	const lookahead = 300
	for _, loc := range renewalClause.FindAllStringIndex(text, -1) {
		windowEnd := min(len(text), loc[1]+lookahead)
		window := text[loc[0]:windowEnd]

		notices := noticeWord.FindAllStringIndex(window, -1)
		if len(notices) == 0 {
			continue
		}

		var best []int
		bestDist := -1
		for _, p := range noticePeriod.FindAllStringSubmatchIndex(window, -1) {
			for _, n := range notices {
				d := gap(p[0], p[1], n[0], n[1])
				if bestDist < 0 || d < bestDist {
					best, bestDist = p, d
				}
			}
		}
		if best == nil {
			continue
		}
		days, ok := noticeDays(window, best)
		if !ok || days >= cfg.NoticeThresholdDays {
			continue
		}

		end := loc[0] + best[1]
		for _, n := range notices {
			if n[0] >= best[1] && n[0]-best[1] <= 40 {
				end = loc[0] + n[1]
				break
			}
		}
		return &models.Finding{
			Type:     models.FindingAutoRenewalShortNotice,
			Severity: models.SeverityMedium,
			Description: fmt.Sprintf("Contract renews automatically and allows only %d days' notice to prevent renewal, below the %d-day threshold.",
				days, cfg.NoticeThresholdDays),
			Evidence:       evidenceAt(text, loc[0], end),
			Recommendation: fmt.Sprintf("Negotiate a non-renewal notice period of at least %d days or remove the automatic renewal.", cfg.NoticeThresholdDays),
		}
	}
	return nil
}

func gap(aStart, aEnd, bStart, bEnd int) int {
	switch {
	case aEnd <= bStart:
		return bStart - aEnd
	case bEnd <= aStart:
		return aStart - bEnd
	}
	return 0
}

func detectUnlimitedLiability(text string, _ AuditorConfig) *models.Finding {
	if fields.ExtractLiabilityCap(text) != nil {
		return nil
	}
	f := &models.Finding{
		Type:           models.FindingUnlimitedLiability,
		Severity:       models.SeverityHigh,
		Recommendation: "Add a limitation of liability clause capping aggregate liability, for example at fees paid in the preceding 12 months.",
	}
	if loc := unlimitedLiability.FindStringIndex(text); loc != nil {
		f.Description = "Contract expressly provides for unlimited liability."
		f.Evidence = evidenceAt(text, loc[0], loc[1])
		return f
	}
	if !liabilityLanguage.MatchString(text) {
		return nil
	}
	f.Description = "Contract discusses liability but states no monetary cap; the absence of a cap is the evidence."
	return f
}

func detectBroadIndemnity(text string, _ AuditorConfig) *models.Finding {
	for _, re := range broadIndemnity {
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		f := &models.Finding{
			Type:     models.FindingBroadIndemnity,
			Evidence: evidenceAt(text, loc[0], loc[1]),
		}
		if indemnityQualifier.MatchString(sentenceAt(text, loc[0], loc[1])) {
			f.Severity = models.SeverityMedium
			f.Description = "Indemnification covers any or all claims, though the clause carries a limiting qualifier."
			f.Recommendation = "Confirm the qualifier limits the indemnity to claims caused by the indemnifying party and add a cap."
		} else {
			f.Severity = models.SeverityHigh
			f.Description = "Indemnification covers any or all claims without mutuality, fault or cap qualifiers."
			f.Recommendation = "Limit indemnification to third-party claims caused by the indemnifying party's breach or negligence, make it mutual, and cap it."
		}
		return f
	}
	return nil
}

func detectUnilateralTermination(text string, _ AuditorConfig) *models.Finding {
	for _, re := range unilateralTermination {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			lead := max(0, loc[0]-40)
			if mutualParty.MatchString(text[lead:loc[1]]) {
				continue
			}
			return &models.Finding{
				Type:           models.FindingUnilateralTermination,
				Severity:       models.SeverityMedium,
				Description:    "One party may terminate at any time or without cause, and the right is not mutual.",
				Evidence:       evidenceAt(text, loc[0], loc[1]),
				Recommendation: "Make termination for convenience mutual and require a reasonable notice period.",
			}
		}
	}
	return nil
}

func detectPriceIncrease(text string, _ AuditorConfig) *models.Finding {
	for _, re := range priceIncrease {
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		f := &models.Finding{
			Type:     models.FindingAutomaticPriceIncrease,
			Evidence: evidenceAt(text, loc[0], loc[1]),
		}
		if priceCap.MatchString(text) {
			f.Severity = models.SeverityLow
			f.Description = "Prices increase automatically, subject to a percentage cap."
			f.Recommendation = "Confirm the cap is acceptable and tied to a published index."
		} else {
			f.Severity = models.SeverityMedium
			f.Description = "Prices increase automatically with no stated cap."
			f.Recommendation = "Cap annual increases, for example at CPI or a fixed percentage."
		}
		return f
	}
	return nil
}

var sentenceEnd = regexp.MustCompile(`[.!?]\s|\n\s*\n`)

// sentenceAt widens [start,end) to the enclosing sentence.
func sentenceAt(text string, start, end int) string {
	s := 0
	for _, b := range sentenceEnd.FindAllStringIndex(text[:start], -1) {
		s = b[1]
	}
	e := len(text)
	if b := sentenceEnd.FindStringIndex(text[end:]); b != nil {
		e = end + b[0] + 1
	}
	return text[s:e]
}
