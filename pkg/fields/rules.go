package fields

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/xhad/contractiq/internal/models"
)

const maxParties = 10

var (
	betweenParties = regexp.MustCompile(`(?i)between\s+([A-Z][^,\n]+?)\s+(?:and|&)\s+([A-Z][^,\n]+?)(?:\s*\(|,|\.)`)
	partyLabel     = regexp.MustCompile(`(?im)^\s*(?:Party|Parties)(?:\s+[A-Z0-9])?\s*:\s*([^\n]+)`)

	monthName   = `(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|June?|July?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)`
	datePattern = `(?:` + monthName + `\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
		`|\d{1,2}(?:st|nd|rd|th)?\s+(?:day\s+of\s+)?` + monthName + `,?\s+\d{4}` +
		`|\d{4}-\d{2}-\d{2}` +
		`|\d{1,2}[/-]\d{1,2}[/-]\d{2,4})`
	anyDate          = regexp.MustCompile(`(?i)\b` + datePattern + `\b`)
	labeledEffective = regexp.MustCompile(`(?i)effective\s+(?:date|as\s+of)\b[^0-9A-Za-z]{0,5}(?:(?:is|shall\s+be|of)\s+)?(` + datePattern + `)`)
	dateKeyword      = regexp.MustCompile(`(?i)\b(?:effective|commenc\w*|dated|as\s+of|entered\s+into)\b`)

	numberWord = `(?:\d+|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|twenty|thirty|sixty|ninety)`
	termSpan   = `(` + numberWord + `(?:\s*\(\d+\))?[\s-]+(?:year|month|day)s?)`
	termRules  = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bterm\b[:\s]+(?:of\s+|shall\s+be\s+|is\s+)?` + termSpan),
		regexp.MustCompile(`(?i)\bperiod\s+of\s+` + termSpan),
		regexp.MustCompile(`(?i)\bduration[:\s]+(?:of\s+)?` + termSpan),
		regexp.MustCompile(`(?i)\bterm\b[^.\n]{0,60}?\b` + termSpan),
	}

	governingLawRules = []*regexp.Regexp{
		regexp.MustCompile(`(?i)governed\s+by(?:,?\s+and\s+construed\s+in\s+accordance\s+with,?)?\s+the\s+laws?\s+of\s+([^\n.;,(]+)`),
		regexp.MustCompile(`(?i)governing\s+law[:\s]+([^\n.]+)`),
	}

	paymentTerms    = regexp.MustCompile(`(?i)payment\s+terms?[:\s]+([^\n]+(?:\n[^\n]+){0,2})`)
	termination     = regexp.MustCompile(`(?i)termination[:\s]+([^\n]+(?:\n[^\n]+){0,3})`)
	autoRenewal     = regexp.MustCompile(`(?i)(?:auto-?renew(?:al)?|automatic\s+renewal)[:\s]+([^\n]+(?:\n[^\n]+){0,2})`)
	autoRenewalText = regexp.MustCompile(`(?i)\b(?:automatic(?:ally)?\s+renew\w*|renew\w*\s+automatically|auto-?renew\w*)`)
	confidentiality = regexp.MustCompile(`(?i)confidentialit(?:y|ies)[:\s]+([^\n]+(?:\n[^\n]+){0,3})`)
	indemnity       = regexp.MustCompile(`(?i)indemni(?:ty|fication)[:\s]+([^\n]+(?:\n[^\n]+){0,3})`)

	liabilityMention = regexp.MustCompile(`(?i)\bliabilit(?:y|ies)\b`)
	capKeyword       = regexp.MustCompile(`(?i)\b(?:limit(?:ed)?|cap(?:ped)?|exceed(?:s|ed|ing)?|maximum|up\s+to|in\s+excess\s+of|in\s+no\s+event)\b`)
	sentenceBreak    = regexp.MustCompile(`[.!?]\s|\n\s*\n`)

	signatoryName  = regexp.MustCompile(`(?im)^[ \t]*(?:Name|Printed\s+Name)[ \t]*:[ \t]*([^\n]*)$`)
	signatoryTitle = regexp.MustCompile(`(?im)^[ \t]*Title[ \t]*:[ \t]*([^\n]*)$`)
)

// ExtractWithRules fills the contract schema from fixed patterns. Fields
// without a match stay nil or empty.
func ExtractWithRules(text string) models.ContractFields {
	return models.ContractFields{
		Parties:         extractParties(text),
		EffectiveDate:   extractEffectiveDate(text),
		Term:            firstGroup(text, termRules...),
		GoverningLaw:    extractGoverningLaw(text),
		PaymentTerms:    firstGroup(text, paymentTerms),
		Termination:     firstGroup(text, termination),
		AutoRenewal:     extractAutoRenewal(text),
		Confidentiality: firstGroup(text, confidentiality),
		Indemnity:       firstGroup(text, indemnity),
		LiabilityCap:    ExtractLiabilityCap(text),
		Signatories:     extractSignatories(text),
	}
}

func firstGroup(text string, rules ...*regexp.Regexp) *string {
	for _, re := range rules {
		if m := re.FindStringSubmatch(text); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" {
				return &v
			}
		}
	}
	return nil
}

func extractParties(text string) []string {
	var parties []string
	if m := betweenParties.FindStringSubmatch(text); m != nil {
		parties = appendParty(parties, m[1])
		parties = appendParty(parties, m[2])
		return parties
	}
	for _, m := range partyLabel.FindAllStringSubmatch(text, -1) {
		for _, p := range strings.Split(m[1], ",") {
			parties = appendParty(parties, p)
			if len(parties) == maxParties {
				return parties
			}
		}
	}
	return parties
}

func appendParty(parties []string, raw string) []string {
	p := strings.Trim(strings.TrimSpace(raw), `"'“”`)
	p = strings.TrimPrefix(p, "the ")
	if p == "" {
		return parties
	}
	for _, existing := range parties {
		if strings.EqualFold(existing, p) {
			return parties
		}
	}
	return append(parties, p)
}

// extractEffectiveDate prefers an explicitly labeled effective date, then
// the date closest to an effective-date keyword, then the first date.
func extractEffectiveDate(text string) *string {
	if v := firstGroup(text, labeledEffective); v != nil {
		return v
	}

	dates := anyDate.FindAllStringIndex(text, -1)
	if len(dates) == 0 {
		return nil
	}
	keywords := dateKeyword.FindAllStringIndex(text, -1)

	const window = 120
	best, bestDist := -1, window+1
	for i, d := range dates {
		for _, k := range keywords {
			dist := distance(d, k)
			if dist < bestDist {
				best, bestDist = i, dist
			}
		}
	}
	if best < 0 {
		best = 0
	}
	v := strings.TrimSpace(text[dates[best][0]:dates[best][1]])
	return &v
}

func distance(a, b []int) int {
	switch {
	case a[1] <= b[0]:
		return b[0] - a[1]
	case b[1] <= a[0]:
		return a[0] - b[1]
	}
	return 0
}

func extractGoverningLaw(text string) *string {
	v := firstGroup(text, governingLawRules...)
	if v == nil {
		return nil
	}
	law := strings.TrimSpace(strings.TrimPrefix(*v, "the "))
	return &law
}

func extractAutoRenewal(text string) *string {
	if v := firstGroup(text, autoRenewal); v != nil {
		return v
	}
	loc := autoRenewalText.FindStringIndex(text)
	if loc == nil {
		return nil
	}
	s := sentenceAround(text, loc[0])
	return &s
}

// ExtractLiabilityCap looks for a sentence that mentions liability together
// with limiting language and an amount with an explicit currency.
func ExtractLiabilityCap(text string) *models.LiabilityCap {
	for _, loc := range liabilityMention.FindAllStringIndex(text, -1) {
		sentence := sentenceAround(text, loc[0])
		if !capKeyword.MatchString(sentence) {
			continue
		}
		if c, ok := ParseMoney(sentence); ok {
			return &c
		}
	}
	return nil
}

// sentenceAround returns the trimmed sentence containing offset pos.
func sentenceAround(text string, pos int) string {
	start := 0
	for _, b := range sentenceBreak.FindAllStringIndex(text[:pos], -1) {
		start = b[1]
	}
	end := len(text)
	if b := sentenceBreak.FindStringIndex(text[pos:]); b != nil {
		end = pos + b[0] + 1
	}
	return strings.TrimSpace(text[start:end])
}

func extractSignatories(text string) []models.Signatory {
	names := signatoryName.FindAllStringSubmatchIndex(text, -1)
	var out []models.Signatory
	for i, m := range names {
		name := strings.TrimSpace(text[m[2]:m[3]])
		if !hasLetter(name) {
			continue
		}
		limit := len(text)
		if i+1 < len(names) {
			limit = names[i+1][0]
		}
		limit = min(limit, m[1]+200)

		sig := models.Signatory{Name: name}
		if t := signatoryTitle.FindStringSubmatch(text[m[1]:limit]); t != nil && hasLetter(t[1]) {
			sig.Title = strings.TrimSpace(t[1])
		}
		out = append(out, sig)
	}
	return out
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}
