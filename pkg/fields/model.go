package fields

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xhad/contractiq/internal/models"
	"github.com/xhad/contractiq/internal/types"
)

var ErrMalformedOutput = errors.New("malformed model output")

const systemPrompt = "You are a legal contract analysis expert. Extract data and return only valid JSON."

const extractionPrompt = `Extract structured information from the provided contract text.

Extract the following fields:
1. parties: List of all parties involved in the contract (organizations/individuals)
2. effective_date: When the contract becomes effective
3. term: Duration/term of the contract
4. governing_law: Which jurisdiction/law governs this contract
5. payment_terms: Payment conditions, amounts, schedules
6. termination: Termination conditions and notice periods
7. auto_renewal: Auto-renewal clauses and notice requirements
8. confidentiality: Confidentiality and NDA provisions
9. indemnity: Indemnification clauses
10. liability_cap_amount: Liability limitation amount (numeric value only)
11. liability_cap_currency: Currency for liability cap (e.g., USD, EUR)
12. signatories: List of signatories as array of objects with "name" and "title" keys

Return ONLY valid JSON. Use null for missing fields. Do not include any explanation.

Contract text:
`

type modelOutput struct {
	Parties              json.RawMessage `json:"parties"`
	EffectiveDate        json.RawMessage `json:"effective_date"`
	Term                 json.RawMessage `json:"term"`
	GoverningLaw         json.RawMessage `json:"governing_law"`
	PaymentTerms         json.RawMessage `json:"payment_terms"`
	Termination          json.RawMessage `json:"termination"`
	AutoRenewal          json.RawMessage `json:"auto_renewal"`
	Confidentiality      json.RawMessage `json:"confidentiality"`
	Indemnity            json.RawMessage `json:"indemnity"`
	LiabilityCapAmount   json.RawMessage `json:"liability_cap_amount"`
	LiabilityCapCurrency json.RawMessage `json:"liability_cap_currency"`
	Signatories          json.RawMessage `json:"signatories"`
}

// ExtractWithModel asks the generator for the schema as JSON.
func ExtractWithModel(ctx context.Context, gen types.Generator, text string, maxChars int) (models.ContractFields, error) {
	prompt := extractionPrompt + "\n" + Truncate(text, maxChars)
	raw, err := gen.Generate(ctx, systemPrompt, prompt)
	if err != nil {
		return models.ContractFields{}, err
	}
	return ParseModelOutput(raw)
}

// ParseModelOutput decodes the model's JSON, tolerating code fences,
// surrounding prose and loosely typed values.
func ParseModelOutput(raw string) (models.ContractFields, error) {
	body := ExtractJSON(raw)
	if body == "" {
		return models.ContractFields{}, fmt.Errorf("%w: no JSON object", ErrMalformedOutput)
	}
	var out modelOutput
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return models.ContractFields{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	f := models.ContractFields{
		Parties:         stringList(out.Parties),
		EffectiveDate:   optString(out.EffectiveDate),
		Term:            optString(out.Term),
		GoverningLaw:    optString(out.GoverningLaw),
		PaymentTerms:    optString(out.PaymentTerms),
		Termination:     optString(out.Termination),
		AutoRenewal:     optString(out.AutoRenewal),
		Confidentiality: optString(out.Confidentiality),
		Indemnity:       optString(out.Indemnity),
		LiabilityCap:    liabilityCap(out.LiabilityCapAmount, out.LiabilityCapCurrency),
		Signatories:     signatories(out.Signatories),
	}
	return f, nil
}

// ExtractJSON strips markdown code fences and returns the outermost JSON
// object in s, or "" when there is none.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = strings.TrimSpace(rest)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
// A non-positive n leaves s unchanged.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func optString(raw json.RawMessage) *string {
	if isNull(raw) {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case float64, bool:
		s = fmt.Sprint(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, p := range x {
			if ps, ok := p.(string); ok {
				parts = append(parts, ps)
			}
		}
		s = strings.Join(parts, "; ")
	default:
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
		return nil
	}
	return &s
}

func stringList(raw json.RawMessage) []string {
	if isNull(raw) {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one = strings.TrimSpace(one); one != "" {
			return []string{one}
		}
		return nil
	}
	var many []any
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil
	}
	var out []string
	for _, v := range many {
		switch x := v.(type) {
		case string:
			out = appendParty(out, x)
		case map[string]any:
			if name, ok := x["name"].(string); ok {
				out = appendParty(out, name)
			}
		}
	}
	return out
}

func liabilityCap(amountRaw, currencyRaw json.RawMessage) *models.LiabilityCap {
	if isNull(amountRaw) {
		return nil
	}
	currency := ""
	if c := optString(currencyRaw); c != nil {
		code, ok := NormalizeCurrency(*c)
		if !ok {
			return nil
		}
		currency = code
	}

	var amount float64
	var num float64
	var str string
	switch {
	case json.Unmarshal(amountRaw, &num) == nil:
		amount = num
	case json.Unmarshal(amountRaw, &str) == nil:
		if c, ok := ParseMoney(str); ok {
			if currency != "" && c.Currency != currency {
				return nil
			}
			amount, currency = c.Amount, c.Currency
			break
		}
		v, ok := ParseAmount(str)
		if !ok {
			return nil
		}
		amount = v
	default:
		return nil
	}
	if currency == "" || amount <= 0 {
		return nil
	}
	return &models.LiabilityCap{Amount: amount, Currency: currency}
}

func signatories(raw json.RawMessage) []models.Signatory {
	if isNull(raw) {
		return nil
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	var out []models.Signatory
	for _, it := range items {
		switch x := it.(type) {
		case string:
			if name := strings.TrimSpace(x); name != "" {
				out = append(out, models.Signatory{Name: name, Title: "Unknown"})
			}
		case map[string]any:
			name, _ := x["name"].(string)
			title, _ := x["title"].(string)
			if name = strings.TrimSpace(name); name != "" {
				out = append(out, models.Signatory{Name: name, Title: strings.TrimSpace(title)})
			}
		}
	}
	return out
}
