package models

import (
	"fmt"
	"strings"
)

// Mode selects the strategy for field extraction and auditing.
type Mode string

const (
	ModeModelDriven Mode = "model_driven"
	ModeRuleBased   Mode = "rule_based"
	ModeAuto        Mode = "auto"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeModelDriven, "model", "llm":
		return ModeModelDriven, nil
	case ModeRuleBased, "rules", "rule":
		return ModeRuleBased, nil
	case ModeAuto, "":
		return ModeAuto, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Method records which path actually produced a result.
type Method string

const (
	MethodModelDriven Method = "model_driven"
	MethodRuleBased   Method = "rule_based"
)

type LiabilityCap struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type Signatory struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

type ContractFields struct {
	Parties         []string      `json:"parties"`
	EffectiveDate   *string       `json:"effective_date"`
	Term            *string       `json:"term"`
	GoverningLaw    *string       `json:"governing_law"`
	PaymentTerms    *string       `json:"payment_terms"`
	Termination     *string       `json:"termination"`
	AutoRenewal     *string       `json:"auto_renewal"`
	Confidentiality *string       `json:"confidentiality"`
	Indemnity       *string       `json:"indemnity"`
	LiabilityCap    *LiabilityCap `json:"liability_cap"`
	Signatories     []Signatory   `json:"signatories"`
}

// Field names as they appear in FieldError and serialized output.
const (
	FieldParties         = "parties"
	FieldEffectiveDate   = "effective_date"
	FieldTerm            = "term"
	FieldGoverningLaw    = "governing_law"
	FieldPaymentTerms    = "payment_terms"
	FieldTermination     = "termination"
	FieldAutoRenewal     = "auto_renewal"
	FieldConfidentiality = "confidentiality"
	FieldIndemnity       = "indemnity"
	FieldLiabilityCap    = "liability_cap"
	FieldSignatories     = "signatories"
)

// FieldNames lists every schema field in serialization order.
var FieldNames = []string{
	FieldParties, FieldEffectiveDate, FieldTerm, FieldGoverningLaw,
	FieldPaymentTerms, FieldTermination, FieldAutoRenewal, FieldConfidentiality,
	FieldIndemnity, FieldLiabilityCap, FieldSignatories,
}

// Missing returns the names of unpopulated fields in FieldNames order.
func (f ContractFields) Missing() []string {
	present := map[string]bool{
		FieldParties:         len(f.Parties) > 0,
		FieldEffectiveDate:   f.EffectiveDate != nil,
		FieldTerm:            f.Term != nil,
		FieldGoverningLaw:    f.GoverningLaw != nil,
		FieldPaymentTerms:    f.PaymentTerms != nil,
		FieldTermination:     f.Termination != nil,
		FieldAutoRenewal:     f.AutoRenewal != nil,
		FieldConfidentiality: f.Confidentiality != nil,
		FieldIndemnity:       f.Indemnity != nil,
		FieldLiabilityCap:    f.LiabilityCap != nil,
		FieldSignatories:     len(f.Signatories) > 0,
	}
	var missing []string
	for _, name := range FieldNames {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ExtractedFields struct {
	DocumentID     string         `json:"document_id"`
	Fields         ContractFields `json:"fields"`
	Method         Method         `json:"method"`
	Errors         []FieldError   `json:"errors"`
	FallbackReason string         `json:"fallback_reason,omitempty"`
}
