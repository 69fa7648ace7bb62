package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/contractiq/internal/models"
)

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var severityColor = map[models.Severity]*color.Color{
	models.SeverityCritical: color.New(color.FgHiRed, color.Bold),
	models.SeverityHigh:     color.New(color.FgRed, color.Bold),
	models.SeverityMedium:   color.New(color.FgYellow),
	models.SeverityLow:      color.New(color.FgCyan),
}

func printDocument(w io.Writer, doc models.Document) {
	status := color.GreenString(string(doc.Status))
	if doc.Status == models.StatusFailed {
		status = color.RedString(string(doc.Status))
	}
	fmt.Fprintf(w, "%s  %s  %s", doc.ID, doc.Filename, status)
	if doc.PageCount > 0 {
		fmt.Fprintf(w, "  %d pages via %s", doc.PageCount, doc.Tier)
	}
	if doc.Error != "" {
		fmt.Fprintf(w, "  (%s)", doc.Error)
	}
	fmt.Fprintln(w)
}

func printFields(w io.Writer, res models.ExtractedFields) {
	f := res.Fields
	bold := color.New(color.Bold).SprintFunc()
	row := func(name, value string) {
		if value == "" {
			value = color.HiBlackString("not found")
		}
		fmt.Fprintf(w, "  %s %s\n", bold(fmt.Sprintf("%-18s", name)), value)
	}

	fmt.Fprintf(w, "Fields for %s (%s)\n", res.DocumentID, res.Method)
	if res.FallbackReason != "" {
		color.New(color.FgYellow).Fprintf(w, "  fell back to rules: %s\n", res.FallbackReason)
	}
	row("parties", strings.Join(f.Parties, "; "))
	row("effective date", deref(f.EffectiveDate))
	row("term", deref(f.Term))
	row("governing law", deref(f.GoverningLaw))
	row("payment terms", deref(f.PaymentTerms))
	row("termination", deref(f.Termination))
	row("auto-renewal", deref(f.AutoRenewal))
	row("confidentiality", deref(f.Confidentiality))
	row("indemnity", deref(f.Indemnity))
	liability := ""
	if f.LiabilityCap != nil {
		liability = fmt.Sprintf("%.2f %s", f.LiabilityCap.Amount, f.LiabilityCap.Currency)
	}
	row("liability cap", liability)
	signers := make([]string, 0, len(f.Signatories))
	for _, s := range f.Signatories {
		signers = append(signers, fmt.Sprintf("%s (%s)", s.Name, s.Title))
	}
	row("signatories", strings.Join(signers, "; "))
	for _, e := range res.Errors {
		color.New(color.FgRed).Fprintf(w, "  %s: %s\n", e.Field, e.Message)
	}
}

func printAudit(w io.Writer, rep models.AuditReport) {
	fmt.Fprintf(w, "Audit for %s (%s)  risk score %.1f\n", rep.DocumentID, rep.Method, rep.RiskScore)
	if rep.FallbackReason != "" {
		color.New(color.FgYellow).Fprintf(w, "  fell back to rules: %s\n", rep.FallbackReason)
	}
	if len(rep.Findings) == 0 {
		color.New(color.FgGreen).Fprintln(w, "  no risky clauses found")
		return
	}
	for _, f := range rep.Findings {
		c, ok := severityColor[f.Severity]
		if !ok {
			c = color.New(color.Reset)
		}
		c.Fprintf(w, "  [%s] %s\n", strings.ToUpper(string(f.Severity)), f.Type)
		fmt.Fprintf(w, "    %s\n", f.Description)
		if f.Evidence != nil {
			fmt.Fprintf(w, "    page %d: %q\n", f.Evidence.Page, f.Evidence.Text)
		}
		if f.Recommendation != "" {
			fmt.Fprintf(w, "    %s %s\n", color.HiBlackString("suggest:"), f.Recommendation)
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
