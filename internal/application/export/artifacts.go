// Package export renders a resolved run into its reporting artifacts and
// archives them to an artifact store.
package export

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loanpurchase/backend/internal/application/disposition"
	"github.com/loanpurchase/backend/internal/application/evaluation"
	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/loanpurchase/backend/internal/domain/pipeline"
	"github.com/loanpurchase/backend/internal/domain/shared"
)

// Artifact names
const (
	PurchaseTape       = "purchase_tape.csv"
	ProjectedTape      = "projected_tape.csv"
	RejectionReport    = "rejection_report.csv"
	ExceptionLog       = "exception_log.csv"
	EligibilitySummary = "eligibility_summary.csv"
	RunManifest        = "run_manifest.json"
)

const (
	contentTypeCSV  = "text/csv"
	contentTypeJSON = "application/json"
)

// Artifact is one rendered output file
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
	Rows        int
}

// SHA256 returns the hex digest of the artifact content
func (a Artifact) SHA256() string {
	sum := sha256.Sum256(a.Data)
	return hex.EncodeToString(sum[:])
}

// RunMeta identifies the run an artifact set belongs to
type RunMeta struct {
	RunID    uuid.UUID
	TenantID string
	Period   time.Time
	Today    time.Time
}

// Prefix is the archive key prefix <tenant>/<period>/<run id>
func (m RunMeta) Prefix() string {
	return fmt.Sprintf("%s/%s/%s", m.TenantID, shared.FormatDate(m.Period), m.RunID)
}

// ManifestEntry describes one archived artifact
type ManifestEntry struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Bytes  int    `json:"bytes"`
	Rows   int    `json:"rows"`
}

// Manifest summarizes a run's outputs
type Manifest struct {
	RunID     string             `json:"run_id"`
	TenantID  string             `json:"tenant_id"`
	Period    string             `json:"period"`
	Today     string             `json:"today"`
	WindowEnd string             `json:"purchase_window_end"`
	Counts    pipeline.RunCounts `json:"counts"`
	Artifacts []ManifestEntry    `json:"artifacts"`
}

var recordHeader = []string{
	"seller_loan_number", "program", "origin_program", "loan_type", "restructured",
	"original_balance", "financed_balance", "credit_score", "term_months",
	"submit_date", "purchase_date", "lender_price", "apr", "dealer_fee_amount",
	"promo_term_months", "jurisdiction", "repurchase", "new_program", "carried_over",
	"source_format",
}

// Render produces every artifact of a run, manifest last. The CSV bytes
// depend only on the resolution, so an unchanged batch renders identically.
func Render(meta RunMeta, res *disposition.Resolution) ([]Artifact, error) {
	renderers := []struct {
		name string
		fn   func(*csv.Writer, *disposition.Resolution) (int, error)
	}{
		{PurchaseTape, tapeWriter(loan.DispositionToPurchase)},
		{ProjectedTape, tapeWriter(loan.DispositionProjected)},
		{RejectionReport, writeRejections},
		{ExceptionLog, writeExceptions},
		{EligibilitySummary, writeEligibility},
	}

	artifacts := make([]Artifact, 0, len(renderers)+1)
	for _, r := range renderers {
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		rows, err := r.fn(w, res)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", r.name, err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("render %s: %w", r.name, err)
		}
		artifacts = append(artifacts, Artifact{Name: r.name, ContentType: contentTypeCSV, Data: buf.Bytes(), Rows: rows})
	}

	manifest := Manifest{
		RunID:     meta.RunID.String(),
		TenantID:  meta.TenantID,
		Period:    shared.FormatDate(meta.Period),
		Today:     shared.FormatDate(meta.Today),
		WindowEnd: shared.FormatDate(res.WindowEnd),
		Counts:    res.Counts,
	}
	for _, a := range artifacts {
		manifest.Artifacts = append(manifest.Artifacts, ManifestEntry{Name: a.Name, SHA256: a.SHA256(), Bytes: len(a.Data), Rows: a.Rows})
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", RunManifest, err)
	}
	artifacts = append(artifacts, Artifact{Name: RunManifest, ContentType: contentTypeJSON, Data: append(data, '\n'), Rows: 1})
	return artifacts, nil
}

func tapeWriter(d loan.Disposition) func(*csv.Writer, *disposition.Resolution) (int, error) {
	return func(w *csv.Writer, res *disposition.Resolution) (int, error) {
		if err := w.Write(recordHeader); err != nil {
			return 0, err
		}
		decisions := res.ByDisposition(d)
		for _, dec := range decisions {
			if err := w.Write(recordRow(dec.Record)); err != nil {
				return 0, err
			}
		}
		return len(decisions), nil
	}
}

func recordRow(r *loan.Record) []string {
	return []string{
		r.SellerLoanNumber,
		string(r.Program),
		string(r.OriginProgram),
		string(r.LoanType),
		strconv.FormatBool(r.Restructured),
		r.OriginalBalance.StringFixed(2),
		r.FinancedBalance().StringFixed(2),
		strconv.Itoa(r.CreditScore),
		strconv.Itoa(r.TermMonths),
		shared.FormatDate(r.SubmitDate),
		shared.FormatDate(r.PurchaseDate),
		r.LenderPrice.StringFixed(2),
		r.APR.String(),
		r.DealerFeeAmount().StringFixed(2),
		strconv.Itoa(r.PromoTermMonths),
		r.Jurisdiction,
		strconv.FormatBool(r.Repurchase),
		strconv.FormatBool(r.NewProgram),
		strconv.FormatBool(r.CarriedOver),
		string(r.SourceFormat),
	}
}

func writeRejections(w *csv.Writer, res *disposition.Resolution) (int, error) {
	header := []string{"seller_loan_number", "program", "loan_type", "original_balance", "rejection_criteria", "check", "detail"}
	if err := w.Write(header); err != nil {
		return 0, err
	}
	rejected := res.ByDisposition(loan.DispositionRejected)
	for _, dec := range rejected {
		r := dec.Record
		row := []string{r.SellerLoanNumber, string(r.Program), string(r.LoanType), r.OriginalBalance.StringFixed(2), string(dec.Reason), dec.Check, dec.Detail}
		if err := w.Write(row); err != nil {
			return 0, err
		}
	}
	return len(rejected), nil
}

type exceptionRow struct {
	seller string
	cells  []string
}

// writeExceptions lists every failing check of every loan followed by the
// normalization exceptions, grouped by seller loan number
func writeExceptions(w *csv.Writer, res *disposition.Resolution) (int, error) {
	header := []string{"seller_loan_number", "family", "check", "reason", "data_quality", "source", "line", "column", "value", "detail"}
	if err := w.Write(header); err != nil {
		return 0, err
	}

	var rows []exceptionRow
	for _, f := range res.Failures() {
		rows = append(rows, exceptionRow{f.SellerLoanNumber, []string{
			f.SellerLoanNumber, string(f.Family), f.Check, string(f.Reason), strconv.FormatBool(f.DataQuality), "", "", "", "", f.Detail,
		}})
	}
	for _, e := range res.Exceptions {
		rows = append(rows, exceptionRow{e.SellerLoanNumber, []string{
			e.SellerLoanNumber, string(loan.FamilyDataQuality), e.Code, "", "true", sourceOf(e), strconv.Itoa(e.Line), e.Column, e.Value, e.Message,
		}})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].seller < rows[j].seller })

	for _, r := range rows {
		if err := w.Write(r.cells); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func sourceOf(e loan.Exception) string {
	if e.Source != "" {
		return e.Source
	}
	return string(e.SourceFormat)
}

func writeEligibility(w *csv.Writer, res *disposition.Resolution) (int, error) {
	header := []string{"program", "check", "kind", "basis", "value", "threshold", "comparison", "passed", "distribution", "excluded"}
	if err := w.Write(header); err != nil {
		return 0, err
	}
	n := 0
	for _, pr := range res.Eligibility.Programs {
		for _, c := range pr.Checks {
			row := []string{
				string(pr.Program), c.Name, string(c.Kind), string(c.Basis),
				c.Value.String(), thresholdOf(c), string(c.Comparison), strconv.FormatBool(c.Passed),
				distributionOf(c.Distribution), strings.Join(c.Excluded, ";"),
			}
			if err := w.Write(row); err != nil {
				return 0, err
			}
			n++
		}
	}
	return n, nil
}

func thresholdOf(c evaluation.CheckResult) string {
	if c.Kind == evaluation.KindInfo {
		return ""
	}
	return c.Threshold.String()
}

func distributionOf(buckets []evaluation.Bucket) string {
	parts := make([]string, 0, len(buckets))
	for _, b := range buckets {
		parts = append(parts, fmt.Sprintf("%s=%s", b.Key, b.Share.String()))
	}
	return strings.Join(parts, ";")
}
