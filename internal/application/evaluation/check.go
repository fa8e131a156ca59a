package evaluation

import (
	"sort"

	"github.com/loanpurchase/backend/internal/domain/loan"
	"github.com/shopspring/decimal"
)

// CheckKind is the shape of a portfolio check
type CheckKind string

const (
	KindRatio         CheckKind = "ratio"
	KindMean          CheckKind = "mean"
	KindWeightedMean  CheckKind = "weighted_mean"
	KindMax           CheckKind = "max"
	KindMin           CheckKind = "min"
	KindConcentration CheckKind = "concentration"
	KindLimit         CheckKind = "limit"
	KindInfo          CheckKind = "informational"
)

// Basis selects what a ratio counts
type Basis string

const (
	BasisCount   Basis = "count"
	BasisBalance Basis = "balance"
)

// Comparison is how a computed value is held against its threshold
type Comparison string

const (
	CompareLT  Comparison = "lt"
	CompareLTE Comparison = "lte"
	CompareGTE Comparison = "gte"
	CompareNA  Comparison = ""
)

// Holds reports whether value satisfies the comparison against threshold
func (c Comparison) Holds(value, threshold decimal.Decimal) bool {
	switch c {
	case CompareLT:
		return value.LessThan(threshold)
	case CompareLTE:
		return value.LessThanOrEqual(threshold)
	case CompareGTE:
		return value.GreaterThanOrEqual(threshold)
	}
	return true
}

// Predicate selects the loans counted in a ratio numerator
type Predicate func(*loan.Record) bool

// Metric extracts the measured quantity of a loan
type Metric func(*loan.Record) decimal.Decimal

// Grouping assigns a loan to a distribution bucket
type Grouping func(*loan.Record) string

// Check is one declarative portfolio check
type Check struct {
	Name       string
	Kind       CheckKind
	Basis      Basis
	Predicate  Predicate
	Metric     Metric
	GroupBy    Grouping
	Threshold  decimal.Decimal
	Comparison Comparison
}

// Ratio builds a share-of-portfolio check
func Ratio(name string, basis Basis, pred Predicate, cmp Comparison, threshold string) Check {
	return Check{Name: name, Kind: KindRatio, Basis: basis, Predicate: pred, Comparison: cmp, Threshold: decimal.RequireFromString(threshold)}
}

// Mean builds a simple average check
func Mean(name string, m Metric, cmp Comparison, threshold string) Check {
	return Check{Name: name, Kind: KindMean, Metric: m, Comparison: cmp, Threshold: decimal.RequireFromString(threshold)}
}

// WeightedMean builds a balance-weighted average check
func WeightedMean(name string, m Metric, cmp Comparison, threshold string) Check {
	return Check{Name: name, Kind: KindWeightedMean, Basis: BasisBalance, Metric: m, Comparison: cmp, Threshold: decimal.RequireFromString(threshold)}
}

// Max builds a check on the largest value
func Max(name string, m Metric, threshold string) Check {
	return Check{Name: name, Kind: KindMax, Metric: m, Comparison: CompareLTE, Threshold: decimal.RequireFromString(threshold)}
}

// Min builds a check on the smallest value
func Min(name string, m Metric, threshold string) Check {
	return Check{Name: name, Kind: KindMin, Metric: m, Comparison: CompareGTE, Threshold: decimal.RequireFromString(threshold)}
}

// Concentration builds a check on the largest bucket's balance share
func Concentration(name string, g Grouping, threshold string) Check {
	return Check{Name: name, Kind: KindConcentration, Basis: BasisBalance, GroupBy: g, Comparison: CompareLTE, Threshold: decimal.RequireFromString(threshold)}
}

// Limit builds a balance-share ceiling that excludes loans until it holds
func Limit(name string, pred Predicate, threshold string) Check {
	return Check{Name: name, Kind: KindLimit, Basis: BasisBalance, Predicate: pred, Comparison: CompareLTE, Threshold: decimal.RequireFromString(threshold)}
}

// Info builds an always-passing check. With a grouping it reports the
// balance distribution; otherwise the metric total.
func Info(name string, m Metric, g Grouping) Check {
	return Check{Name: name, Kind: KindInfo, Metric: m, GroupBy: g}
}

// Bucket is one entry of a distribution
type Bucket struct {
	Key     string          `json:"key"`
	Count   int             `json:"count"`
	Balance decimal.Decimal `json:"balance"`
	Share   decimal.Decimal `json:"share"`
}

// CheckResult is the computed outcome of one check over one program
type CheckResult struct {
	Program      loan.Program    `json:"program"`
	Name         string          `json:"name"`
	Kind         CheckKind       `json:"kind"`
	Basis        Basis           `json:"basis,omitempty"`
	Value        decimal.Decimal `json:"value"`
	Threshold    decimal.Decimal `json:"threshold"`
	Comparison   Comparison      `json:"comparison,omitempty"`
	Passed       bool            `json:"passed"`
	Distribution []Bucket        `json:"distribution,omitempty"`
	Excluded     []string        `json:"excluded,omitempty"`
}

// Scale of reported ratios and averages
const valuePlaces = 6

func (c Check) evaluate(p loan.Program, records []*loan.Record) CheckResult {
	res := CheckResult{
		Program:    p,
		Name:       c.Name,
		Kind:       c.Kind,
		Basis:      c.Basis,
		Threshold:  c.Threshold,
		Comparison: c.Comparison,
	}

	switch c.Kind {
	case KindRatio:
		res.Value = ratio(records, c.Basis, c.Predicate)
	case KindMean:
		res.Value = mean(records, c.Metric)
	case KindWeightedMean:
		res.Value = weightedMean(records, c.Metric)
	case KindMax:
		res.Value = extreme(records, c.Metric, decimal.Decimal.GreaterThan)
	case KindMin:
		res.Value = extreme(records, c.Metric, decimal.Decimal.LessThan)
	case KindConcentration:
		res.Distribution = distribution(records, c.GroupBy)
		for _, b := range res.Distribution {
			if b.Share.GreaterThan(res.Value) {
				res.Value = b.Share
			}
		}
	case KindLimit:
		res.Value = ratio(records, BasisBalance, c.Predicate)
		res.Excluded = excess(records, c.Predicate, c.Threshold)
	case KindInfo:
		if c.GroupBy != nil {
			res.Distribution = distribution(records, c.GroupBy)
		} else {
			res.Value = total(records, c.Metric)
		}
		res.Passed = true
		return res
	}

	res.Value = res.Value.Round(valuePlaces)
	// An empty portfolio has nothing to violate.
	res.Passed = len(records) == 0 || c.Comparison.Holds(res.Value, c.Threshold)
	return res
}

func weight(r *loan.Record, basis Basis) decimal.Decimal {
	if basis == BasisBalance {
		return r.OriginalBalance
	}
	return decimal.NewFromInt(1)
}

func ratio(records []*loan.Record, basis Basis, pred Predicate) decimal.Decimal {
	num, den := decimal.Zero, decimal.Zero
	for _, r := range records {
		w := weight(r, basis)
		den = den.Add(w)
		if pred(r) {
			num = num.Add(w)
		}
	}
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den)
}

func mean(records []*loan.Record, m Metric) decimal.Decimal {
	if len(records) == 0 {
		return decimal.Zero
	}
	return total(records, m).Div(decimal.NewFromInt(int64(len(records))))
}

func weightedMean(records []*loan.Record, m Metric) decimal.Decimal {
	num, den := decimal.Zero, decimal.Zero
	for _, r := range records {
		num = num.Add(m(r).Mul(r.OriginalBalance))
		den = den.Add(r.OriginalBalance)
	}
	if den.IsZero() {
		return decimal.Zero
	}
	return num.Div(den)
}

func total(records []*loan.Record, m Metric) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range records {
		sum = sum.Add(m(r))
	}
	return sum
}

func extreme(records []*loan.Record, m Metric, better func(decimal.Decimal, decimal.Decimal) bool) decimal.Decimal {
	if len(records) == 0 {
		return decimal.Zero
	}
	best := m(records[0])
	for _, r := range records[1:] {
		if v := m(r); better(v, best) {
			best = v
		}
	}
	return best
}

func distribution(records []*loan.Record, g Grouping) []Bucket {
	byKey := make(map[string]*Bucket)
	totalBalance := decimal.Zero
	for _, r := range records {
		key := g(r)
		b, ok := byKey[key]
		if !ok {
			b = &Bucket{Key: key, Balance: decimal.Zero}
			byKey[key] = b
		}
		b.Count++
		b.Balance = b.Balance.Add(r.OriginalBalance)
		totalBalance = totalBalance.Add(r.OriginalBalance)
	}

	out := make([]Bucket, 0, len(byKey))
	for _, b := range byKey {
		if totalBalance.IsPositive() {
			b.Share = b.Balance.Div(totalBalance).Round(valuePlaces)
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// excess removes matching loans, largest balance first and seller loan
// number as tie-break, until the matching balance share is within the
// threshold. Removed loans leave both numerator and denominator.
func excess(records []*loan.Record, pred Predicate, threshold decimal.Decimal) []string {
	num, den := decimal.Zero, decimal.Zero
	var matching []*loan.Record
	for _, r := range records {
		den = den.Add(r.OriginalBalance)
		if pred(r) {
			num = num.Add(r.OriginalBalance)
			matching = append(matching, r)
		}
	}
	sort.SliceStable(matching, func(i, j int) bool {
		if c := matching[i].OriginalBalance.Cmp(matching[j].OriginalBalance); c != 0 {
			return c > 0
		}
		return matching[i].SellerLoanNumber < matching[j].SellerLoanNumber
	})

	var excluded []string
	for _, r := range matching {
		if den.IsZero() || num.Div(den).Round(valuePlaces).LessThanOrEqual(threshold) {
			break
		}
		num = num.Sub(r.OriginalBalance)
		den = den.Sub(r.OriginalBalance)
		excluded = append(excluded, r.SellerLoanNumber)
	}
	sort.Strings(excluded)
	return excluded
}
