package analytics

import (
	"math"
	"sort"

	"github.com/exphub/experiment-hub/internal/domain/experiment"
)

// Minimum per-variant participants before a significance verdict is issued.
// Guards against false positives on tiny samples.
const MinSampleSize = 30

// SignificanceThreshold is the two-tailed confidence required to declare a
// difference significant.
const SignificanceThreshold = 0.95

// VariantStat holds per-variant aggregates derived from the event log.
type VariantStat struct {
	VariantName    string  `json:"variant_name"`
	Participants   int     `json:"participants"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`

	// Comparison against the control variant. Only populated for
	// non-control variants when the experiment has more than two variants;
	// no multiple-comparison correction is applied.
	VsControl *Comparison `json:"vs_control,omitempty"`
}

// Comparison is the outcome of a two-proportion z-test between two variants.
type Comparison struct {
	Baseline        string  `json:"baseline"`
	ZScore          float64 `json:"z_score"`
	ConfidenceLevel float64 `json:"confidence_level"`
	IsSignificant   bool    `json:"is_significant"`
}

// AggregateStat is the on-demand per-experiment report. It is always derived
// by scanning the event log; it is never stored as authoritative state.
type AggregateStat struct {
	ExperimentName        string        `json:"experiment_name"`
	Variants              []VariantStat `json:"variants"`
	TotalParticipants     int           `json:"total_participants"`
	TotalConversions      int           `json:"total_conversions"`
	OverallConversionRate float64       `json:"overall_conversion_rate"`

	// Experiment-level verdict from the two variants with the largest
	// participant counts (or the only two, when exactly two exist).
	IsSignificant   bool    `json:"is_significant"`
	ConfidenceLevel float64 `json:"confidence_level"`
}

// Aggregate scans the event log for one experiment and computes per-variant
// counts and the significance verdict. The definition may be nil (e.g. for a
// deleted experiment); control-relative comparisons are then skipped.
//
// Counting policy: participants are distinct subjects with an assignment
// event; conversions are distinct converting subjects. A subject converting
// twice counts once, keeping conversion rates within [0, 1] so the
// two-proportion test stays well-defined.
func Aggregate(experimentName string, def *experiment.Definition, events []Event) AggregateStat {
	type variantCounts struct {
		participants map[string]struct{}
		converters   map[string]struct{}
	}

	counts := make(map[string]*variantCounts)
	order := make([]string, 0, 4)

	get := func(variant string) *variantCounts {
		vc, ok := counts[variant]
		if !ok {
			vc = &variantCounts{
				participants: make(map[string]struct{}),
				converters:   make(map[string]struct{}),
			}
			counts[variant] = vc
			order = append(order, variant)
		}
		return vc
	}

	for _, ev := range events {
		if ev.ExperimentName != experimentName {
			continue
		}
		vc := get(ev.VariantName)
		switch ev.Kind {
		case KindAssignment:
			vc.participants[ev.SubjectID] = struct{}{}
		case KindConversion:
			vc.converters[ev.SubjectID] = struct{}{}
		}
	}

	stat := AggregateStat{ExperimentName: experimentName}

	// Declared order first so reports are stable even for variants with no
	// traffic yet; undeclared variants (e.g. from a since-edited definition)
	// follow in first-seen order.
	var variantOrder []string
	declared := make(map[string]struct{})
	if def != nil {
		for _, v := range def.Variants {
			variantOrder = append(variantOrder, v.Name)
			declared[v.Name] = struct{}{}
		}
	}
	sort.Strings(order)
	for _, name := range order {
		if _, ok := declared[name]; !ok {
			variantOrder = append(variantOrder, name)
		}
	}

	for _, name := range variantOrder {
		vc, ok := counts[name]
		vs := VariantStat{VariantName: name}
		if ok {
			vs.Participants = len(vc.participants)
			vs.Conversions = len(vc.converters)
		}
		if vs.Participants > 0 {
			vs.ConversionRate = float64(vs.Conversions) / float64(vs.Participants)
		}
		stat.Variants = append(stat.Variants, vs)
		stat.TotalParticipants += vs.Participants
		stat.TotalConversions += vs.Conversions
	}

	if stat.TotalParticipants > 0 {
		stat.OverallConversionRate = float64(stat.TotalConversions) / float64(stat.TotalParticipants)
	}

	applySignificance(&stat, def)
	return stat
}

// applySignificance fills the experiment-level verdict from the two variants
// with the largest participant counts, and, with more than two variants,
// per-variant comparisons against control.
func applySignificance(stat *AggregateStat, def *experiment.Definition) {
	if len(stat.Variants) < 2 {
		return
	}

	// Two largest by participants; ties broken by declared order.
	idx := make([]int, len(stat.Variants))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return stat.Variants[idx[a]].Participants > stat.Variants[idx[b]].Participants
	})

	top, second := stat.Variants[idx[0]], stat.Variants[idx[1]]
	if cmp, ok := twoProportionTest(top, second); ok {
		stat.ConfidenceLevel = cmp.ConfidenceLevel
		stat.IsSignificant = cmp.IsSignificant
	}

	if len(stat.Variants) <= 2 || def == nil {
		return
	}

	control := def.ControlVariant()
	var controlStat *VariantStat
	for i := range stat.Variants {
		if stat.Variants[i].VariantName == control {
			controlStat = &stat.Variants[i]
			break
		}
	}
	if controlStat == nil {
		return
	}

	for i := range stat.Variants {
		vs := &stat.Variants[i]
		if vs.VariantName == control {
			continue
		}
		if cmp, ok := twoProportionTest(*vs, *controlStat); ok {
			cmp.Baseline = control
			vs.VsControl = &cmp
		}
	}
}

// twoProportionTest computes the pooled two-proportion z-test between a and b.
// Returns ok=false when either side has no participants or the pooled
// standard error degenerates (all or no subjects converting on both sides).
func twoProportionTest(a, b VariantStat) (Comparison, bool) {
	n1, n2 := float64(a.Participants), float64(b.Participants)
	if n1 == 0 || n2 == 0 {
		return Comparison{}, false
	}

	p1 := float64(a.Conversions) / n1
	p2 := float64(b.Conversions) / n2
	pooled := (float64(a.Conversions) + float64(b.Conversions)) / (n1 + n2)

	se := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))
	if se == 0 {
		return Comparison{}, false
	}

	z := (p1 - p2) / se
	confidence := 2*normalCDF(math.Abs(z)) - 1

	cmp := Comparison{
		Baseline:        b.VariantName,
		ZScore:          z,
		ConfidenceLevel: confidence,
		IsSignificant: confidence >= SignificanceThreshold &&
			a.Participants >= MinSampleSize &&
			b.Participants >= MinSampleSize,
	}
	return cmp, true
}

// normalCDF approximates the standard normal CDF.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
