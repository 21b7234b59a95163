package emissions

import (
	"math"
	"time"
)

const (
	// rate at which base severity saturates, in kg CH4 per hour
	rateSaturationKgPerHour = 1000.0

	severityWeight   = 0.7
	confidenceWeight = 0.2

	defaultDetectionWeight = 0.6

	// InvestigateSLA is the time from detection by which an investigation must start.
	InvestigateSLA = 5 * 24 * time.Hour

	// ReportSLA is the time from detection by which a report must be submitted.
	ReportSLA = 15 * 24 * time.Hour
)

var detectionWeights = map[DetectionType]float64{
	DetectionSatellite:  1.0,
	DetectionOGI:        0.8,
	DetectionContinuous: 0.6,
}

// Bucket is the coarse urgency ranking derived from the triage score.
type Bucket string

const (
	BucketLow  Bucket = "LOW"
	BucketMed  Bucket = "MED"
	BucketHigh Bucket = "HIGH"
)

// Breakdown explains a triage score. Values are rounded to 3 decimals.
type Breakdown struct {
	BaseSeverity    float64            `json:"base_severity"`
	DetectionWeight float64            `json:"detection_weight"`
	Confidence      float64            `json:"confidence"`
	RecencyBoost    float64            `json:"recency_boost"`
	Score           float64            `json:"score"`
	Components      map[string]float64 `json:"components"`
	ComputedAt      time.Time          `json:"computed_at_utc"`
}

// Triage is the derived urgency and SLA state of an event at a point in time.
// It is never persisted.
type Triage struct {
	Score                     float64
	Bucket                    Bucket
	Breakdown                 Breakdown
	InvestigateDeadline       time.Time
	ReportDeadline            time.Time
	InvestigateRemainingHours float64
	ReportRemainingHours      float64
}

// InvestigateBreached reports whether the investigate deadline has passed.
func (t Triage) InvestigateBreached() bool { return t.InvestigateRemainingHours < 0 }

// ReportBreached reports whether the report deadline has passed.
func (t Triage) ReportBreached() bool { return t.ReportRemainingHours < 0 }

// Evaluate scores ev as of now. It is pure: the same inputs always give the
// same result and nothing is read from the wall clock.
func Evaluate(ev *Event, now time.Time) Triage {
	now = now.UTC()
	detected := ev.DetectedAt.UTC()

	base := math.Min(ev.EstCH4KgPerHour/rateSaturationKgPerHour, 1.0)
	weight := DetectionWeight(ev.DetectionType)
	recency := RecencyBoost(now.Sub(detected))

	severity := base * weight * severityWeight
	confidence := ev.Confidence * confidenceWeight

	score := clamp(severity+confidence+recency, 0, 1)

	investigate := detected.Add(InvestigateSLA)
	report := detected.Add(ReportSLA)

	return Triage{
		Score:  score,
		Bucket: BucketFor(score),
		Breakdown: Breakdown{
			BaseSeverity:    round3(base),
			DetectionWeight: round3(weight),
			Confidence:      round3(ev.Confidence),
			RecencyBoost:    round3(recency),
			Score:           round3(score),
			Components: map[string]float64{
				"severity_component":   round3(severity),
				"confidence_component": round3(confidence),
				"recency_component":    round3(recency),
			},
			ComputedAt: now,
		},
		InvestigateDeadline:       investigate,
		ReportDeadline:            report,
		InvestigateRemainingHours: investigate.Sub(now).Hours(),
		ReportRemainingHours:      report.Sub(now).Hours(),
	}
}

// DetectionWeight returns the scoring weight for a detection type; unknown
// types get the continuous-monitor weight.
func DetectionWeight(t DetectionType) float64 {
	if w, ok := detectionWeights[t]; ok {
		return w
	}
	return defaultDetectionWeight
}

// RecencyBoost is a step function of event age.
func RecencyBoost(age time.Duration) float64 {
	hours := age.Hours()
	switch {
	case hours < 48:
		return 0.15
	case hours < 96:
		return 0.05
	default:
		return 0.0
	}
}

// BucketFor maps a score to its urgency bucket.
func BucketFor(score float64) Bucket {
	switch {
	case score >= 0.7:
		return BucketHigh
	case score >= 0.4:
		return BucketMed
	default:
		return BucketLow
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
