// Package recommend scores (center, slot) pairs for a diagnosed vehicle and
// selects three diverse appointment suggestions. Scoring is a pure function
// over the snapshot passed in: no I/O, and byte-identical output for
// identical inputs (including "today").
package recommend

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"fleetwatch/internal/domain"
)

// ErrNoCapacity means no candidate (center, slot) pair exists in the window.
var ErrNoCapacity = errors.New("no capacity")

// Suggestion labels, in selection order.
const (
	LabelBestOverall       = "best_overall"
	LabelAlternativeCenter = "alternative_center"
	LabelEarliestAvailable = "earliest_available"
	LabelAdditionalOption  = "additional_option"
)

// Config tunes the scorer. Zero values fall back to defaults.
type Config struct {
	BaseRadiusKM       float64 // default 150
	NominalSlotsPerDay int     // default 5
}

func (c Config) radiusFor(sev domain.Severity) float64 {
	base := c.BaseRadiusKM
	if base <= 0 {
		base = 150
	}
	switch sev {
	case domain.SeverityCritical:
		return base + 50
	case domain.SeverityLow:
		return base - 50
	default:
		return base
	}
}

func (c Config) nominalSlots() float64 {
	if c.NominalSlotsPerDay <= 0 {
		return 5
	}
	return float64(c.NominalSlotsPerDay)
}

// Input is one scoring request. Centers is a read-only snapshot.
type Input struct {
	Severity        domain.Severity
	EtaDays         float64
	Vehicle         *domain.Vehicle
	OwnerLocation   *domain.GeoPoint
	PreferredCenter string
	Today           time.Time // pinned "now"; date arithmetic uses its calendar day
	Centers         []*domain.ServiceCenter
}

// FactorScore is one sub-score, raw and after weighting. Both are rounded
// to two decimals.
type FactorScore struct {
	Raw      float64 `json:"raw"`
	Weighted float64 `json:"weighted"`
}

// Breakdown explains how a pair's total score was assembled.
type Breakdown struct {
	Distance       FactorScore `json:"distance"`
	Specialization FactorScore `json:"specialization"`
	UrgencyFit     FactorScore `json:"urgency_fit"`
	Rating         FactorScore `json:"rating"`
	LoadBalance    FactorScore `json:"load_balance"`
	Preference     FactorScore `json:"preference"`
	EmergencyBonus float64     `json:"emergency_bonus"`
}

// ScoredPair is one (center, slot) candidate with its total score.
type ScoredPair struct {
	CenterID    string      `json:"center_id"`
	CenterName  string      `json:"center_name"`
	Slot        domain.Slot `json:"slot"`
	DaysFromNow int         `json:"days_from_now"`
	DistanceKM  float64     `json:"distance_km"`
	Score       float64     `json:"score"` // rounded to three decimals
	Breakdown   Breakdown   `json:"breakdown"`
}

// Suggestion is a labelled scored pair with a human-readable reason.
type Suggestion struct {
	Label  string     `json:"label"`
	Pair   ScoredPair `json:"pair"`
	Reason string     `json:"reason"`
}

// Recommendation is the engine output: three labelled suggestions plus the
// full scored list for diagnostics.
type Recommendation struct {
	Suggestions []Suggestion `json:"suggestions"`
	AllScored   []ScoredPair `json:"all_scored"`
}

// weights are the factor weights; they sum to 1.0.
type weights struct {
	distance, specialization, urgency, rating, load, preference float64
}

var defaultWeights = weights{0.30, 0.20, 0.25, 0.10, 0.10, 0.05}
var urgentWeights = weights{0.20, 0.15, 0.40, 0.05, 0.10, 0.10}

func weightsFor(sev domain.Severity) weights {
	if sev == domain.SeverityCritical || sev == domain.SeverityHigh {
		return urgentWeights
	}
	return defaultWeights
}

const emergencyBonus = 0.15

// urgencyWindow computes the ideal booking window [minDays, maxDays] from
// severity and etaDays.
func urgencyWindow(sev domain.Severity, etaDays float64) (minDays, maxDays int) {
	eta := int(etaDays)
	switch sev {
	case domain.SeverityCritical:
		return 0, 2
	case domain.SeverityHigh:
		max := eta - 1
		if max < 2 {
			max = 2
		}
		if max > 7 {
			max = 7
		}
		return 1, max
	case domain.SeverityMedium:
		max := int(math.Floor(etaDays * 0.5))
		if max > 28 {
			max = 28
		}
		return 3, max
	default: // low and unknown
		max := int(math.Floor(etaDays * 0.8))
		if max > 56 {
			max = 56
		}
		return 7, max
	}
}

// Engine is a deterministic weighted multi-factor scorer.
type Engine struct {
	cfg Config
}

// NewEngine returns an engine with the given tuning.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// RadiusFor exposes the severity-adjusted search radius so callers can use
// the same radius for candidate fetching.
func (e *Engine) RadiusFor(sev domain.Severity) float64 {
	return e.cfg.radiusFor(sev)
}

// Recommend scores every candidate pair and selects the three suggestions.
// Returns ErrNoCapacity when no pair falls inside the booking window.
func (e *Engine) Recommend(in Input) (*Recommendation, error) {
	if in.Today.IsZero() {
		return nil, fmt.Errorf("recommend: today must be pinned")
	}
	today := midnight(in.Today)
	_, maxDays := urgencyWindow(in.Severity, in.EtaDays)

	// Slot dates are scored inside [today, today + max(2*maxDays, 30)].
	horizon := 2 * maxDays
	if horizon < 30 {
		horizon = 30
	}

	w := weightsFor(in.Severity)
	radius := e.cfg.radiusFor(in.Severity)

	var scored []ScoredPair
	for _, center := range in.Centers {
		if center == nil || !center.Active {
			continue
		}
		for _, slot := range center.Slots {
			if slot.Status != domain.SlotAvailable {
				continue
			}
			slotDay, err := time.Parse("2006-01-02", slot.Date)
			if err != nil {
				continue
			}
			days := int(midnight(slotDay).Sub(today).Hours() / 24)
			if days < 0 || days > horizon {
				continue
			}
			scored = append(scored, e.scorePair(in, w, radius, center, slot, days))
		}
	}
	if len(scored) == 0 {
		return nil, fmt.Errorf("recommend for %s: %w", vehicleID(in.Vehicle), ErrNoCapacity)
	}

	sortByScore(scored)

	return &Recommendation{
		Suggestions: selectSuggestions(scored),
		AllScored:   scored,
	}, nil
}

func vehicleID(v *domain.Vehicle) string {
	if v == nil {
		return "unknown"
	}
	return v.ID
}

func (e *Engine) scorePair(in Input, w weights, radius float64, center *domain.ServiceCenter, slot domain.Slot, days int) ScoredPair {
	var distKM float64
	distance := 0.0
	if in.OwnerLocation != nil {
		distKM = in.OwnerLocation.DistanceKM(center.Location)
		distance = math.Max(0, 1-distKM/radius)
	}

	specialization := specializationScore(in.Vehicle, center.Specializations)
	urgency := urgencyFitScore(in.Severity, in.EtaDays, days)
	rating := center.RatingAvg / 5
	load := math.Min(1, float64(center.AvailableOn(slot.Date))/e.cfg.nominalSlots())
	preference := 0.0
	if in.PreferredCenter != "" && in.PreferredCenter == center.ID {
		preference = 1.0
	}

	bd := Breakdown{
		Distance:       factor(distance, w.distance),
		Specialization: factor(specialization, w.specialization),
		UrgencyFit:     factor(urgency, w.urgency),
		Rating:         factor(rating, w.rating),
		LoadBalance:    factor(load, w.load),
		Preference:     factor(preference, w.preference),
	}

	total := distance*w.distance + specialization*w.specialization + urgency*w.urgency +
		rating*w.rating + load*w.load + preference*w.preference

	urgent := in.Severity == domain.SeverityCritical || in.Severity == domain.SeverityHigh
	if urgent && center.Emergency {
		bd.EmergencyBonus = emergencyBonus
		total += emergencyBonus
	}
	if total > 1 {
		total = 1
	}

	return ScoredPair{
		CenterID:    center.ID,
		CenterName:  center.Name,
		Slot:        slot,
		DaysFromNow: days,
		DistanceKM:  round2(distKM),
		Score:       round3(total),
		Breakdown:   bd,
	}
}

// specializationScore: full marks on a make match (symmetric substring,
// case-insensitive) or an EV tag for EV vehicles; half for generalists.
func specializationScore(v *domain.Vehicle, tags []string) float64 {
	mk := ""
	ev := false
	if v != nil {
		mk = strings.ToLower(v.Make)
		ev = v.IsEV()
	}
	general := false
	for _, tag := range tags {
		t := strings.ToLower(tag)
		if mk != "" && (strings.Contains(t, mk) || strings.Contains(mk, t)) {
			return 1.0
		}
		if ev && (strings.Contains(t, "ev") || strings.Contains(t, "electric") || strings.Contains(t, "battery")) {
			return 1.0
		}
		if strings.Contains(t, "general") {
			general = true
		}
	}
	if general {
		return 0.5
	}
	return 0.2
}

// urgencyFitScore maps a slot's distance-in-days onto the ideal window.
func urgencyFitScore(sev domain.Severity, etaDays float64, days int) float64 {
	minDays, maxDays := urgencyWindow(sev, etaDays)
	d := float64(days)
	switch {
	case days >= minDays && days <= maxDays:
		return 1.0
	case days < minDays:
		return 0.7
	case d >= etaDays:
		return 0.1
	default:
		// Linear decay from 1.0 at maxDays to 0.2 at etaDays.
		decay := 1 - ((d - float64(maxDays)) / math.Max(1, etaDays-float64(maxDays)) * 0.8)
		return math.Max(0.2, decay)
	}
}

func factor(raw, weight float64) FactorScore {
	return FactorScore{Raw: round2(raw), Weighted: round2(raw * weight)}
}

// bandRank orders time-bands within a day for deterministic tie-breaks.
func bandRank(band string) int {
	switch band {
	case "morning":
		return 0
	case "midday":
		return 1
	case "afternoon":
		return 2
	case "evening":
		return 3
	default:
		return 4
	}
}

// sortByScore orders by total score descending with a deterministic
// tie-break on centerId, then slot date, then time-band.
func sortByScore(pairs []ScoredPair) {
	sort.SliceStable(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.CenterID != b.CenterID {
			return a.CenterID < b.CenterID
		}
		if a.Slot.Date != b.Slot.Date {
			return a.Slot.Date < b.Slot.Date
		}
		return bandRank(a.Slot.Band) < bandRank(b.Slot.Band)
	})
}

type pairKey struct {
	centerID string
	band     string
	days     int
}

func keyOf(p ScoredPair) pairKey {
	return pairKey{p.CenterID, p.Slot.Band, p.DaysFromNow}
}

// selectSuggestions applies the three-suggestion policy over the
// score-sorted pairs.
func selectSuggestions(byScore []ScoredPair) []Suggestion {
	chosen := make(map[pairKey]bool)
	var out []Suggestion

	best := byScore[0]
	out = append(out, Suggestion{
		Label:  LabelBestOverall,
		Pair:   best,
		Reason: fmt.Sprintf("highest overall score %.3f at %s, %d day(s) out", best.Score, best.CenterName, best.DaysFromNow),
	})
	chosen[keyOf(best)] = true

	for _, p := range byScore[1:] {
		if p.CenterID != best.CenterID {
			out = append(out, Suggestion{
				Label:  LabelAlternativeCenter,
				Pair:   p,
				Reason: fmt.Sprintf("strongest option at a different center (%s, score %.3f)", p.CenterName, p.Score),
			})
			chosen[keyOf(p)] = true
			break
		}
	}

	// Earliest: ascending daysFromNow, descending score, stable tie-break.
	earliest := append([]ScoredPair(nil), byScore...)
	sort.SliceStable(earliest, func(i, j int) bool {
		a, b := earliest[i], earliest[j]
		if a.DaysFromNow != b.DaysFromNow {
			return a.DaysFromNow < b.DaysFromNow
		}
		return a.Score > b.Score
	})
	for _, p := range earliest {
		if chosen[keyOf(p)] {
			continue
		}
		out = append(out, Suggestion{
			Label:  LabelEarliestAvailable,
			Pair:   p,
			Reason: fmt.Sprintf("soonest availability, %d day(s) out at %s", p.DaysFromNow, p.CenterName),
		})
		chosen[keyOf(p)] = true
		break
	}

	for _, p := range byScore {
		if len(out) >= 3 {
			break
		}
		if chosen[keyOf(p)] {
			continue
		}
		out = append(out, Suggestion{
			Label:  LabelAdditionalOption,
			Pair:   p,
			Reason: fmt.Sprintf("next best score %.3f at %s", p.Score, p.CenterName),
		})
		chosen[keyOf(p)] = true
	}
	return out
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
