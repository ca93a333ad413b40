package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fleetwatch/internal/domain"
)

// MemStore is an in-memory Store for tests and single-process runs.
// All methods are safe for concurrent use.
type MemStore struct {
	mu        sync.Mutex
	vehicles  map[string]*domain.Vehicle
	telemetry map[string][]domain.TelemetryRow // keyed by vehicle id, dense by row index
	preds     map[int64]*domain.PredictionEvent
	nextPred  int64
	cases     map[string]*domain.Case
	centers   map[string]*domain.ServiceCenter
	profiles  map[string]*domain.UserProfile
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		vehicles:  make(map[string]*domain.Vehicle),
		telemetry: make(map[string][]domain.TelemetryRow),
		preds:     make(map[int64]*domain.PredictionEvent),
		cases:     make(map[string]*domain.Case),
		centers:   make(map[string]*domain.ServiceCenter),
		profiles:  make(map[string]*domain.UserProfile),
	}
}

// --- Vehicles ---

func (s *MemStore) UpsertVehicle(v *domain.Vehicle) error {
	if v == nil || v.ID == "" {
		return fmt.Errorf("upsert vehicle: missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	cp.ID = strings.ToUpper(cp.ID)
	s.vehicles[cp.ID] = &cp
	return nil
}

func (s *MemStore) GetVehicle(id string) (*domain.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[strings.ToUpper(id)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *MemStore) ListVehicles() ([]*domain.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- Telemetry ---

func (s *MemStore) InsertTelemetry(rows []domain.TelemetryRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		seq := s.telemetry[r.VehicleID]
		if r.RowIndex != len(seq) {
			return fmt.Errorf("insert telemetry %s: row index %d breaks dense prefix (have %d rows)",
				r.VehicleID, r.RowIndex, len(seq))
		}
		cp := r
		cp.Sensors = copySensors(r.Sensors)
		s.telemetry[r.VehicleID] = append(seq, cp)
	}
	return nil
}

func (s *MemStore) TelemetryUpTo(vehicleID string, maxRowIndex int) ([]domain.TelemetryRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.telemetry[vehicleID]
	n := maxRowIndex + 1
	if n > len(seq) {
		n = len(seq)
	}
	if n <= 0 {
		return nil, nil
	}
	out := make([]domain.TelemetryRow, n)
	for i := 0; i < n; i++ {
		out[i] = seq[i]
		out[i].Sensors = copySensors(seq[i].Sensors)
	}
	return out, nil
}

func (s *MemStore) TelemetryCount(vehicleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.telemetry[vehicleID]), nil
}

// --- Predictions ---

func (s *MemStore) SavePrediction(ev *domain.PredictionEvent) (int64, error) {
	if ev == nil {
		return 0, fmt.Errorf("save prediction: nil event")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPred++
	cp := *ev
	cp.ID = s.nextPred
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.preds[cp.ID] = &cp
	ev.ID = cp.ID
	ev.CreatedAt = cp.CreatedAt
	return cp.ID, nil
}

func (s *MemStore) GetPrediction(id int64) (*domain.PredictionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.preds[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (s *MemStore) ListPredictionsByVehicle(vehicleID string, limit int) ([]*domain.PredictionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.PredictionEvent
	for _, ev := range s.preds {
		if ev.Outcome.VehicleID == vehicleID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Cases ---

func (s *MemStore) CreateCase(c *domain.Case) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("create case: missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.cases[c.ID]; exists {
		return fmt.Errorf("create case %s: %w", c.ID, ErrConflict)
	}
	now := time.Now().UTC()
	cp := cloneCase(c)
	if cp.CurrentState == "" {
		cp.CurrentState = domain.StateReceived
	}
	if cp.Severity == "" {
		cp.Severity = domain.SeverityUnknown
	}
	if len(cp.History) == 0 {
		cp.History = []domain.HistoryEntry{{State: cp.CurrentState, Timestamp: now, Note: "case opened"}}
	}
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.cases[cp.ID] = cp
	return nil
}

func (s *MemStore) GetCase(caseID string) (*domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCase(c), nil
}

func (s *MemStore) FindActiveCase(vehicleID string, pt domain.PredictionType) (*domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *domain.Case
	for _, c := range s.cases {
		if c.VehicleID != vehicleID || c.Metadata.PredictionType != pt || c.CurrentState.IsTerminal() {
			continue
		}
		if best == nil || c.CreatedAt.Before(best.CreatedAt) {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}
	return cloneCase(best), nil
}

func (s *MemStore) TransitionCase(caseID string, next domain.CaseState, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(caseID, next, note)
}

func (s *MemStore) transitionLocked(caseID string, next domain.CaseState, note string) error {
	c, ok := s.cases[caseID]
	if !ok {
		return fmt.Errorf("transition case %s: %w", caseID, ErrNotFound)
	}
	if !c.CurrentState.CanTransition(next) {
		return fmt.Errorf("case %s: %s -> %s: %w", caseID, c.CurrentState, next, ErrInvalidTransition)
	}
	now := time.Now().UTC()
	c.History = append(c.History, domain.HistoryEntry{State: next, Timestamp: now, Note: note})
	c.CurrentState = next
	c.UpdatedAt = now
	return nil
}

func (s *MemStore) SetCaseSeverity(caseID string, sev domain.Severity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return fmt.Errorf("set severity %s: %w", caseID, ErrNotFound)
	}
	// Severity only moves up once concrete.
	if sev.Rank() < c.Severity.Rank() {
		return nil
	}
	c.Severity = sev
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) SetAgentResult(caseID, stage string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return fmt.Errorf("set agent result %s: %w", caseID, ErrNotFound)
	}
	if c.AgentResults == nil {
		c.AgentResults = make(map[string]json.RawMessage)
	}
	c.AgentResults[stage] = append(json.RawMessage(nil), result...)
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) AttachPrediction(caseID string, predictionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return fmt.Errorf("attach prediction %s: %w", caseID, ErrNotFound)
	}
	c.RelatedPredictions = append(c.RelatedPredictions, predictionID)
	c.Metadata.RelatedCount = len(c.RelatedPredictions)
	if ev, ok := s.preds[predictionID]; ok {
		c.Metadata.EtaDays = ev.Outcome.EtaDays
		c.Metadata.Confidence = ev.Outcome.Confidence
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) FailCase(caseID, stage, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return fmt.Errorf("fail case %s: %w", caseID, ErrNotFound)
	}
	c.Metadata.FailedStage = stage
	c.Metadata.FailureReason = reason
	return s.transitionLocked(caseID, domain.StateFailed, fmt.Sprintf("stage %s: %s", stage, reason))
}

func (s *MemStore) CaseStatsByState() (map[domain.CaseState]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := make(map[domain.CaseState]int)
	for _, c := range s.cases {
		stats[c.CurrentState]++
	}
	return stats, nil
}

func (s *MemStore) ListCases(limit int) ([]*domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Case, 0, len(s.cases))
	for _, c := range s.cases {
		out = append(out, cloneCase(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Service centers ---

func (s *MemStore) UpsertCenter(c *domain.ServiceCenter) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("upsert center: missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.centers[c.ID] = cloneCenter(c)
	return nil
}

func (s *MemStore) GetCenter(centerID string) (*domain.ServiceCenter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.centers[centerID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCenter(c), nil
}

func (s *MemStore) ListActiveCenters(limit int) ([]*domain.ServiceCenter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.ServiceCenter
	for _, c := range s.centers {
		if c.Active {
			out = append(out, cloneCenter(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) NearestCenters(loc domain.GeoPoint, radiusKM float64, limit int) ([]*domain.ServiceCenter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type scored struct {
		c *domain.ServiceCenter
		d float64
	}
	var hits []scored
	for _, c := range s.centers {
		if !c.Active {
			continue
		}
		d := loc.DistanceKM(c.Location)
		if d <= radiusKM {
			hits = append(hits, scored{cloneCenter(c), d})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].d != hits[j].d {
			return hits[i].d < hits[j].d
		}
		return hits[i].c.ID < hits[j].c.ID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]*domain.ServiceCenter, len(hits))
	for i, h := range hits {
		out[i] = h.c
	}
	return out, nil
}

func (s *MemStore) ReserveSlot(centerID, date, band, caseID, vehicleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.centers[centerID]
	if !ok {
		return fmt.Errorf("reserve slot: center %s: %w", centerID, ErrNotFound)
	}
	for i := range c.Slots {
		sl := &c.Slots[i]
		if sl.Date == date && sl.Band == band {
			if sl.Status != domain.SlotAvailable {
				return fmt.Errorf("reserve slot %s %s/%s: %w", centerID, date, band, ErrSlotTaken)
			}
			sl.Status = domain.SlotBooked
			sl.CaseID = caseID
			sl.VehicleID = vehicleID
			return nil
		}
	}
	return fmt.Errorf("reserve slot: %s %s/%s: %w", centerID, date, band, ErrNotFound)
}

func (s *MemStore) ReleaseSlot(centerID, date, band string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.centers[centerID]
	if !ok {
		return fmt.Errorf("release slot: center %s: %w", centerID, ErrNotFound)
	}
	for i := range c.Slots {
		sl := &c.Slots[i]
		if sl.Date == date && sl.Band == band {
			sl.Status = domain.SlotAvailable
			sl.CaseID = ""
			sl.VehicleID = ""
			return nil
		}
	}
	return fmt.Errorf("release slot: %s %s/%s: %w", centerID, date, band, ErrNotFound)
}

// --- Profiles ---

func (s *MemStore) UpsertProfile(p *domain.UserProfile) error {
	if p == nil || p.UserID == "" {
		return fmt.Errorf("upsert profile: missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	if p.Location != nil {
		loc := *p.Location
		cp.Location = &loc
	}
	s.profiles[cp.UserID] = &cp
	return nil
}

func (s *MemStore) GetProfile(userID string) (*domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	if p.Location != nil {
		loc := *p.Location
		cp.Location = &loc
	}
	return &cp, nil
}

func (s *MemStore) Close() error { return nil }

// --- copy helpers ---

func copySensors(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	cp := make(map[string]float64, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func cloneCase(c *domain.Case) *domain.Case {
	cp := *c
	cp.History = append([]domain.HistoryEntry(nil), c.History...)
	cp.RelatedPredictions = append([]int64(nil), c.RelatedPredictions...)
	if c.AgentResults != nil {
		cp.AgentResults = make(map[string]json.RawMessage, len(c.AgentResults))
		for k, v := range c.AgentResults {
			cp.AgentResults[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &cp
}

func cloneCenter(c *domain.ServiceCenter) *domain.ServiceCenter {
	cp := *c
	cp.Specializations = append([]string(nil), c.Specializations...)
	cp.Slots = append([]domain.Slot(nil), c.Slots...)
	if c.Hours != nil {
		cp.Hours = make(map[string]string, len(c.Hours))
		for k, v := range c.Hours {
			cp.Hours[k] = v
		}
	}
	return &cp
}
