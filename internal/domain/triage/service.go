package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/ehr/triage/internal/platform/websocket"
)

// Event types published to the live status hub.
const (
	EventPatientAdmitted = "triage.patient.admitted"
	EventSessionReset    = "triage.session.reset"
	EventCapacityUpdated = "triage.capacity.updated"
)

// PatientInput is one admission as submitted by a client. Risk and
// department are optional; when either is missing the classifier decides.
type PatientInput struct {
	PatientID         string
	RiskLevel         string
	PrimaryDepartment string
	Vitals            Vitals
}

// Service combines the classifier and the engine and fans admissions out to
// history, metrics and live events.
type Service struct {
	engine     *Engine
	classifier Classifier
	logger     zerolog.Logger

	recorder  *Recorder
	history   HistoryRepository
	capacity  CapacityStore
	publisher websocket.EventPublisher
	metrics   *Metrics

	// persistMu orders capacity saves with their in-memory updates.
	persistMu sync.Mutex
}

func NewService(engine *Engine, classifier Classifier, logger zerolog.Logger) *Service {
	return &Service{
		engine:     engine,
		classifier: classifier,
		logger:     logger.With().Str("component", "triage_service").Logger(),
	}
}

func (s *Service) SetRecorder(r *Recorder)                 { s.recorder = r }
func (s *Service) SetHistory(h HistoryRepository)          { s.history = h }
func (s *Service) SetCapacityStore(c CapacityStore)        { s.capacity = c }
func (s *Service) SetPublisher(p websocket.EventPublisher) { s.publisher = p }
func (s *Service) SetMetrics(m *Metrics)                   { s.metrics = m }

// Admit classifies (when needed) and admits one patient.
func (s *Service) Admit(ctx context.Context, in PatientInput) (*AdmissionResult, error) {
	req, err := s.prepare(ctx, &in)
	if err != nil {
		s.metrics.failed(failureReason(err))
		return nil, err
	}

	res, err := s.engine.Admit(req)
	if err != nil {
		s.metrics.failed(failureReason(err))
		return nil, err
	}
	s.admitted(ctx, in, res)
	s.observe()
	return res, nil
}

// AdmitBatch admits every input in order. Entries that fail classification
// or admission carry their error; the rest are admitted.
func (s *Service) AdmitBatch(ctx context.Context, inputs []PatientInput) []BatchItem {
	items := make([]BatchItem, len(inputs))
	reqs := make([]AdmitRequest, 0, len(inputs))
	index := make([]int, 0, len(inputs))

	for i := range inputs {
		req, err := s.prepare(ctx, &inputs[i])
		if err != nil {
			s.metrics.failed(failureReason(err))
			items[i] = BatchItem{Request: req, Err: err}
			continue
		}
		reqs = append(reqs, req)
		index = append(index, i)
	}

	for j, item := range s.engine.AdmitBatch(reqs) {
		i := index[j]
		items[i] = item
		if item.Err != nil {
			s.metrics.failed(failureReason(item.Err))
			continue
		}
		s.admitted(ctx, inputs[i], item.Result)
	}
	s.observe()
	return items
}

// prepare fills in a missing patient id and resolves risk and department,
// calling the classifier only when the input lacks one of them.
func (s *Service) prepare(ctx context.Context, in *PatientInput) (AdmitRequest, error) {
	in.PatientID = strings.TrimSpace(in.PatientID)
	if in.PatientID == "" {
		in.PatientID = "P_" + ulid.Make().String()
	}
	req := AdmitRequest{
		PatientID:         in.PatientID,
		PrimaryDepartment: strings.TrimSpace(in.PrimaryDepartment),
	}
	riskText := strings.TrimSpace(in.RiskLevel)

	// Validate a supplied risk before any classifier call.
	if riskText != "" {
		risk, ok := ParseRiskLevel(riskText)
		if !ok {
			return req, fmt.Errorf("%w: unknown risk level %q", ErrValidation, riskText)
		}
		req.Risk = risk
	}

	if riskText == "" || req.PrimaryDepartment == "" {
		cls, err := s.classify(ctx, in.Vitals)
		if err != nil {
			return req, err
		}
		if riskText == "" {
			req.Risk = cls.Risk
		}
		if req.PrimaryDepartment == "" {
			req.PrimaryDepartment = cls.Department
		}
	}
	return req, nil
}

func (s *Service) classify(ctx context.Context, v Vitals) (Classification, error) {
	if s.classifier == nil {
		return Classification{}, fmt.Errorf("%w: no classifier configured", ErrClassifierUnavailable)
	}
	start := time.Now()
	cls, err := s.classifier.Classify(ctx, v)
	s.metrics.classified(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrClassifierUnavailable) {
			return Classification{}, err
		}
		return Classification{}, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}
	return cls, nil
}

func (s *Service) admitted(ctx context.Context, in PatientInput, res *AdmissionResult) {
	s.metrics.admitted(res)
	s.logger.Debug().
		Str("patient_id", res.PatientID).
		Str("risk_level", res.Risk.String()).
		Str("department", res.Department).
		Bool("load_balanced", res.WasLoadBalanced).
		Int("queue_position", res.QueuePosition).
		Msg("patient admitted")

	if s.recorder != nil {
		s.recorder.Enqueue(&PatientRecord{
			SessionID:          res.SessionID,
			PatientID:          res.PatientID,
			RiskLevel:          res.Risk.String(),
			PrimaryDepartment:  res.PrimaryDepartment,
			AssignedDepartment: res.Department,
			LoadBalanced:       res.WasLoadBalanced,
			QueuePosition:      res.QueuePosition,
			AdmittedAt:         res.AdmittedAt,
			Vitals:             in.Vitals,
		})
	}

	payload := map[string]interface{}{
		"patient_id":          res.PatientID,
		"risk_level":          res.Risk.String(),
		"primary_department":  res.PrimaryDepartment,
		"assigned_department": res.Department,
		"load_balanced":       res.WasLoadBalanced,
		"queue_position":      res.QueuePosition,
	}
	s.publish(ctx, EventPatientAdmitted, res.SessionID, res.PatientID, payload, res.Department)
}

func (s *Service) observe() {
	if s.metrics == nil {
		return
	}
	s.metrics.observeQueues(s.engine.Counts())
}

// Reset starts a new session and returns its id.
func (s *Service) Reset(ctx context.Context) string {
	id := s.engine.Reset()
	s.metrics.reset()
	s.observe()
	s.logger.Info().Str("session_id", id).Msg("triage session reset")
	s.publish(ctx, EventSessionReset, id, "", nil)
	return id
}

// UpdateCapacity changes one department's capacity and persists the whole
// table. The in-memory change stands even when persistence fails; persisted
// reports the outcome.
func (s *Service) UpdateCapacity(ctx context.Context, department string, capacity int) (CapacityChange, bool, error) {
	change, persisted, err := s.setAndPersist(ctx, department, capacity)
	if err != nil {
		return CapacityChange{}, false, err
	}
	s.metrics.capacityUpdated(persisted)
	s.logger.Info().
		Str("department", change.Department).
		Int("old_capacity", change.OldCapacity).
		Int("new_capacity", change.NewCapacity).
		Msg("department capacity updated")

	s.publish(ctx, EventCapacityUpdated, s.engine.SessionID(), change.Department, map[string]interface{}{
		"department":   change.Department,
		"old_capacity": change.OldCapacity,
		"new_capacity": change.NewCapacity,
	}, change.Department)
	return change, persisted, nil
}

// setAndPersist holds persistMu from the engine update through the save so
// that the last table written is the last one applied. The engine lock is
// not held during the save.
func (s *Service) setAndPersist(ctx context.Context, department string, capacity int) (CapacityChange, bool, error) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	change, err := s.engine.SetCapacity(department, capacity)
	if err != nil {
		return CapacityChange{}, false, err
	}
	if s.capacity == nil {
		return change, true, nil
	}
	if err := s.capacity.Save(ctx, s.engine.Capacities()); err != nil {
		s.logger.Warn().Err(err).
			Str("department", department).
			Int("capacity", capacity).
			Msg("failed to persist department capacity")
		return change, false, nil
	}
	return change, true, nil
}

func (s *Service) Status() StatusReport {
	return s.engine.Status()
}

func (s *Service) PrioritizedQueue(department, category string) (*QueueView, error) {
	return s.engine.PrioritizedQueue(department, category)
}

func (s *Service) Utilization() UtilizationReport {
	return s.engine.Utilization()
}

func (s *Service) Capacities() map[string]int {
	return s.engine.Capacities()
}

// History lists persisted admissions, optionally for a single session.
func (s *Service) History(ctx context.Context, sessionID string, limit, offset int) ([]*PatientRecord, int, error) {
	if s.history == nil {
		return nil, 0, nil
	}
	if sessionID != "" {
		return s.history.ListBySession(ctx, sessionID, limit, offset)
	}
	return s.history.List(ctx, limit, offset)
}

// publish sends the event to the default topic and to each department topic.
func (s *Service) publish(ctx context.Context, eventType, sessionID, subject string, payload interface{}, departments ...string) {
	if s.publisher == nil {
		return
	}
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error().Err(err).Str("type", eventType).Msg("failed to marshal event payload")
			return
		}
		data = b
	}

	topics := []string{websocket.DefaultTopic}
	for _, d := range departments {
		topics = append(topics, websocket.DefaultTopic+"/"+d)
	}
	now := time.Now().UTC()
	for _, topic := range topics {
		ev := websocket.Event{
			Type:      eventType,
			Topic:     topic,
			SessionID: sessionID,
			Subject:   subject,
			Timestamp: now,
			Data:      data,
		}
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.Warn().Err(err).Str("type", eventType).Str("topic", topic).Msg("failed to publish event")
		}
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnknownDepartment):
		return "unknown_department"
	case errors.Is(err, ErrDuplicatePatient):
		return "duplicate"
	case errors.Is(err, ErrClassifierUnavailable):
		return "classifier_unavailable"
	default:
		return "internal"
	}
}
