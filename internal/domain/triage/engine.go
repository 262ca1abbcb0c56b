package triage

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultServiceMinutes is the assumed time to serve one queued patient.
const DefaultServiceMinutes = 2.5

// Engine owns all in-flight triage state: the per-department queues, the
// patient registry, department capacities and the current session. Every
// mutation is serialized by one write lock; reads share a read lock and
// return copies.
type Engine struct {
	mu       sync.RWMutex
	registry *Registry
	queues   map[string]*Queue
	patients map[string]*Entry
	balancer *Balancer
	session  string
	seq      uint64

	now            func() time.Time
	serviceMinutes float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now, mainly for simulated-time tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithAverageServiceMinutes sets the per-patient service time used for wait
// estimates. Non-positive values are ignored.
func WithAverageServiceMinutes(m float64) Option {
	return func(e *Engine) {
		if m > 0 {
			e.serviceMinutes = m
		}
	}
}

// NewEngine builds an engine over the given capacity table and opens a
// first session.
func NewEngine(capacities map[string]int, opts ...Option) (*Engine, error) {
	reg, err := NewRegistry(capacities)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		registry:       reg,
		now:            time.Now,
		serviceMinutes: DefaultServiceMinutes,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resetLocked()
	return e, nil
}

// Reset clears every queue and the patient registry and returns the id of
// the new session. It holds the write lock for its whole duration.
func (e *Engine) Reset() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resetLocked()
}

func (e *Engine) resetLocked() string {
	e.queues = make(map[string]*Queue, len(e.registry.Departments()))
	for _, name := range e.registry.Departments() {
		e.queues[name] = &Queue{}
	}
	e.patients = make(map[string]*Entry)
	e.balancer = &Balancer{registry: e.registry, queues: e.queues}
	e.session = newSessionID(e.now())
	return e.session
}

// SessionID returns the current session id.
func (e *Engine) SessionID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

// Admit places one classified patient. The request is fully validated
// before any state changes.
func (e *Engine) Admit(req AdmitRequest) (*AdmissionResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.admitLocked(req)
}

// AdmitBatch admits each request in order. A failing entry is reported in
// its BatchItem and does not stop or undo the others.
func (e *Engine) AdmitBatch(reqs []AdmitRequest) []BatchItem {
	e.mu.Lock()
	defer e.mu.Unlock()

	items := make([]BatchItem, len(reqs))
	for i, req := range reqs {
		res, err := e.admitLocked(req)
		items[i] = BatchItem{Request: req, Result: res, Err: err}
	}
	return items
}

func (e *Engine) admitLocked(req AdmitRequest) (*AdmissionResult, error) {
	if strings.TrimSpace(req.PatientID) == "" {
		return nil, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if !req.Risk.Valid() {
		return nil, fmt.Errorf("%w: risk level is required", ErrValidation)
	}
	if !e.registry.Has(req.PrimaryDepartment) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDepartment, req.PrimaryDepartment)
	}
	if _, exists := e.patients[req.PatientID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePatient, req.PatientID)
	}

	target, balanced, err := e.balancer.Assign(req.PrimaryDepartment)
	if err != nil {
		return nil, err
	}

	now := e.now()
	e.seq++
	entry := &Entry{
		PatientID:   req.PatientID,
		Risk:        req.Risk,
		Department:  target,
		ArrivalTime: now,
		seq:         e.seq,
	}
	q := e.queues[target]
	q.Append(entry)
	e.patients[entry.PatientID] = entry

	pos := q.Len()
	return &AdmissionResult{
		PatientID:            entry.PatientID,
		Risk:                 entry.Risk,
		PrimaryDepartment:    req.PrimaryDepartment,
		Department:           target,
		QueuePosition:        pos,
		EstimatedWaitMinutes: float64(pos) * e.serviceMinutes,
		WasLoadBalanced:      balanced,
		AdmittedAt:           now,
		SessionID:            e.session,
	}, nil
}

// Status reports live occupancy for every department in name order.
func (e *Engine) Status() StatusReport {
	snap := e.snapshot()
	report := StatusReport{
		SessionID:     snap.session,
		TotalPatients: snap.total,
		GeneratedAt:   snap.at,
		Departments:   make([]DepartmentStatus, 0, len(snap.loads)),
	}
	for _, l := range snap.loads {
		util := percent(l.count, l.capacity)
		tier, warning := TierFor(util)
		report.Departments = append(report.Departments, DepartmentStatus{
			Department:           l.name,
			CurrentCount:         l.count,
			Capacity:             l.capacity,
			UtilizationPct:       util,
			Tier:                 tier,
			Warning:              warning,
			HighCount:            l.high,
			MediumCount:          l.medium,
			LowCount:             l.low,
			EstimatedWaitMinutes: float64(l.count) * e.serviceMinutes,
		})
	}
	return report
}

// PrioritizedQueue returns a department's queue ordered by live priority.
// category may be "", "all", a risk level, or a department name matched
// against each entry's stored department. Any other value does not filter.
func (e *Engine) PrioritizedQueue(department, category string) (*QueueView, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	q, ok := e.queues[department]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDepartment, department)
	}

	now := e.now()
	scored := q.Snapshot(categoryFilter(category, e.registry), now)
	view := &QueueView{
		Department:     department,
		CategoryFilter: category,
		Items:          make([]QueueItem, len(scored)),
		TotalInQueue:   q.Len(),
		FilteredCount:  len(scored),
		GeneratedAt:    now,
	}
	for i, s := range scored {
		view.Items[i] = QueueItem{
			Position:      i + 1,
			PatientID:     s.Entry.PatientID,
			Risk:          s.Entry.Risk,
			Department:    s.Entry.Department,
			PriorityScore: s.Score,
			WaitMinutes:   s.Entry.WaitMinutes(now),
			ArrivalTime:   s.Entry.ArrivalTime,
		}
	}
	return view, nil
}

func categoryFilter(category string, reg *Registry) func(*Entry) bool {
	if category == "" || strings.EqualFold(category, "all") {
		return nil
	}
	if risk, ok := ParseRiskLevel(category); ok {
		return func(e *Entry) bool { return e.Risk == risk }
	}
	if reg.Has(category) {
		return func(e *Entry) bool { return e.Department == category }
	}
	return nil
}

// Utilization derives utilization and efficiency metrics from current state.
func (e *Engine) Utilization() UtilizationReport {
	return buildUtilization(e.snapshot())
}

// SetCapacity updates one department's capacity. Already admitted patients
// are unaffected; the new value applies to subsequent admissions.
func (e *Engine) SetCapacity(department string, capacity int) (CapacityChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.SetCapacity(department, capacity)
}

// Capacity returns one department's capacity.
func (e *Engine) Capacity(department string) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Capacity(department)
}

// Capacities returns a copy of the capacity table.
func (e *Engine) Capacities() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.registry.Capacities()
}

// Departments returns the known department names in sorted order.
func (e *Engine) Departments() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.registry.Departments()...)
}

// Counts returns the queue length of every department and the size of the
// patient registry, read under one lock.
func (e *Engine) Counts() (map[string]int, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	counts := make(map[string]int, len(e.queues))
	for name, q := range e.queues {
		counts[name] = q.Len()
	}
	return counts, len(e.patients)
}

type departmentLoad struct {
	name              string
	capacity          int
	count             int
	high, medium, low int
}

type engineSnapshot struct {
	session string
	total   int
	at      time.Time
	loads   []departmentLoad
}

func (e *Engine) snapshot() engineSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := e.registry.Departments()
	snap := engineSnapshot{
		session: e.session,
		total:   len(e.patients),
		at:      e.now(),
		loads:   make([]departmentLoad, 0, len(names)),
	}
	for _, name := range names {
		q := e.queues[name]
		high, medium, low := q.countByRisk()
		capacity, _ := e.registry.Capacity(name)
		snap.loads = append(snap.loads, departmentLoad{
			name:     name,
			capacity: capacity,
			count:    q.Len(),
			high:     high,
			medium:   medium,
			low:      low,
		})
	}
	return snap
}

func percent(n, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return float64(n) / float64(capacity) * 100
}

func newSessionID(t time.Time) string {
	return "SESSION_" + ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}
