package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PatientRecord is the durable history row written for every admission.
type PatientRecord struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	SessionID          string    `db:"session_id" json:"session_id"`
	PatientID          string    `db:"patient_id" json:"patient_id"`
	RiskLevel          string    `db:"risk_level" json:"risk_level"`
	PrimaryDepartment  string    `db:"primary_department" json:"primary_department"`
	AssignedDepartment string    `db:"assigned_department" json:"recommended_department"`
	LoadBalanced       bool      `db:"load_balanced" json:"load_balanced"`
	QueuePosition      int       `db:"queue_position" json:"queue_position"`
	AdmittedAt         time.Time `db:"admitted_at" json:"admitted_at"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`

	Vitals
}

// HistoryRepository persists admitted patients outside the engine.
type HistoryRepository interface {
	Create(ctx context.Context, r *PatientRecord) error
	List(ctx context.Context, limit, offset int) ([]*PatientRecord, int, error)
	ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*PatientRecord, int, error)
}

// CapacityStore persists the department capacity table. Load reports
// found=false when nothing has been stored yet.
type CapacityStore interface {
	Load(ctx context.Context) (capacities map[string]int, found bool, err error)
	Save(ctx context.Context, capacities map[string]int) error
}

// LoadCapacities reads the stored table, falling back to DefaultCapacities
// and writing them back when the store is empty. A failed write-back is
// logged and does not prevent startup.
func LoadCapacities(ctx context.Context, store CapacityStore, logger zerolog.Logger) (map[string]int, error) {
	caps, found, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load department capacity: %w", err)
	}
	if found && len(caps) > 0 {
		for name, c := range caps {
			if c <= 0 {
				return nil, fmt.Errorf("stored capacity for %s: %w", name, ErrInvalidCapacity)
			}
		}
		return caps, nil
	}

	caps = DefaultCapacities()
	if err := store.Save(ctx, caps); err != nil {
		logger.Warn().Err(err).Msg("failed to persist default department capacity")
	}
	return caps, nil
}
