package triage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== History Repository ===========

type historyRepoPG struct{ db queryable }

func NewHistoryRepoPG(pool *pgxpool.Pool) HistoryRepository { return &historyRepoPG{db: pool} }

const historyCols = `id, session_id, patient_id, age, gender, blood_pressure_systolic, blood_pressure_diastolic,
	heart_rate, temperature, oxygen_saturation, pain_level, symptoms, pre_existing_conditions,
	risk_level, primary_department, assigned_department, load_balanced, queue_position,
	admitted_at, created_at`

func (r *historyRepoPG) scan(row pgx.Row) (*PatientRecord, error) {
	var p PatientRecord
	err := row.Scan(&p.ID, &p.SessionID, &p.PatientID, &p.Age, &p.Gender,
		&p.BloodPressureSystolic, &p.BloodPressureDiastolic,
		&p.HeartRate, &p.Temperature, &p.OxygenSaturation, &p.PainLevel, &p.Symptoms, &p.PreExistingConditions,
		&p.RiskLevel, &p.PrimaryDepartment, &p.AssignedDepartment, &p.LoadBalanced, &p.QueuePosition,
		&p.AdmittedAt, &p.CreatedAt)
	return &p, err
}

func (r *historyRepoPG) Create(ctx context.Context, p *PatientRecord) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO patient_triage_history (id, session_id, patient_id, age, gender,
			blood_pressure_systolic, blood_pressure_diastolic, heart_rate, temperature,
			oxygen_saturation, pain_level, symptoms, pre_existing_conditions,
			risk_level, primary_department, assigned_department, load_balanced, queue_position, admitted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING created_at`,
		p.ID, p.SessionID, p.PatientID, p.Age, p.Gender,
		p.BloodPressureSystolic, p.BloodPressureDiastolic, p.HeartRate, p.Temperature,
		p.OxygenSaturation, p.PainLevel, p.Symptoms, p.PreExistingConditions,
		p.RiskLevel, p.PrimaryDepartment, p.AssignedDepartment, p.LoadBalanced, p.QueuePosition, p.AdmittedAt,
	).Scan(&p.CreatedAt)
}

func (r *historyRepoPG) List(ctx context.Context, limit, offset int) ([]*PatientRecord, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM patient_triage_history`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+historyCols+` FROM patient_triage_history ORDER BY admitted_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return r.collect(rows, total)
}

func (r *historyRepoPG) ListBySession(ctx context.Context, sessionID string, limit, offset int) ([]*PatientRecord, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM patient_triage_history WHERE session_id = $1`, sessionID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT `+historyCols+` FROM patient_triage_history WHERE session_id = $1 ORDER BY admitted_at DESC LIMIT $2 OFFSET $3`, sessionID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return r.collect(rows, total)
}

func (r *historyRepoPG) collect(rows pgx.Rows, total int) ([]*PatientRecord, int, error) {
	defer rows.Close()
	var items []*PatientRecord
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// =========== Capacity Store ===========

type capacityRepoPG struct{ pool *pgxpool.Pool }

func NewCapacityStorePG(pool *pgxpool.Pool) CapacityStore { return &capacityRepoPG{pool: pool} }

func (r *capacityRepoPG) Load(ctx context.Context) (map[string]int, bool, error) {
	rows, err := r.pool.Query(ctx, `SELECT department, capacity FROM department_capacity`)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	caps := make(map[string]int)
	for rows.Next() {
		var name string
		var c int
		if err := rows.Scan(&name, &c); err != nil {
			return nil, false, fmt.Errorf("scan department capacity: %w", err)
		}
		caps[name] = c
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return caps, len(caps) > 0, nil
}

// Save upserts every row in one transaction. Departments absent from caps
// are left untouched.
func (r *capacityRepoPG) Save(ctx context.Context, caps map[string]int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for name, c := range caps {
		batch.Queue(`
			INSERT INTO department_capacity (department, capacity, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (department) DO UPDATE SET capacity = EXCLUDED.capacity, updated_at = NOW()`,
			name, c)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert department capacity: %w", err)
	}
	return tx.Commit(ctx)
}
