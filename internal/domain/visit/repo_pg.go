package visit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ni-011/voiceMD-sub000/internal/domain/patient"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/db"
)

const foreignKeyViolation = "23503"

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	v.ID = uuid.New()
	v.Prescriptions.Normalize()
	if v.Diagnosis == nil {
		v.Diagnosis = []string{}
	}
	rx, err := json.Marshal(v.Prescriptions)
	if err != nil {
		return fmt.Errorf("encode prescriptions: %w", err)
	}

	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	v.UpdatedAt = v.CreatedAt

	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO visits (id, diagnosis, prescriptions, patient_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`,
		v.ID, v.Diagnosis, rx, v.PatientID, v.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return patient.ErrPatientNotFound
		}
		return fmt.Errorf("insert visit: %w", err)
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Summary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, created_at FROM visits
		WHERE patient_id = $1
		ORDER BY created_at DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Date); err != nil {
			return nil, fmt.Errorf("scan visit summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (r *repoPG) Get(ctx context.Context, patientID, visitID uuid.UUID) (*Visit, error) {
	var v Visit
	var rx []byte
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, diagnosis, prescriptions, patient_id, created_at, updated_at
		FROM visits WHERE id = $1 AND patient_id = $2`,
		visitID, patientID,
	).Scan(&v.ID, &v.Diagnosis, &rx, &v.PatientID, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVisitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get visit %s: %w", visitID, err)
	}
	if len(rx) > 0 {
		if err := json.Unmarshal(rx, &v.Prescriptions); err != nil {
			return nil, fmt.Errorf("decode prescriptions: %w", err)
		}
	}
	v.Prescriptions.Normalize()
	if v.Diagnosis == nil {
		v.Diagnosis = []string{}
	}
	return &v, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
