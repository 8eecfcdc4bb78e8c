package patient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ni-011/voiceMD-sub000/internal/domain/clinical"
	"github.com/Ni-011/voiceMD-sub000/internal/platform/db"
)

// SearchLimit caps name search results.
const SearchLimit = 50

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

const patientCols = `id, name, age, gender, phone, email, address, medical_history,
	doctor_id, last_visit, condition, status, created_at, updated_at`

func (r *repoPG) FindByNameAndContact(ctx context.Context, name, phone, email, doctorID string) (*Patient, error) {
	if phone == "" && email == "" {
		return nil, nil
	}
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `
		SELECT `+patientCols+` FROM patients
		WHERE doctor_id = $1 AND lower(name) = lower($2)
		  AND (($3 <> '' AND phone = $3) OR ($4 <> '' AND lower(email) = lower($4)))
		ORDER BY created_at
		LIMIT 1`,
		doctorID, name, phone, email,
	))
	if errors.Is(err, ErrPatientNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find patient by contact: %w", err)
	}
	return p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	p.MedicalHistory.Normalize()
	history, err := json.Marshal(p.MedicalHistory)
	if err != nil {
		return fmt.Errorf("encode medical history: %w", err)
	}

	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (
			id, name, age, gender, phone, email, address, medical_history,
			doctor_id, last_visit, condition, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Age, p.Gender, p.Phone, p.Email, p.Address, history,
		p.DoctorID, p.LastVisit, p.Condition, string(p.Status),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", id, err)
	}
	return p, nil
}

func (r *repoPG) Update(ctx context.Context, id uuid.UUID, f UpdateFields) (*Patient, error) {
	if f.Empty() {
		return r.GetByID(ctx, id)
	}

	args := []interface{}{id}
	var sets []string
	set := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if f.Name != nil {
		set("name", *f.Name)
	}
	if f.Age != nil {
		set("age", *f.Age)
	}
	if f.Gender != nil {
		set("gender", *f.Gender)
	}
	if f.Phone != nil {
		set("phone", StringPtr(*f.Phone))
	}
	if f.Email != nil {
		set("email", StringPtr(*f.Email))
	}
	if f.Address != nil {
		set("address", StringPtr(*f.Address))
	}
	if f.Condition != nil {
		set("condition", StringPtr(*f.Condition))
	}
	if f.MedicalHistory != nil {
		f.MedicalHistory.Normalize()
		history, err := json.Marshal(f.MedicalHistory)
		if err != nil {
			return nil, fmt.Errorf("encode medical history: %w", err)
		}
		set("medical_history", history)
	}

	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`UPDATE patients SET `+strings.Join(sets, ", ")+`, updated_at = NOW() WHERE id = $1 RETURNING `+patientCols,
		args...,
	))
	if err != nil {
		return nil, fmt.Errorf("update patient %s: %w", id, err)
	}
	return p, nil
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status clinical.Status) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`UPDATE patients SET status = $2, updated_at = NOW() WHERE id = $1 RETURNING `+patientCols,
		id, string(status),
	))
	if err != nil {
		return nil, fmt.Errorf("update patient status %s: %w", id, err)
	}
	return p, nil
}

func (r *repoPG) TouchLastVisit(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE patients SET last_visit = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch last visit %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *repoPG) ListByDoctor(ctx context.Context, doctorID string, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM patients WHERE doctor_id = $1`, doctorID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+patientCols+` FROM patients
		WHERE doctor_id = $1
		ORDER BY last_visit DESC NULLS LAST, created_at DESC
		LIMIT $2 OFFSET $3`,
		doctorID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	patients, err := collectPatients(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	return patients, total, nil
}

func (r *repoPG) SearchByName(ctx context.Context, doctorID, text string) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+patientCols+` FROM patients
		WHERE doctor_id = $1 AND name ILIKE $2 ESCAPE '\'
		ORDER BY name
		LIMIT $3`,
		doctorID, "%"+escapeLike(text)+"%", SearchLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	patients, err := collectPatients(rows)
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	return patients, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes text match literally inside an ILIKE pattern.
func escapeLike(text string) string {
	return likeEscaper.Replace(text)
}

func collectPatients(rows pgx.Rows) ([]*Patient, error) {
	defer rows.Close()
	patients := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var history []byte
	var status string
	err := row.Scan(
		&p.ID, &p.Name, &p.Age, &p.Gender, &p.Phone, &p.Email, &p.Address, &history,
		&p.DoctorID, &p.LastVisit, &p.Condition, &status, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &p.MedicalHistory); err != nil {
			return nil, fmt.Errorf("decode medical history: %w", err)
		}
	}
	p.MedicalHistory.Normalize()
	p.Status = clinical.Status(status)
	return &p, nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}
