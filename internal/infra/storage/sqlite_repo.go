package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/MRamiBalles/malfunction-engine/internal/domain/fault"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/marstime"
	"github.com/MRamiBalles/malfunction-engine/internal/domain/part"
	"github.com/MRamiBalles/malfunction-engine/internal/malfunction"
)

const incidentColumns = `id, entity_id, event_type, actor_id, incident_id, fault, payload, mission_sol, millisol, timestamp`

// SQLiteEventRepository implements EventRepository for SQLite.
type SQLiteEventRepository struct {
	db *sql.DB
}

func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db}
}

func (r *SQLiteEventRepository) Append(ctx context.Context, rec IncidentRecord) error {
	payloadBytes, err := json.Marshal(rec.Payload)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}

	query := `INSERT INTO incidents (` + incidentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.EntityID, rec.EventType, rec.ActorID, rec.IncidentID,
		rec.Fault, string(payloadBytes), rec.MissionSol, rec.Millisol, rec.Timestamp,
	)
	if err != nil {
		return errors.Wrapf(err, "append %s", rec.EventType)
	}
	return nil
}

func (r *SQLiteEventRepository) getMany(ctx context.Context, query string, args ...interface{}) ([]IncidentRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []IncidentRecord
	for rows.Next() {
		var e IncidentRecord
		var payloadStr string
		err := rows.Scan(
			&e.ID, &e.EntityID, &e.EventType, &e.ActorID, &e.IncidentID,
			&e.Fault, &payloadStr, &e.MissionSol, &e.Millisol, &e.Timestamp,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payloadStr), &e.Payload); err != nil {
			return nil, errors.Wrapf(err, "payload of %s", e.ID)
		}
		recs = append(recs, e)
	}
	return recs, rows.Err()
}

func (r *SQLiteEventRepository) GetByEntity(ctx context.Context, entityID string) ([]IncidentRecord, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE entity_id = ? ORDER BY mission_sol, millisol, rowid`
	return r.getMany(ctx, query, entityID)
}

func (r *SQLiteEventRepository) GetByType(ctx context.Context, eventType string) ([]IncidentRecord, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE event_type = ? ORDER BY mission_sol, millisol, rowid`
	return r.getMany(ctx, query, eventType)
}

func (r *SQLiteEventRepository) LastIncidentID(ctx context.Context) (int64, error) {
	var last sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(incident_id) FROM incidents`).Scan(&last); err != nil {
		return 0, errors.Wrap(err, "last incident id")
	}
	return last.Int64, nil
}

func (r *SQLiteEventRepository) LastMissionTime(ctx context.Context) (marstime.MarsTime, bool, error) {
	var (
		sol      int
		millisol float64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT mission_sol, millisol FROM incidents ORDER BY mission_sol DESC, millisol DESC LIMIT 1`,
	).Scan(&sol, &millisol)
	if errors.Is(err, sql.ErrNoRows) {
		return marstime.MarsTime{}, false, nil
	}
	if err != nil {
		return marstime.MarsTime{}, false, errors.Wrap(err, "last mission time")
	}
	return marstime.New(sol, millisol), true, nil
}

// ---------------------------------------------------------
// SQLiteReliabilityRepository
// ---------------------------------------------------------

type SQLiteReliabilityRepository struct {
	db *sql.DB
}

func NewSQLiteReliabilityRepository(db *sql.DB) *SQLiteReliabilityRepository {
	return &SQLiteReliabilityRepository{db: db}
}

// SaveModel writes the whole snapshot in one transaction.
func (r *SQLiteReliabilityRepository) SaveModel(ctx context.Context, faults []malfunction.FaultLearning, parts []PartRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin snapshot")
	}
	defer tx.Rollback()

	now := time.Now()
	faultQuery := `
		INSERT INTO fault_learning (fault, probability, parts_json, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fault) DO UPDATE SET
			probability=excluded.probability,
			parts_json=excluded.parts_json,
			last_updated=excluded.last_updated
	`
	for _, f := range faults {
		partsJSON, err := json.Marshal(f.Parts)
		if err != nil {
			return errors.Wrapf(err, "marshal parts of %s", f.Fault)
		}
		if _, err := tx.ExecContext(ctx, faultQuery, f.Fault, f.Probability, string(partsJSON), now); err != nil {
			return errors.Wrapf(err, "save fault %s", f.Fault)
		}
	}

	partQuery := `
		INSERT INTO part_reliability (part_id, start_sol, cum_failures, mtbf, failure_rate, reliability, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(part_id) DO UPDATE SET
			start_sol=excluded.start_sol,
			cum_failures=excluded.cum_failures,
			mtbf=excluded.mtbf,
			failure_rate=excluded.failure_rate,
			reliability=excluded.reliability,
			last_updated=excluded.last_updated
	`
	for _, p := range parts {
		s := p.Stats
		if _, err := tx.ExecContext(ctx, partQuery, int(p.PartID), s.StartSol, s.CumFailures, s.MTBF, s.FailureRate, s.Reliability, now); err != nil {
			return errors.Wrapf(err, "save part %d", p.PartID)
		}
	}

	return errors.Wrap(tx.Commit(), "commit snapshot")
}

func (r *SQLiteReliabilityRepository) LoadModel(ctx context.Context) ([]malfunction.FaultLearning, []PartRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT fault, probability, parts_json FROM fault_learning ORDER BY fault`)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load faults")
	}
	var faults []malfunction.FaultLearning
	for rows.Next() {
		var f malfunction.FaultLearning
		var partsJSON string
		if err := rows.Scan(&f.Fault, &f.Probability, &partsJSON); err != nil {
			rows.Close()
			return nil, nil, err
		}
		var weights []fault.RepairPart
		if err := json.Unmarshal([]byte(partsJSON), &weights); err != nil {
			rows.Close()
			return nil, nil, errors.Wrapf(err, "parts of %s", f.Fault)
		}
		f.Parts = weights
		faults = append(faults, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	rows, err = r.db.QueryContext(ctx, `SELECT part_id, start_sol, cum_failures, mtbf, failure_rate, reliability FROM part_reliability ORDER BY part_id`)
	if err != nil {
		return nil, nil, errors.Wrap(err, "load parts")
	}
	defer rows.Close()
	var parts []PartRecord
	for rows.Next() {
		var id int
		var s part.Stats
		if err := rows.Scan(&id, &s.StartSol, &s.CumFailures, &s.MTBF, &s.FailureRate, &s.Reliability); err != nil {
			return nil, nil, err
		}
		parts = append(parts, PartRecord{PartID: part.ID(id), Stats: s})
	}
	return faults, parts, rows.Err()
}
