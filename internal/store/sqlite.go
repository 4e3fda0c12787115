package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lifecare-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. The pool is limited
// to one connection so every transaction is a single writer.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS plans (
	id           TEXT PRIMARY KEY,
	case_id      TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'draft',
	params       TEXT NOT NULL,
	signature    TEXT NOT NULL DEFAULT '',
	finalized_by TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL,
	completed_at DATETIME
);

CREATE TABLE IF NOT EXISTS items (
	id               TEXT PRIMARY KEY,
	plan_id          TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	position         INTEGER NOT NULL,
	category         TEXT NOT NULL,
	name             TEXT NOT NULL,
	comment          TEXT NOT NULL DEFAULT '',
	cpt_code         TEXT NOT NULL DEFAULT '',
	unit_cost        REAL NOT NULL,
	cost_range_min   REAL,
	cost_range_max   REAL,
	frequency        TEXT NOT NULL DEFAULT '',
	annual_units     REAL NOT NULL,
	base_annual_cost REAL NOT NULL,
	sources          TEXT NOT NULL,
	confidence_score REAL NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	doctor_notes     TEXT NOT NULL DEFAULT '',
	follow_up        INTEGER NOT NULL DEFAULT 0,
	version          INTEGER NOT NULL DEFAULT 1,
	projection       TEXT,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_id         TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	item_id         TEXT NOT NULL,
	seq             INTEGER NOT NULL,
	action          TEXT NOT NULL,
	actor           TEXT NOT NULL,
	previous_status TEXT NOT NULL,
	new_status      TEXT NOT NULL,
	notes           TEXT NOT NULL DEFAULT '',
	previous_cost   REAL,
	new_cost        REAL,
	follow_up       INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL,
	UNIQUE (item_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_items_plan ON items(plan_id, position);
CREATE INDEX IF NOT EXISTS idx_items_plan_status ON items(plan_id, status);
CREATE INDEX IF NOT EXISTS idx_audit_log_plan ON audit_log(plan_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreatePlan(ctx context.Context, plan *model.LifeCarePlan) error {
	preparePlan(plan, time.Now().UTC())

	paramsJSON, err := json.Marshal(plan.Params)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal params")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plans (id, case_id, status, params, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		plan.ID, plan.CaseID, string(plan.Status), string(paramsJSON), plan.CreatedAt, plan.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert plan %s", plan.ID)
}

const sqlitePlanColumns = `id, case_id, status, params, signature, finalized_by, created_at, updated_at, completed_at`

func (s *SQLiteStore) GetPlan(ctx context.Context, planID string) (*model.LifeCarePlan, error) {
	return getPlan(ctx, s.db, planID)
}

func (s *SQLiteStore) ListPlans(ctx context.Context) ([]model.LifeCarePlan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqlitePlanColumns+` FROM plans ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list plans")
	}
	defer rows.Close()

	var plans []model.LifeCarePlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, eris.Wrap(rows.Err(), "sqlite: list plans iterate")
}

func (s *SQLiteStore) UpdatePlanParams(ctx context.Context, planID string, params model.ProjectionParams) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal params")
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := mutablePlan(ctx, tx, planID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE plans SET params = ?, updated_at = ? WHERE id = ?`,
			string(paramsJSON), time.Now().UTC(), planID,
		)
		return eris.Wrapf(err, "sqlite: update plan params %s", planID)
	})
}

func (s *SQLiteStore) FinalizePlan(ctx context.Context, planID, signature, actor string, at time.Time) (*model.LifeCarePlan, error) {
	var out *model.LifeCarePlan
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		plan, err := mutablePlan(ctx, tx, planID)
		if err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT id, name, status FROM items WHERE plan_id = ? AND status NOT IN (?, ?) ORDER BY position`,
			planID, string(model.StatusApproved), string(model.StatusRejected),
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: query unresolved items")
		}
		var pending []model.UnresolvedItem
		for rows.Next() {
			var u model.UnresolvedItem
			if err := rows.Scan(&u.ItemID, &u.Name, &u.Status); err != nil {
				rows.Close()
				return eris.Wrap(err, "sqlite: scan unresolved item")
			}
			pending = append(pending, u)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return eris.Wrap(err, "sqlite: unresolved items iterate")
		}
		if len(pending) > 0 {
			return &model.NotReadyError{PlanID: planID, Unresolved: pending}
		}

		at = at.UTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE plans SET status = ?, signature = ?, finalized_by = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
			string(model.PlanStatusFinalized), signature, actor, at, at, planID,
		); err != nil {
			return eris.Wrapf(err, "sqlite: finalize plan %s", planID)
		}

		plan.Status = model.PlanStatusFinalized
		plan.Signature = signature
		plan.FinalizedBy = actor
		plan.CompletedAt = &at
		plan.UpdatedAt = at
		out = plan
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) DeletePlan(ctx context.Context, planID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM plans WHERE id = ?`, planID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete plan %s", planID)
	}
	return checkRowsAffected(res, "plan", planID)
}

func (s *SQLiteStore) InsertItems(ctx context.Context, planID string, items []model.ResearchItem) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := mutablePlan(ctx, tx, planID); err != nil {
			return err
		}

		var position int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), 0) FROM items WHERE plan_id = ?`, planID,
		).Scan(&position); err != nil {
			return eris.Wrap(err, "sqlite: next item position")
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO items (
			id, plan_id, position, category, name, comment, cpt_code, unit_cost, cost_range_min, cost_range_max,
			frequency, annual_units, base_annual_cost, sources, confidence_score, status, doctor_notes,
			follow_up, version, projection, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare insert item")
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for i := range items {
			it := &items[i]
			prepareItem(it, planID, now)
			position++

			sourcesJSON, projJSON, err := marshalItemJSON(it)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx,
				it.ID, it.PlanID, position, string(it.Category), it.Name, it.Comment, it.CPTCode,
				it.UnitCost, it.CostRangeMin, it.CostRangeMax, it.Frequency, it.AnnualUnits, it.BaseAnnualCost,
				sourcesJSON, it.ConfidenceScore, string(it.Status), it.DoctorNotes, it.FollowUpRequired,
				it.Version, projJSON, it.CreatedAt, it.UpdatedAt,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert item %s", it.ID)
			}
		}
		return nil
	})
}

const sqliteItemColumns = `id, plan_id, category, name, comment, cpt_code, unit_cost, cost_range_min, cost_range_max,
	frequency, annual_units, base_annual_cost, sources, confidence_score, status, doctor_notes,
	follow_up, version, projection, created_at, updated_at`

func (s *SQLiteStore) GetItem(ctx context.Context, planID, itemID string) (*model.ResearchItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteItemColumns+` FROM items WHERE plan_id = ? AND id = ?`, planID, itemID,
	)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		if _, perr := s.GetPlan(ctx, planID); perr != nil {
			return nil, perr
		}
		return nil, &model.NotFoundError{Kind: "item", ID: itemID}
	}
	return it, err
}

func (s *SQLiteStore) ListItems(ctx context.Context, planID string, filter ItemFilter) ([]model.ResearchItem, error) {
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	return listItems(ctx, s.db, planID, filter)
}

func (s *SQLiteStore) UpdateItem(ctx context.Context, item *model.ResearchItem, expectedVersion int64, entry *model.AuditLogEntry) error {
	if entry == nil {
		return eris.New("sqlite: update item requires an audit entry")
	}

	now := time.Now().UTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		plan, err := mutablePlan(ctx, tx, item.PlanID)
		if err != nil {
			return err
		}

		sourcesJSON, projJSON, err := marshalItemJSON(item)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE items SET
			category = ?, name = ?, comment = ?, cpt_code = ?, unit_cost = ?, cost_range_min = ?, cost_range_max = ?,
			frequency = ?, annual_units = ?, base_annual_cost = ?, sources = ?, confidence_score = ?,
			status = ?, doctor_notes = ?, follow_up = ?, projection = ?, version = ?, updated_at = ?
			WHERE plan_id = ? AND id = ? AND version = ?`,
			string(item.Category), item.Name, item.Comment, item.CPTCode, item.UnitCost, item.CostRangeMin, item.CostRangeMax,
			item.Frequency, item.AnnualUnits, item.BaseAnnualCost, sourcesJSON, item.ConfidenceScore,
			string(item.Status), item.DoctorNotes, item.FollowUpRequired, projJSON, expectedVersion+1, now,
			item.PlanID, item.ID, expectedVersion,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update item %s", item.ID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "sqlite: rows affected")
		}
		if n == 0 {
			var actual int64
			err := tx.QueryRowContext(ctx,
				`SELECT version FROM items WHERE plan_id = ? AND id = ?`, item.PlanID, item.ID,
			).Scan(&actual)
			if errors.Is(err, sql.ErrNoRows) {
				return &model.NotFoundError{Kind: "item", ID: item.ID}
			}
			if err != nil {
				return eris.Wrapf(err, "sqlite: read item version %s", item.ID)
			}
			return &model.ConflictError{ItemID: item.ID, Expected: expectedVersion, Actual: actual}
		}

		e := auditFor(item, expectedVersion, entry, now)
		if _, err := tx.ExecContext(ctx, `INSERT INTO audit_log (
			plan_id, item_id, seq, action, actor, previous_status, new_status, notes,
			previous_cost, new_cost, follow_up, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.PlanID, e.ItemID, e.Seq, string(e.Action), e.Actor, string(e.PreviousStatus), string(e.NewStatus),
			e.Notes, e.PreviousCost, e.NewCost, e.FollowUp, e.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: append audit for item %s", item.ID)
		}

		if plan.Status == model.PlanStatusDraft {
			if _, err := tx.ExecContext(ctx,
				`UPDATE plans SET status = ?, updated_at = ? WHERE id = ?`,
				string(model.PlanStatusInReview), now, plan.ID,
			); err != nil {
				return eris.Wrapf(err, "sqlite: mark plan %s in review", plan.ID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	stamp(item, expectedVersion, entry, now)
	return nil
}

func (s *SQLiteStore) Snapshot(ctx context.Context, planID string) (*model.PlanSnapshot, error) {
	var snap *model.PlanSnapshot
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		plan, err := getPlan(ctx, tx, planID)
		if err != nil {
			return err
		}
		items, err := listItems(ctx, tx, planID, ItemFilter{})
		if err != nil {
			return err
		}
		snap = &model.PlanSnapshot{Plan: *plan, Items: items}
		return nil
	})
	return snap, err
}

func (s *SQLiteStore) ListAudit(ctx context.Context, planID string, filter AuditFilter) ([]model.AuditLogEntry, error) {
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return nil, err
	}

	query := `SELECT plan_id, item_id, seq, action, actor, previous_status, new_status, notes,
		previous_cost, new_cost, follow_up, created_at FROM audit_log WHERE plan_id = ?`
	args := []any{planID}
	if filter.ItemID != "" {
		query += ` AND item_id = ?`
		args = append(args, filter.ItemID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close()

	entries := []model.AuditLogEntry{}
	for rows.Next() {
		var e model.AuditLogEntry
		var prevCost, newCost sql.NullFloat64
		if err := rows.Scan(&e.PlanID, &e.ItemID, &e.Seq, &e.Action, &e.Actor, &e.PreviousStatus, &e.NewStatus,
			&e.Notes, &prevCost, &newCost, &e.FollowUp, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		e.PreviousCost = nullFloat(prevCost)
		e.NewCost = nullFloat(newCost)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list audit iterate")
}

// helpers

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func getPlan(ctx context.Context, q querier, planID string) (*model.LifeCarePlan, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sqlitePlanColumns+` FROM plans WHERE id = ?`, planID)
	p, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "plan", ID: planID}
	}
	return p, err
}

func mutablePlan(ctx context.Context, q querier, planID string) (*model.LifeCarePlan, error) {
	p, err := getPlan(ctx, q, planID)
	if err != nil {
		return nil, err
	}
	if p.Finalized() {
		return nil, &model.PlanFinalizedError{PlanID: planID}
	}
	return p, nil
}

func listItems(ctx context.Context, q querier, planID string, filter ItemFilter) ([]model.ResearchItem, error) {
	query := `SELECT ` + sqliteItemColumns + ` FROM items WHERE plan_id = ?`
	args := []any{planID}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(filter.Category))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY position`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list items")
	}
	defer rows.Close()

	items := []model.ResearchItem{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list items iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return &model.NotFoundError{Kind: entity, ID: id}
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanPlan(row scannable) (*model.LifeCarePlan, error) {
	var p model.LifeCarePlan
	var paramsJSON string
	var completedAt sql.NullTime

	err := row.Scan(&p.ID, &p.CaseID, &p.Status, &paramsJSON, &p.Signature, &p.FinalizedBy,
		&p.CreatedAt, &p.UpdatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan plan")
	}
	if err := json.Unmarshal([]byte(paramsJSON), &p.Params); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal params")
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		p.CompletedAt = &t
	}
	return &p, nil
}

func scanItem(row scannable) (*model.ResearchItem, error) {
	var it model.ResearchItem
	var rangeMin, rangeMax sql.NullFloat64
	var sourcesJSON string
	var projJSON sql.NullString

	err := row.Scan(&it.ID, &it.PlanID, &it.Category, &it.Name, &it.Comment, &it.CPTCode, &it.UnitCost,
		&rangeMin, &rangeMax, &it.Frequency, &it.AnnualUnits, &it.BaseAnnualCost, &sourcesJSON,
		&it.ConfidenceScore, &it.Status, &it.DoctorNotes, &it.FollowUpRequired, &it.Version, &projJSON,
		&it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan item")
	}

	it.CostRangeMin = nullFloat(rangeMin)
	it.CostRangeMax = nullFloat(rangeMax)
	if err := unmarshalItemJSON(&it, []byte(sourcesJSON), []byte(projJSON.String)); err != nil {
		return nil, err
	}
	return &it, nil
}

func marshalItemJSON(it *model.ResearchItem) (sources string, projection *string, err error) {
	src := it.Sources
	if src == nil {
		src = []string{}
	}
	b, err := json.Marshal(src)
	if err != nil {
		return "", nil, eris.Wrap(err, "store: marshal sources")
	}
	if it.Projection == nil {
		return string(b), nil, nil
	}
	pb, err := json.Marshal(it.Projection)
	if err != nil {
		return "", nil, eris.Wrap(err, "store: marshal projection")
	}
	p := string(pb)
	return string(b), &p, nil
}

func unmarshalItemJSON(it *model.ResearchItem, sources, projection []byte) error {
	if err := json.Unmarshal(sources, &it.Sources); err != nil {
		return eris.Wrap(err, "store: unmarshal sources")
	}
	if len(strings.TrimSpace(string(projection))) == 0 {
		return nil
	}
	it.Projection = &model.Projection{}
	return eris.Wrap(json.Unmarshal(projection, it.Projection), "store: unmarshal projection")
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
