package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lifecare-cli/internal/db"
	"github.com/sells-group/lifecare-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgPlanColumns = `id, case_id, status, params, signature, finalized_by, created_at, updated_at, completed_at`
	pgItemColumns = `id, plan_id, category, name, comment, cpt_code, unit_cost, cost_range_min, cost_range_max,
	frequency, annual_units, base_annual_cost, sources, confidence_score, status, doctor_notes,
	follow_up, version, projection, created_at, updated_at`

	pgGetPlan        = `SELECT ` + pgPlanColumns + ` FROM plans WHERE id = $1`
	pgLockPlanShare  = `SELECT ` + pgPlanColumns + ` FROM plans WHERE id = $1 FOR SHARE`
	pgLockPlanUpdate = `SELECT ` + pgPlanColumns + ` FROM plans WHERE id = $1 FOR UPDATE`
	pgGetItem        = `SELECT ` + pgItemColumns + ` FROM items WHERE plan_id = $1 AND id = $2`
	pgUpdateItem     = `UPDATE items SET
	category = $1, name = $2, comment = $3, cpt_code = $4, unit_cost = $5, cost_range_min = $6, cost_range_max = $7,
	frequency = $8, annual_units = $9, base_annual_cost = $10, sources = $11, confidence_score = $12,
	status = $13, doctor_notes = $14, follow_up = $15, projection = $16, version = $17, updated_at = $18
	WHERE plan_id = $19 AND id = $20 AND version = $21`
	pgItemVersion = `SELECT version FROM items WHERE plan_id = $1 AND id = $2`
	pgInsertAudit = `INSERT INTO audit_log (
	plan_id, item_id, seq, action, actor, previous_status, new_status, notes,
	previous_cost, new_cost, follow_up, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	pgMarkInReview = `UPDATE plans SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the review hot path.
var preparedStatements = map[string]string{
	"get_plan":         pgGetPlan,
	"lock_plan_share":  pgLockPlanShare,
	"get_item":         pgGetItem,
	"update_item":      pgUpdateItem,
	"item_version":     pgItemVersion,
	"insert_audit":     pgInsertAudit,
	"mark_plan_review": pgMarkInReview,
}

// itemCopyColumns is the COPY column order used by InsertItems.
var itemCopyColumns = []string{
	"id", "plan_id", "position", "category", "name", "comment", "cpt_code", "unit_cost",
	"cost_range_min", "cost_range_max", "frequency", "annual_units", "base_annual_cost", "sources",
	"confidence_score", "status", "doctor_notes", "follow_up", "version", "projection",
	"created_at", "updated_at",
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS plans (
	id           TEXT PRIMARY KEY,
	case_id      TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'draft',
	params       JSONB NOT NULL,
	signature    TEXT NOT NULL DEFAULT '',
	finalized_by TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS items (
	id               TEXT PRIMARY KEY,
	plan_id          TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	position         INTEGER NOT NULL,
	category         TEXT NOT NULL,
	name             TEXT NOT NULL,
	comment          TEXT NOT NULL DEFAULT '',
	cpt_code         TEXT NOT NULL DEFAULT '',
	unit_cost        DOUBLE PRECISION NOT NULL,
	cost_range_min   DOUBLE PRECISION,
	cost_range_max   DOUBLE PRECISION,
	frequency        TEXT NOT NULL DEFAULT '',
	annual_units     DOUBLE PRECISION NOT NULL,
	base_annual_cost DOUBLE PRECISION NOT NULL,
	sources          JSONB NOT NULL DEFAULT '[]',
	confidence_score DOUBLE PRECISION NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	doctor_notes     TEXT NOT NULL DEFAULT '',
	follow_up        BOOLEAN NOT NULL DEFAULT false,
	version          BIGINT NOT NULL DEFAULT 1,
	projection       JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_log (
	id              BIGSERIAL PRIMARY KEY,
	plan_id         TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	item_id         TEXT NOT NULL,
	seq             BIGINT NOT NULL,
	action          TEXT NOT NULL,
	actor           TEXT NOT NULL,
	previous_status TEXT NOT NULL,
	new_status      TEXT NOT NULL,
	notes           TEXT NOT NULL DEFAULT '',
	previous_cost   DOUBLE PRECISION,
	new_cost        DOUBLE PRECISION,
	follow_up       BOOLEAN NOT NULL DEFAULT false,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (item_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_items_plan ON items(plan_id, position);
CREATE INDEX IF NOT EXISTS idx_items_plan_status ON items(plan_id, status);
CREATE INDEX IF NOT EXISTS idx_audit_log_plan ON audit_log(plan_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreatePlan(ctx context.Context, plan *model.LifeCarePlan) error {
	preparePlan(plan, time.Now().UTC())

	paramsJSON, err := json.Marshal(plan.Params)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal params")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO plans (id, case_id, status, params, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		plan.ID, plan.CaseID, string(plan.Status), paramsJSON, plan.CreatedAt, plan.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: insert plan %s", plan.ID)
}

func (s *PostgresStore) GetPlan(ctx context.Context, planID string) (*model.LifeCarePlan, error) {
	return pgScanPlan(s.pool.QueryRow(ctx, pgGetPlan, planID), planID)
}

func (s *PostgresStore) ListPlans(ctx context.Context) ([]model.LifeCarePlan, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgPlanColumns+` FROM plans ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list plans")
	}
	defer rows.Close()

	var plans []model.LifeCarePlan
	for rows.Next() {
		p, err := pgScanPlan(rows, "")
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, eris.Wrap(rows.Err(), "postgres: list plans iterate")
}

func (s *PostgresStore) UpdatePlanParams(ctx context.Context, planID string, params model.ProjectionParams) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal params")
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := pgMutablePlan(ctx, tx, pgLockPlanUpdate, planID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`UPDATE plans SET params = $1, updated_at = $2 WHERE id = $3`,
			paramsJSON, time.Now().UTC(), planID,
		)
		return eris.Wrapf(err, "postgres: update plan params %s", planID)
	})
}

func (s *PostgresStore) FinalizePlan(ctx context.Context, planID, signature, actor string, at time.Time) (*model.LifeCarePlan, error) {
	var out *model.LifeCarePlan
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		// FOR UPDATE waits for in-flight item updates, which hold FOR SHARE.
		plan, err := pgMutablePlan(ctx, tx, pgLockPlanUpdate, planID)
		if err != nil {
			return err
		}

		rows, err := tx.Query(ctx,
			`SELECT id, name, status FROM items WHERE plan_id = $1 AND status NOT IN ($2, $3) ORDER BY position`,
			planID, string(model.StatusApproved), string(model.StatusRejected),
		)
		if err != nil {
			return eris.Wrap(err, "postgres: query unresolved items")
		}
		pending, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.UnresolvedItem, error) {
			var u model.UnresolvedItem
			err := row.Scan(&u.ItemID, &u.Name, &u.Status)
			return u, err
		})
		if err != nil {
			return eris.Wrap(err, "postgres: scan unresolved items")
		}
		if len(pending) > 0 {
			return &model.NotReadyError{PlanID: planID, Unresolved: pending}
		}

		at = at.UTC()
		if _, err := tx.Exec(ctx,
			`UPDATE plans SET status = $1, signature = $2, finalized_by = $3, completed_at = $4, updated_at = $5 WHERE id = $6`,
			string(model.PlanStatusFinalized), signature, actor, at, at, planID,
		); err != nil {
			return eris.Wrapf(err, "postgres: finalize plan %s", planID)
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

func (s *PostgresStore) DeletePlan(ctx context.Context, planID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM plans WHERE id = $1`, planID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete plan %s", planID)
	}
	if tag.RowsAffected() == 0 {
		return &model.NotFoundError{Kind: "plan", ID: planID}
	}
	return nil
}

func (s *PostgresStore) InsertItems(ctx context.Context, planID string, items []model.ResearchItem) error {
	if len(items) == 0 {
		_, err := s.GetPlan(ctx, planID)
		return err
	}
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := pgMutablePlan(ctx, tx, pgLockPlanShare, planID); err != nil {
			return err
		}

		var position int
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(position), 0) FROM items WHERE plan_id = $1`, planID,
		).Scan(&position); err != nil {
			return eris.Wrap(err, "postgres: next item position")
		}

		now := time.Now().UTC()
		rows := make([][]any, 0, len(items))
		for i := range items {
			it := &items[i]
			prepareItem(it, planID, now)
			position++

			sources, projection, err := pgItemJSON(it)
			if err != nil {
				return err
			}
			rows = append(rows, []any{
				it.ID, it.PlanID, position, string(it.Category), it.Name, it.Comment, it.CPTCode, it.UnitCost,
				it.CostRangeMin, it.CostRangeMax, it.Frequency, it.AnnualUnits, it.BaseAnnualCost, sources,
				it.ConfidenceScore, string(it.Status), it.DoctorNotes, it.FollowUpRequired, it.Version, projection,
				it.CreatedAt, it.UpdatedAt,
			})
		}
		_, err := db.CopyFrom(ctx, tx, "items", itemCopyColumns, rows)
		return err
	})
}

func (s *PostgresStore) GetItem(ctx context.Context, planID, itemID string) (*model.ResearchItem, error) {
	it, err := pgScanItem(s.pool.QueryRow(ctx, pgGetItem, planID, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, perr := s.GetPlan(ctx, planID); perr != nil {
			return nil, perr
		}
		return nil, &model.NotFoundError{Kind: "item", ID: itemID}
	}
	return it, err
}

func (s *PostgresStore) ListItems(ctx context.Context, planID string, filter ItemFilter) ([]model.ResearchItem, error) {
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return nil, err
	}
	return pgListItems(ctx, s.pool, planID, filter)
}

func (s *PostgresStore) UpdateItem(ctx context.Context, item *model.ResearchItem, expectedVersion int64, entry *model.AuditLogEntry) error {
	if entry == nil {
		return eris.New("postgres: update item requires an audit entry")
	}

	now := time.Now().UTC()
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		// Flip a draft plan before taking the share lock. Upgrading a share
		// lock held by two first writers would deadlock.
		if _, err := tx.Exec(ctx, pgMarkInReview,
			string(model.PlanStatusInReview), now, item.PlanID, string(model.PlanStatusDraft),
		); err != nil {
			return eris.Wrapf(err, "postgres: mark plan %s in review", item.PlanID)
		}
		if _, err := pgMutablePlan(ctx, tx, pgLockPlanShare, item.PlanID); err != nil {
			return err
		}

		sources, projection, err := pgItemJSON(item)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, pgUpdateItem,
			string(item.Category), item.Name, item.Comment, item.CPTCode, item.UnitCost, item.CostRangeMin, item.CostRangeMax,
			item.Frequency, item.AnnualUnits, item.BaseAnnualCost, sources, item.ConfidenceScore,
			string(item.Status), item.DoctorNotes, item.FollowUpRequired, projection, expectedVersion+1, now,
			item.PlanID, item.ID, expectedVersion,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update item %s", item.ID)
		}
		if tag.RowsAffected() == 0 {
			var actual int64
			err := tx.QueryRow(ctx, pgItemVersion, item.PlanID, item.ID).Scan(&actual)
			if errors.Is(err, pgx.ErrNoRows) {
				return &model.NotFoundError{Kind: "item", ID: item.ID}
			}
			if err != nil {
				return eris.Wrapf(err, "postgres: read item version %s", item.ID)
			}
			return &model.ConflictError{ItemID: item.ID, Expected: expectedVersion, Actual: actual}
		}

		e := auditFor(item, expectedVersion, entry, now)
		if _, err := tx.Exec(ctx, pgInsertAudit,
			e.PlanID, e.ItemID, e.Seq, string(e.Action), e.Actor, string(e.PreviousStatus), string(e.NewStatus),
			e.Notes, e.PreviousCost, e.NewCost, e.FollowUp, e.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "postgres: append audit for item %s", item.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	stamp(item, expectedVersion, entry, now)
	return nil
}

func (s *PostgresStore) Snapshot(ctx context.Context, planID string) (*model.PlanSnapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin snapshot")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	plan, err := pgScanPlan(tx.QueryRow(ctx, pgGetPlan, planID), planID)
	if err != nil {
		return nil, err
	}
	items, err := pgListItems(ctx, tx, planID, ItemFilter{})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit snapshot")
	}
	return &model.PlanSnapshot{Plan: *plan, Items: items}, nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, planID string, filter AuditFilter) ([]model.AuditLogEntry, error) {
	if _, err := s.GetPlan(ctx, planID); err != nil {
		return nil, err
	}

	query := `SELECT plan_id, item_id, seq, action, actor, previous_status, new_status, notes,
	previous_cost, new_cost, follow_up, created_at FROM audit_log WHERE plan_id = $1`
	args := []any{planID}
	if filter.ItemID != "" {
		query += ` AND item_id = $2`
		args = append(args, filter.ItemID)
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AuditLogEntry, error) {
		var e model.AuditLogEntry
		err := row.Scan(&e.PlanID, &e.ItemID, &e.Seq, &e.Action, &e.Actor, &e.PreviousStatus, &e.NewStatus,
			&e.Notes, &e.PreviousCost, &e.NewCost, &e.FollowUp, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan audit entries")
	}
	return entries, nil
}

// helpers

// pgQuerier is satisfied by db.Pool and pgx.Tx.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func pgMutablePlan(ctx context.Context, tx pgx.Tx, lockQuery, planID string) (*model.LifeCarePlan, error) {
	plan, err := pgScanPlan(tx.QueryRow(ctx, lockQuery, planID), planID)
	if err != nil {
		return nil, err
	}
	if plan.Finalized() {
		return nil, &model.PlanFinalizedError{PlanID: planID}
	}
	return plan, nil
}

func pgListItems(ctx context.Context, q pgQuerier, planID string, filter ItemFilter) ([]model.ResearchItem, error) {
	query := `SELECT ` + pgItemColumns + ` FROM items WHERE plan_id = $1`
	args := []any{planID}
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		query += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY position`

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list items")
	}
	defer rows.Close()

	items := []model.ResearchItem{}
	for rows.Next() {
		it, err := pgScanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list items iterate")
}

// pgScanPlan maps pgx.ErrNoRows to a NotFoundError for planID.
func pgScanPlan(row pgx.Row, planID string) (*model.LifeCarePlan, error) {
	var p model.LifeCarePlan
	var paramsJSON []byte

	err := row.Scan(&p.ID, &p.CaseID, &p.Status, &paramsJSON, &p.Signature, &p.FinalizedBy,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &model.NotFoundError{Kind: "plan", ID: planID}
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan plan")
	}
	if err := json.Unmarshal(paramsJSON, &p.Params); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal params")
	}
	return &p, nil
}

func pgScanItem(row pgx.Row) (*model.ResearchItem, error) {
	var it model.ResearchItem
	var sourcesJSON, projJSON []byte

	err := row.Scan(&it.ID, &it.PlanID, &it.Category, &it.Name, &it.Comment, &it.CPTCode, &it.UnitCost,
		&it.CostRangeMin, &it.CostRangeMax, &it.Frequency, &it.AnnualUnits, &it.BaseAnnualCost, &sourcesJSON,
		&it.ConfidenceScore, &it.Status, &it.DoctorNotes, &it.FollowUpRequired, &it.Version, &projJSON,
		&it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan item")
	}
	if err := unmarshalItemJSON(&it, sourcesJSON, projJSON); err != nil {
		return nil, err
	}
	return &it, nil
}

// pgItemJSON returns the JSONB column values for an item. A missing
// projection is returned as an untyped nil so it is written as NULL.
func pgItemJSON(it *model.ResearchItem) (sources []byte, projection any, err error) {
	src, proj, err := marshalItemJSON(it)
	if err != nil {
		return nil, nil, err
	}
	if proj == nil {
		return []byte(src), nil, nil
	}
	return []byte(src), []byte(*proj), nil
}
