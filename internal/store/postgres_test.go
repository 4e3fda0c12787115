package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lifecare-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var planColumns = []string{"id", "case_id", "status", "params", "signature", "finalized_by", "created_at", "updated_at", "completed_at"}

func planRow(id string, status model.PlanStatus) *pgxmock.Rows {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return pgxmock.NewRows(planColumns).AddRow(
		id, "case-1", status, []byte(`{"inflation_rate":0.025,"discount_rate":0.03,"geographic_factor":1,"duration_years":3}`),
		"", "", now, now, (*time.Time)(nil),
	)
}

func TestPostgresStore_GetPlan_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM plans WHERE id = \$1`).
		WithArgs("nonexistent-plan").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetPlan(context.Background(), "nonexistent-plan")
	var nf *model.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "plan", nf.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPlan(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM plans WHERE id = \$1`).
		WithArgs("plan-1").
		WillReturnRows(planRow("plan-1", model.PlanStatusInReview))

	p, err := s.GetPlan(context.Background(), "plan-1")
	require.NoError(t, err)
	assert.Equal(t, model.PlanStatusInReview, p.Status)
	assert.InDelta(t, 0.025, p.Params.InflationRate, 0.0001)
	assert.Equal(t, 3, p.Params.DurationYears)
	assert.Nil(t, p.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreatePlan(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO plans`).
		WithArgs(pgxmock.AnyArg(), "case-9", "draft", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	plan := &model.LifeCarePlan{CaseID: "case-9"}
	require.NoError(t, s.CreatePlan(context.Background(), plan))
	assert.NotEmpty(t, plan.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeletePlan_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM plans WHERE id = \$1`).
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.DeletePlan(context.Background(), "missing")
	assert.True(t, model.IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// updateItemArgs matches the 21 bind parameters of the item CAS update.
func updateItemArgs(planID, itemID string, expectedVersion int64) []any {
	args := make([]any, 0, 21)
	for range 16 {
		args = append(args, pgxmock.AnyArg())
	}
	return append(args, expectedVersion+1, pgxmock.AnyArg(), planID, itemID, expectedVersion)
}

func expectMarkInReview(mock pgxmock.PgxPoolIface, planID string, rows int64) {
	mock.ExpectExec(`UPDATE plans SET status = \$1, updated_at = \$2 WHERE id = \$3 AND status = \$4`).
		WithArgs("in_review", pgxmock.AnyArg(), planID, "draft").
		WillReturnResult(pgxmock.NewResult("UPDATE", rows))
}

func TestPostgresStore_UpdateItem_Success(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// The draft flip has to precede the share lock on the plan row.
	mock.ExpectBegin()
	expectMarkInReview(mock, "plan-1", 1)
	mock.ExpectQuery(`FROM plans WHERE id = \$1 FOR SHARE`).
		WithArgs("plan-1").
		WillReturnRows(planRow("plan-1", model.PlanStatusInReview))
	mock.ExpectExec(`UPDATE items SET`).
		WithArgs(updateItemArgs("plan-1", "item-1", 2)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs("plan-1", "item-1", int64(3), "status_change", "dr.smith", "pending", "approved",
			"", pgxmock.AnyArg(), pgxmock.AnyArg(), false, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	item := &model.ResearchItem{ID: "item-1", PlanID: "plan-1", Status: model.StatusApproved, Version: 2}
	entry := &model.AuditLogEntry{
		Action:         model.AuditStatusChange,
		Actor:          "dr.smith",
		PreviousStatus: model.StatusPending,
		NewStatus:      model.StatusApproved,
	}
	require.NoError(t, s.UpdateItem(context.Background(), item, 2, entry))
	assert.Equal(t, int64(3), item.Version)
	assert.Equal(t, int64(3), entry.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateItem_Conflict(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	expectMarkInReview(mock, "plan-1", 0)
	mock.ExpectQuery(`FOR SHARE`).
		WithArgs("plan-1").
		WillReturnRows(planRow("plan-1", model.PlanStatusInReview))
	mock.ExpectExec(`UPDATE items SET`).
		WithArgs(updateItemArgs("plan-1", "item-1", 4)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT version FROM items`).
		WithArgs("plan-1", "item-1").
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(5)))
	mock.ExpectRollback()

	item := &model.ResearchItem{ID: "item-1", PlanID: "plan-1", Version: 4}
	err := s.UpdateItem(context.Background(), item, 4, &model.AuditLogEntry{Action: model.AuditCostEdit})

	var conflict *model.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(4), conflict.Expected)
	assert.Equal(t, int64(5), conflict.Actual)
	assert.Equal(t, int64(4), item.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateItem_Finalized(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	expectMarkInReview(mock, "plan-1", 0)
	mock.ExpectQuery(`FOR SHARE`).
		WithArgs("plan-1").
		WillReturnRows(planRow("plan-1", model.PlanStatusFinalized))
	mock.ExpectRollback()

	item := &model.ResearchItem{ID: "item-1", PlanID: "plan-1"}
	err := s.UpdateItem(context.Background(), item, 1, &model.AuditLogEntry{Action: model.AuditStatusChange})
	assert.True(t, model.IsPlanFinalized(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateItem_BeginError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))

	item := &model.ResearchItem{ID: "item-1", PlanID: "plan-1"}
	err := s.UpdateItem(context.Background(), item, 1, &model.AuditLogEntry{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinalizePlan_NotReady(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("plan-1").
		WillReturnRows(planRow("plan-1", model.PlanStatusInReview))
	mock.ExpectQuery(`SELECT id, name, status FROM items`).
		WithArgs("plan-1", "approved", "rejected").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "status"}).
			AddRow("item-2", "Baclofen", model.StatusNeedsReview))
	mock.ExpectRollback()

	_, err := s.FinalizePlan(context.Background(), "plan-1", "Dr. Smith", "dr.smith", time.Now())
	var notReady *model.NotReadyError
	require.ErrorAs(t, err, &notReady)
	require.Len(t, notReady.Unresolved, 1)
	assert.Equal(t, "item-2", notReady.Unresolved[0].ItemID)
	assert.Equal(t, model.StatusNeedsReview, notReady.Unresolved[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinalizePlan(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("plan-1").
		WillReturnRows(planRow("plan-1", model.PlanStatusInReview))
	mock.ExpectQuery(`SELECT id, name, status FROM items`).
		WithArgs("plan-1", "approved", "rejected").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "status"}))
	mock.ExpectExec(`UPDATE plans SET status = \$1, signature = \$2`).
		WithArgs("finalized", "Dr. Smith", "dr.smith", at, at, "plan-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	p, err := s.FinalizePlan(context.Background(), "plan-1", "Dr. Smith", "dr.smith", at)
	require.NoError(t, err)
	assert.Equal(t, model.PlanStatusFinalized, p.Status)
	assert.Equal(t, "Dr. Smith", p.Signature)
	require.NotNil(t, p.CompletedAt)
	assert.True(t, p.CompletedAt.Equal(at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertItems_UsesCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR SHARE`).
		WithArgs("plan-1").
		WillReturnRows(planRow("plan-1", model.PlanStatusDraft))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(position\), 0\) FROM items`).
		WithArgs("plan-1").
		WillReturnRows(pgxmock.NewRows([]string{"coalesce"}).AddRow(0))
	mock.ExpectCopyFrom(pgx.Identifier{"items"}, itemCopyColumns).WillReturnResult(2)
	mock.ExpectCommit()

	items := []model.ResearchItem{
		{Category: model.CategoryDurableMedicalEquipment, Name: "Walker", UnitCost: 125},
		{Category: model.CategoryMedications, Name: "Baclofen", UnitCost: 30},
	}
	require.NoError(t, s.InsertItems(context.Background(), "plan-1", items))
	for _, it := range items {
		assert.NotEmpty(t, it.ID)
		assert.Equal(t, "plan-1", it.PlanID)
		assert.Equal(t, int64(1), it.Version)
		assert.Equal(t, model.StatusPending, it.Status)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS plans`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
