package plans

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var assignmentTestColumns = []string{
	"id", "product_id", "plan_id", "price_override", "trial_days_override",
	"is_default", "created_at", "updated_at",
}

func TestAttachProduct(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, &mockResolver{}, nil)

	t.Run("attach as default unsets the previous default", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
			WithArgs(int64(5)).
			WillReturnRows(planRow(5, planRowOpts{status: PlanStatusActive}))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(int64(100), int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE product_subscription_plans SET is_default = false").
			WithArgs(int64(100)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO product_subscription_plans").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).
				AddRow(int64(1), time.Now(), time.Now()))
		mock.ExpectCommit()

		assignment, err := svc.AttachProduct(&AttachProductRequest{
			ProductID: 100,
			PlanID:    5,
			IsDefault: true,
		})
		require.NoError(t, err)
		assert.True(t, assignment.IsDefault)
	})

	t.Run("already attached", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
			WithArgs(int64(5)).
			WillReturnRows(planRow(5, planRowOpts{status: PlanStatusActive}))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(int64(100), int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := svc.AttachProduct(&AttachProductRequest{ProductID: 100, PlanID: 5})
		assert.True(t, IsConflict(err))
	})

	t.Run("missing plan", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM subscription_plans p").
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows(planTestColumns))

		_, err := svc.AttachProduct(&AttachProductRequest{ProductID: 100, PlanID: 99})
		assert.ErrorIs(t, err, ErrPlanNotFound)
	})

	t.Run("negative price override", func(t *testing.T) {
		override := -5.0
		_, err := svc.AttachProduct(&AttachProductRequest{
			ProductID:     100,
			PlanID:        5,
			PriceOverride: &override,
		})
		assert.True(t, IsValidation(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProductAssignment(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, &mockResolver{}, nil)

	t.Run("promote to default", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE product_subscription_plans SET is_default = false").
			WithArgs(int64(100), int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE product_subscription_plans").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectQuery("SELECT (.+) FROM product_subscription_plans").
			WithArgs(int64(100), int64(5)).
			WillReturnRows(sqlmock.NewRows(assignmentTestColumns).
				AddRow(int64(1), int64(100), int64(5), nil, nil, true, time.Now(), time.Now()))

		isDefault := true
		assignment, err := svc.UpdateProductAssignment(100, 5, &UpdateAssignmentRequest{IsDefault: &isDefault})
		require.NoError(t, err)
		assert.True(t, assignment.IsDefault)
	})

	t.Run("missing assignment", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE product_subscription_plans").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		override := 9.99
		_, err := svc.UpdateProductAssignment(100, 99, &UpdateAssignmentRequest{PriceOverride: &override})
		assert.ErrorIs(t, err, ErrAssignmentNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDetachProduct(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, &mockResolver{}, nil)

	t.Run("success", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM product_subscription_plans").
			WithArgs(int64(100), int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, svc.DetachProduct(100, 5))
	})

	t.Run("not attached", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM product_subscription_plans").
			WithArgs(int64(100), int64(99)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, svc.DetachProduct(100, 99), ErrAssignmentNotFound)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListForProduct(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	svc := NewPostgresService(db, &mockResolver{}, nil)

	mock.ExpectQuery("SELECT (.+) FROM product_subscription_plans").
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows(assignmentTestColumns).
			AddRow(int64(1), int64(100), int64(5), nil, nil, true, time.Now(), time.Now()).
			AddRow(int64(2), int64(100), int64(6), 9.99, 14, false, time.Now(), time.Now()))

	assignments, err := svc.ListForProduct(100)
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assert.True(t, assignments[0].IsDefault)
	assert.False(t, assignments[1].IsDefault)
	assert.NoError(t, mock.ExpectationsWereMet())
}
