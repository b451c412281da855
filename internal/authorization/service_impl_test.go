package authorization

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	return NewService(Params{Log: zaptest.NewLogger(t), Enforcer: enforcer})
}

func TestStorefrontCannotRefund(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Assign("api_key:shop", RoleStorefront))

	assert.NoError(t, svc.Authorize(ctx, "api_key:shop", ObjectOrder, ActionOrderCreate))
	assert.NoError(t, svc.Authorize(ctx, "api_key:shop", ObjectPayment, ActionPaymentInitialize))
	assert.ErrorIs(t, svc.Authorize(ctx, "api_key:shop", ObjectPayment, ActionPaymentRefund), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, "api_key:shop", ObjectPayment, ActionPaymentCancel), ErrForbidden)
}

func TestOperatorHasFullAccess(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Assign("api_key:ops", "Operator"))

	for _, action := range []string{ActionPaymentInitialize, ActionPaymentReconcile, ActionPaymentCancel, ActionPaymentRefund} {
		assert.NoError(t, svc.Authorize(ctx, "api_key:ops", ObjectPayment, action), action)
	}
}

func TestAssignReplacesRole(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Assign("api_key:k", RoleOperator))
	require.NoError(t, svc.Assign("api_key:k", RoleStorefront))

	assert.ErrorIs(t, svc.Authorize(ctx, "api_key:k", ObjectPayment, ActionPaymentRefund), ErrForbidden)
}

func TestInvalidInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Assign("", RoleOperator), ErrInvalidActor)
	assert.ErrorIs(t, svc.Assign("api_key:k", "admin"), ErrInvalidRole)
	assert.ErrorIs(t, svc.Authorize(ctx, " ", ObjectOrder, ActionOrderCreate), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "api_key:k", "", ActionOrderCreate), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, "api_key:k", ObjectOrder, ""), ErrInvalidAction)
	assert.ErrorIs(t, svc.Authorize(ctx, "api_key:unknown", ObjectOrder, ActionOrderCreate), ErrForbidden)
}
