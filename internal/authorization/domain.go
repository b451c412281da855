package authorization

import (
	"context"
	"errors"
)

const (
	ObjectOrder   = "order"
	ObjectPayment = "payment"
)

const (
	ActionOrderCreate = "order.create"

	ActionPaymentInitialize = "payment.initialize"
	ActionPaymentReconcile  = "payment.reconcile"
	ActionPaymentCancel     = "payment.cancel"
	ActionPaymentRefund     = "payment.refund"
)

// Roles an API key can carry. Storefront keys place orders and start
// payments; operator keys may also cancel and refund.
const (
	RoleStorefront = "storefront"
	RoleOperator   = "operator"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

type Service interface {
	// Assign binds actor to role, replacing any earlier binding.
	Assign(actor string, role string) error
	Authorize(ctx context.Context, actor string, object string, action string) error
}
