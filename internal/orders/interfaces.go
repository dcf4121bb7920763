package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/risecheckout/payments-backend/pkg/db/models"
)

// Repository defines persistence operations for the orders table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByClientToken(ctx context.Context, token string) (*models.Order, error)

	// ClaimCharge binds the gateway charge to the order only when no charge
	// was bound before. It reports whether this caller won the slot.
	ClaimCharge(ctx context.Context, orderID uuid.UUID, updates map[string]any) (bool, error)
}
