package accounts

import "context"

// Store is the canonical register. Implementations must honor an ambient
// transaction carried in context (pkg/platform/tx) so the reconciliation
// engine can lock and update accounts atomically with request review.
type Store interface {
	Get(ctx context.Context, id int64) (*Account, error)
	// GetForUpdate reads the account with a row-level lock inside the ambient
	// transaction. Outside a transaction it behaves like Get.
	GetForUpdate(ctx context.Context, id int64) (*Account, error)
	Update(ctx context.Context, account *Account) error
	// Search filters by name/tax id/municipal code substring and optional
	// street. limit <= 0 applies the implementation default.
	Search(ctx context.Context, q string, streetID int64, limit int) ([]Account, error)
	List(ctx context.Context, limit int) ([]Account, error)
	Count(ctx context.Context) (int, error)
	ListStreets(ctx context.Context) ([]Street, error)
}
