package treatment

import (
	"context"

	"github.com/ehr/txengine/internal/domain/protocol"
)

// Repository stores each patient's current treatment set. Only the current
// set is kept; evaluations are not persisted.
type Repository interface {
	// Load returns the patient's records in activation order.
	Load(ctx context.Context, patient protocol.Patient) ([]Record, error)
	// Save inserts added and deletes removed orders for the patient.
	Save(ctx context.Context, patient protocol.Patient, added []Record, removed []protocol.Order) error
	// Delete removes one order and reports whether it was active.
	Delete(ctx context.Context, patient protocol.Patient, order protocol.Order) (bool, error)
	List(ctx context.Context, limit, offset int) ([]Record, int, error)
	// WithTx runs fn so that repository calls made with its context share
	// one transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
