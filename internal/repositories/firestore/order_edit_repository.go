package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/cartforge/api/internal/domain"
	pfirestore "github.com/cartforge/api/internal/platform/firestore"
	"github.com/cartforge/api/internal/repositories"
)

const orderEditCollection = "order_edits"

// OrderEditRepository records edit windows opened against orders.
type OrderEditRepository struct {
	base *pfirestore.BaseRepository[orderEditDocument]
}

var _ repositories.OrderEditRepository = (*OrderEditRepository)(nil)

// NewOrderEditRepository constructs a Firestore-backed order edit repository.
func NewOrderEditRepository(provider *pfirestore.Provider) (*OrderEditRepository, error) {
	if provider == nil {
		return nil, errors.New("order edit repository requires firestore provider")
	}
	return &OrderEditRepository{
		base: pfirestore.NewBaseRepository[orderEditDocument](provider, orderEditCollection),
	}, nil
}

// Insert stores a new order edit.
func (r *OrderEditRepository) Insert(ctx context.Context, edit domain.OrderEdit) (domain.OrderEdit, error) {
	id := strings.TrimSpace(edit.ID)
	orderID := strings.TrimSpace(edit.OrderID)
	if id == "" || orderID == "" {
		return domain.OrderEdit{}, errors.New("order edit repository: edit id and order id are required")
	}

	createdAt := edit.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	doc := orderEditDocument{
		OrderID:      orderID,
		InternalNote: edit.InternalNote,
		CreatedBy:    edit.CreatedBy,
		CreatedAt:    createdAt,
	}
	if _, err := r.base.Create(ctx, id, doc); err != nil {
		return domain.OrderEdit{}, err
	}

	saved := edit
	saved.CreatedAt = createdAt
	return saved, nil
}

// Confirm stamps the edit with the confirming actor and time.
func (r *OrderEditRepository) Confirm(ctx context.Context, editID string, confirmedBy string, confirmedAt time.Time) error {
	id := strings.TrimSpace(editID)
	if id == "" {
		return errors.New("order edit repository: edit id is required")
	}

	stamp := confirmedAt.UTC()
	_, err := r.base.Update(ctx, id, []firestore.Update{
		{Path: "confirmedBy", Value: strings.TrimSpace(confirmedBy)},
		{Path: "confirmedAt", Value: &stamp},
	})
	return err
}

// ListByOrder returns the edits recorded for the order, oldest first.
func (r *OrderEditRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderEdit, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return nil, errors.New("order edit repository: order id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", id).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	edits := make([]domain.OrderEdit, 0, len(docs))
	for _, doc := range docs {
		edits = append(edits, domain.OrderEdit{
			ID:           doc.ID,
			OrderID:      doc.Data.OrderID,
			InternalNote: doc.Data.InternalNote,
			CreatedBy:    doc.Data.CreatedBy,
			CreatedAt:    doc.Data.CreatedAt,
			ConfirmedBy:  doc.Data.ConfirmedBy,
			ConfirmedAt:  doc.Data.ConfirmedAt,
		})
	}
	return edits, nil
}

type orderEditDocument struct {
	OrderID      string     `firestore:"orderId"`
	InternalNote string     `firestore:"internalNote,omitempty"`
	CreatedBy    string     `firestore:"createdBy,omitempty"`
	CreatedAt    time.Time  `firestore:"createdAt"`
	ConfirmedBy  string     `firestore:"confirmedBy,omitempty"`
	ConfirmedAt  *time.Time `firestore:"confirmedAt,omitempty"`
}
