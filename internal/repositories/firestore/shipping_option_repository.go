package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/cartforge/api/internal/domain"
	pfirestore "github.com/cartforge/api/internal/platform/firestore"
	"github.com/cartforge/api/internal/repositories"
)

const shippingOptionCollection = "shipping_options"

// ShippingOptionRepository resolves shipping option definitions.
type ShippingOptionRepository struct {
	base *pfirestore.BaseRepository[shippingOptionDocument]
}

var _ repositories.ShippingOptionRepository = (*ShippingOptionRepository)(nil)

// NewShippingOptionRepository constructs a Firestore-backed shipping option repository.
func NewShippingOptionRepository(provider *pfirestore.Provider) (*ShippingOptionRepository, error) {
	if provider == nil {
		return nil, errors.New("shipping option repository requires firestore provider")
	}
	return &ShippingOptionRepository{
		base: pfirestore.NewBaseRepository[shippingOptionDocument](provider, shippingOptionCollection),
	}, nil
}

// ListByIDs resolves the given shipping options. Unknown IDs are skipped;
// callers compare the result length against the request when missing options
// matter.
func (r *ShippingOptionRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.ShippingOption, error) {
	options := make([]domain.ShippingOption, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))

	for _, rawID := range ids {
		id := strings.TrimSpace(rawID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		doc, err := r.base.Get(ctx, id)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		options = append(options, domain.ShippingOption{
			ID:                doc.ID,
			Name:              doc.Data.Name,
			ShippingProfileID: doc.Data.ShippingProfileID,
		})
	}
	return options, nil
}

type shippingOptionDocument struct {
	Name              string `firestore:"name,omitempty"`
	ShippingProfileID string `firestore:"shippingProfileId,omitempty"`
}
