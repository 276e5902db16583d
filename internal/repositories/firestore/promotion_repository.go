package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/oklog/ulid/v2"

	domain "github.com/cartforge/api/internal/domain"
	pfirestore "github.com/cartforge/api/internal/platform/firestore"
	"github.com/cartforge/api/internal/repositories"
)

const (
	promotionCollection      = "promotions"
	promotionUsageCollection = "promotion_usages"

	// Firestore caps "in" filters; batch code lookups accordingly.
	promotionCodeBatchSize = 30
)

// PromotionRepository resolves promotion definitions by code.
type PromotionRepository struct {
	base *pfirestore.BaseRepository[promotionDocument]
}

var _ repositories.PromotionRepository = (*PromotionRepository)(nil)

// NewPromotionRepository constructs a Firestore-backed promotion repository.
func NewPromotionRepository(provider *pfirestore.Provider) (*PromotionRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion repository requires firestore provider")
	}
	return &PromotionRepository{
		base: pfirestore.NewBaseRepository[promotionDocument](provider, promotionCollection),
	}, nil
}

// ListByCodes resolves promotions for the supplied codes. Unknown codes are
// simply absent from the result.
func (r *PromotionRepository) ListByCodes(ctx context.Context, codes []string) ([]domain.Promotion, error) {
	normalized := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	if len(normalized) == 0 {
		return nil, nil
	}

	var promotions []domain.Promotion
	for start := 0; start < len(normalized); start += promotionCodeBatchSize {
		end := start + promotionCodeBatchSize
		if end > len(normalized) {
			end = len(normalized)
		}
		batch := normalized[start:end]

		docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("code", "in", batch)
		})
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			promotions = append(promotions, domain.Promotion{
				ID:          doc.ID,
				Code:        doc.Data.Code,
				IsAutomatic: doc.Data.IsAutomatic,
				Status:      doc.Data.Status,
			})
		}
	}
	return promotions, nil
}

type promotionDocument struct {
	Code        string `firestore:"code"`
	IsAutomatic bool   `firestore:"isAutomatic"`
	Status      string `firestore:"status,omitempty"`
}

// PromotionUsageRepository records promotion applications per committed order.
type PromotionUsageRepository struct {
	base *pfirestore.BaseRepository[promotionUsageDocument]
}

var _ repositories.PromotionUsageRepository = (*PromotionUsageRepository)(nil)

// NewPromotionUsageRepository constructs a Firestore-backed usage repository.
func NewPromotionUsageRepository(provider *pfirestore.Provider) (*PromotionUsageRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion usage repository requires firestore provider")
	}
	return &PromotionUsageRepository{
		base: pfirestore.NewBaseRepository[promotionUsageDocument](provider, promotionUsageCollection),
	}, nil
}

// RecordBatch stores one usage document per application. Duplicate codes in
// the batch produce separate documents.
func (r *PromotionUsageRepository) RecordBatch(ctx context.Context, orderID string, usages []domain.PromotionUsage) error {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return errors.New("promotion usage repository: order id is required")
	}

	now := time.Now().UTC()
	for _, usage := range usages {
		docID := "promo_usage_" + ulid.Make().String()
		doc := promotionUsageDocument{
			OrderID:    id,
			Code:       usage.Code,
			Amount:     usage.Amount,
			RecordedAt: now,
		}
		if _, err := r.base.Create(ctx, docID, doc); err != nil {
			return err
		}
	}
	return nil
}

type promotionUsageDocument struct {
	OrderID    string    `firestore:"orderId"`
	Code       string    `firestore:"code"`
	Amount     float64   `firestore:"amount"`
	RecordedAt time.Time `firestore:"recordedAt"`
}
