package firestore

import (
	"context"
	"errors"
	"strings"

	domain "github.com/cartforge/api/internal/domain"
	pfirestore "github.com/cartforge/api/internal/platform/firestore"
	"github.com/cartforge/api/internal/repositories"
)

const paymentCollectionCollection = "payment_collections"

// PaymentCollectionRepository persists payment collections with their
// sessions embedded.
type PaymentCollectionRepository struct {
	base *pfirestore.BaseRepository[paymentCollectionDocument]
}

var _ repositories.PaymentCollectionRepository = (*PaymentCollectionRepository)(nil)

// NewPaymentCollectionRepository constructs a Firestore-backed payment collection repository.
func NewPaymentCollectionRepository(provider *pfirestore.Provider) (*PaymentCollectionRepository, error) {
	if provider == nil {
		return nil, errors.New("payment collection repository requires firestore provider")
	}
	return &PaymentCollectionRepository{
		base: pfirestore.NewBaseRepository[paymentCollectionDocument](provider, paymentCollectionCollection),
	}, nil
}

// Insert stores a new payment collection.
func (r *PaymentCollectionRepository) Insert(ctx context.Context, collection domain.PaymentCollection) (domain.PaymentCollection, error) {
	id := strings.TrimSpace(collection.ID)
	if id == "" {
		return domain.PaymentCollection{}, errors.New("payment collection repository: collection id is required")
	}
	if _, err := r.base.Create(ctx, id, collectionToDocument(collection)); err != nil {
		return domain.PaymentCollection{}, err
	}
	return collection, nil
}

// FindByID loads the payment collection with its sessions.
func (r *PaymentCollectionRepository) FindByID(ctx context.Context, collectionID string) (domain.PaymentCollection, error) {
	id := strings.TrimSpace(collectionID)
	if id == "" {
		return domain.PaymentCollection{}, errors.New("payment collection repository: collection id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.PaymentCollection{}, err
	}
	return collectionFromDocument(doc.ID, doc.Data), nil
}

// SaveSession upserts the session within the collection, replacing any
// existing session with the same ID.
func (r *PaymentCollectionRepository) SaveSession(ctx context.Context, collectionID string, session domain.PaymentSession) error {
	id := strings.TrimSpace(collectionID)
	if id == "" {
		return errors.New("payment collection repository: collection id is required")
	}
	if strings.TrimSpace(session.ID) == "" {
		return errors.New("payment collection repository: session id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return err
	}

	sessionDoc := sessionToDocument(session)
	replaced := false
	for i, existing := range doc.Data.Sessions {
		if existing.ID == sessionDoc.ID {
			doc.Data.Sessions[i] = sessionDoc
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Data.Sessions = append(doc.Data.Sessions, sessionDoc)
	}

	_, err = r.base.Set(ctx, id, doc.Data)
	return err
}

type paymentCollectionDocument struct {
	CurrencyCode string                   `firestore:"currencyCode"`
	Amount       float64                  `firestore:"amount"`
	Sessions     []paymentSessionDocument `firestore:"sessions,omitempty"`
}

type paymentSessionDocument struct {
	ID           string         `firestore:"id"`
	ProviderID   string         `firestore:"providerId,omitempty"`
	Status       string         `firestore:"status"`
	Amount       float64        `firestore:"amount"`
	CurrencyCode string         `firestore:"currencyCode,omitempty"`
	PaymentID    string         `firestore:"paymentId,omitempty"`
	Data         map[string]any `firestore:"data,omitempty"`
}

func collectionToDocument(collection domain.PaymentCollection) paymentCollectionDocument {
	doc := paymentCollectionDocument{
		CurrencyCode: strings.ToLower(strings.TrimSpace(collection.CurrencyCode)),
		Amount:       collection.Amount,
	}
	for _, session := range collection.Sessions {
		doc.Sessions = append(doc.Sessions, sessionToDocument(session))
	}
	return doc
}

func collectionFromDocument(id string, doc paymentCollectionDocument) domain.PaymentCollection {
	collection := domain.PaymentCollection{
		ID:           id,
		CurrencyCode: doc.CurrencyCode,
		Amount:       doc.Amount,
	}
	for _, sessionDoc := range doc.Sessions {
		collection.Sessions = append(collection.Sessions, domain.PaymentSession{
			ID:           sessionDoc.ID,
			ProviderID:   sessionDoc.ProviderID,
			Status:       domain.PaymentSessionStatus(sessionDoc.Status),
			Amount:       sessionDoc.Amount,
			CurrencyCode: sessionDoc.CurrencyCode,
			PaymentID:    sessionDoc.PaymentID,
			Data:         cloneAnyMap(sessionDoc.Data),
		})
	}
	return collection
}

func sessionToDocument(session domain.PaymentSession) paymentSessionDocument {
	return paymentSessionDocument{
		ID:           session.ID,
		ProviderID:   session.ProviderID,
		Status:       string(session.Status),
		Amount:       session.Amount,
		CurrencyCode: strings.ToLower(strings.TrimSpace(session.CurrencyCode)),
		PaymentID:    session.PaymentID,
		Data:         cloneAnyMap(session.Data),
	}
}
