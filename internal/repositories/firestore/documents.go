package firestore

import (
	domain "github.com/cartforge/api/internal/domain"
)

// Shared sub-documents reused across the cart and order aggregates.

type addressDocument struct {
	ID          string `firestore:"id,omitempty"`
	AddressName string `firestore:"addressName,omitempty"`
	FirstName   string `firestore:"firstName,omitempty"`
	LastName    string `firestore:"lastName,omitempty"`
	Company     string `firestore:"company,omitempty"`
	Address1    string `firestore:"address1,omitempty"`
	Address2    string `firestore:"address2,omitempty"`
	City        string `firestore:"city,omitempty"`
	CountryCode string `firestore:"countryCode,omitempty"`
	Province    string `firestore:"province,omitempty"`
	PostalCode  string `firestore:"postalCode,omitempty"`
	Phone       string `firestore:"phone,omitempty"`
}

type taxLineDocument struct {
	Description string  `firestore:"description,omitempty"`
	TaxRateID   string  `firestore:"taxRateId,omitempty"`
	Code        string  `firestore:"code,omitempty"`
	Rate        float64 `firestore:"rate"`
	ProviderID  string  `firestore:"providerId,omitempty"`
}

type adjustmentDocument struct {
	Code        string  `firestore:"code,omitempty"`
	Amount      float64 `firestore:"amount"`
	Description string  `firestore:"description,omitempty"`
	PromotionID string  `firestore:"promotionId,omitempty"`
	ProviderID  string  `firestore:"providerId,omitempty"`
}

type creditLineDocument struct {
	Amount      float64        `firestore:"amount"`
	RawAmount   *float64       `firestore:"rawAmount,omitempty"`
	Reference   string         `firestore:"reference,omitempty"`
	ReferenceID string         `firestore:"referenceId,omitempty"`
	Metadata    map[string]any `firestore:"metadata,omitempty"`
}

func addressToDocument(addr *domain.Address) *addressDocument {
	if addr == nil {
		return nil
	}
	return &addressDocument{
		ID:          addr.ID,
		AddressName: addr.AddressName,
		FirstName:   addr.FirstName,
		LastName:    addr.LastName,
		Company:     addr.Company,
		Address1:    addr.Address1,
		Address2:    addr.Address2,
		City:        addr.City,
		CountryCode: addr.CountryCode,
		Province:    addr.Province,
		PostalCode:  addr.PostalCode,
		Phone:       addr.Phone,
	}
}

func addressFromDocument(doc *addressDocument) *domain.Address {
	if doc == nil {
		return nil
	}
	return &domain.Address{
		ID:          doc.ID,
		AddressName: doc.AddressName,
		FirstName:   doc.FirstName,
		LastName:    doc.LastName,
		Company:     doc.Company,
		Address1:    doc.Address1,
		Address2:    doc.Address2,
		City:        doc.City,
		CountryCode: doc.CountryCode,
		Province:    doc.Province,
		PostalCode:  doc.PostalCode,
		Phone:       doc.Phone,
	}
}

func taxLinesToDocuments(lines []domain.TaxLine) []taxLineDocument {
	if len(lines) == 0 {
		return nil
	}
	out := make([]taxLineDocument, 0, len(lines))
	for _, line := range lines {
		out = append(out, taxLineDocument{
			Description: line.Description,
			TaxRateID:   line.TaxRateID,
			Code:        line.Code,
			Rate:        line.Rate,
			ProviderID:  line.ProviderID,
		})
	}
	return out
}

func taxLinesFromDocuments(docs []taxLineDocument) []domain.TaxLine {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.TaxLine, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.TaxLine{
			Description: doc.Description,
			TaxRateID:   doc.TaxRateID,
			Code:        doc.Code,
			Rate:        doc.Rate,
			ProviderID:  doc.ProviderID,
		})
	}
	return out
}

func adjustmentsToDocuments(adjustments []domain.Adjustment) []adjustmentDocument {
	if len(adjustments) == 0 {
		return nil
	}
	out := make([]adjustmentDocument, 0, len(adjustments))
	for _, adj := range adjustments {
		out = append(out, adjustmentDocument{
			Code:        adj.Code,
			Amount:      adj.Amount,
			Description: adj.Description,
			PromotionID: adj.PromotionID,
			ProviderID:  adj.ProviderID,
		})
	}
	return out
}

func adjustmentsFromDocuments(docs []adjustmentDocument) []domain.Adjustment {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.Adjustment, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.Adjustment{
			Code:        doc.Code,
			Amount:      doc.Amount,
			Description: doc.Description,
			PromotionID: doc.PromotionID,
			ProviderID:  doc.ProviderID,
		})
	}
	return out
}

func creditLinesToDocuments(lines []domain.CreditLine) []creditLineDocument {
	if len(lines) == 0 {
		return nil
	}
	out := make([]creditLineDocument, 0, len(lines))
	for _, line := range lines {
		out = append(out, creditLineDocument{
			Amount:      line.Amount,
			RawAmount:   line.RawAmount,
			Reference:   line.Reference,
			ReferenceID: line.ReferenceID,
			Metadata:    cloneAnyMap(line.Metadata),
		})
	}
	return out
}

func creditLinesFromDocuments(docs []creditLineDocument) []domain.CreditLine {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.CreditLine, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.CreditLine{
			Amount:      doc.Amount,
			RawAmount:   doc.RawAmount,
			Reference:   doc.Reference,
			ReferenceID: doc.ReferenceID,
			Metadata:    cloneAnyMap(doc.Metadata),
		})
	}
	return out
}

func cloneAnyMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
