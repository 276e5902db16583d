package services

import (
	"github.com/cartforge/api/internal/domain"
)

// cartToOrder maps a hydrated cart snapshot onto an order-creation payload.
// Monetary figures are carried over verbatim: the cart service owns pricing
// and this transform never recomputes totals, taxes, or discounts.
func cartToOrder(cart domain.Cart) domain.OrderDraft {
	draft := domain.OrderDraft{
		RegionID:        cart.RegionID,
		CustomerID:      cart.CustomerID,
		SalesChannelID:  cart.SalesChannelID,
		Email:           cart.Email,
		CurrencyCode:    cart.CurrencyCode,
		ShippingAddress: copyAddress(cart.ShippingAddress),
		BillingAddress:  copyAddress(cart.BillingAddress),
		Metadata:        cart.Metadata,
		NoNotification:  false,
	}

	for _, item := range cart.Items {
		line := domain.OrderItemDraft{
			Title:          item.Title,
			Subtitle:       item.Subtitle,
			Thumbnail:      item.Thumbnail,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			IsTaxInclusive: item.IsTaxInclusive,
			TaxLines:       append([]domain.TaxLine(nil), item.TaxLines...),
			Adjustments:    append([]domain.Adjustment(nil), item.Adjustments...),
			Metadata:       item.Metadata,
		}
		if item.Variant != nil {
			line.VariantID = item.Variant.ID
			line.ProductID = item.Variant.ProductID
			line.SKU = item.Variant.SKU
			line.Barcode = item.Variant.Barcode
		}
		draft.Items = append(draft.Items, line)
		draft.PromoCodes = appendPromoCodes(draft.PromoCodes, item.Adjustments)
	}

	for _, method := range cart.ShippingMethods {
		amount := method.Amount
		if method.RawAmount != nil {
			// The unrounded figure wins over the display amount.
			amount = *method.RawAmount
		}
		draft.ShippingMethods = append(draft.ShippingMethods, domain.OrderShippingMethodDraft{
			Name:             method.Name,
			Description:      method.Description,
			Amount:           amount,
			IsTaxInclusive:   method.IsTaxInclusive,
			ShippingOptionID: method.ShippingOptionID,
			Data:             method.Data,
			Metadata:         method.Metadata,
			TaxLines:         append([]domain.TaxLine(nil), method.TaxLines...),
			Adjustments:      append([]domain.Adjustment(nil), method.Adjustments...),
		})
		draft.PromoCodes = appendPromoCodes(draft.PromoCodes, method.Adjustments)
	}

	draft.CreditLines = append(draft.CreditLines, cart.CreditLines...)

	return draft
}

// appendPromoCodes collects codes in traversal order. Duplicates are kept: one
// entry per application, matching how promotion usage is reported.
func appendPromoCodes(codes []string, adjustments []domain.Adjustment) []string {
	for _, adj := range adjustments {
		if adj.Code == "" {
			continue
		}
		codes = append(codes, adj.Code)
	}
	return codes
}

// promotionUsages derives one usage record per code-carrying adjustment on the
// cart, items before shipping methods.
func promotionUsages(cart domain.Cart) []domain.PromotionUsage {
	var usages []domain.PromotionUsage
	collect := func(adjustments []domain.Adjustment) {
		for _, adj := range adjustments {
			if adj.Code == "" {
				continue
			}
			usages = append(usages, domain.PromotionUsage{
				Amount: adj.Amount,
				Code:   adj.Code,
			})
		}
	}
	for _, item := range cart.Items {
		collect(item.Adjustments)
	}
	for _, method := range cart.ShippingMethods {
		collect(method.Adjustments)
	}
	return usages
}

// shippingProfileMismatch reports the first item whose shipping profile is not
// served by any of the cart's selected shipping options.
func shippingProfileMismatch(cart domain.Cart, options []domain.ShippingOption) (string, bool) {
	profiles := make(map[string]struct{}, len(options))
	for _, option := range options {
		if option.ShippingProfileID != "" {
			profiles[option.ShippingProfileID] = struct{}{}
		}
	}
	for _, item := range cart.Items {
		if item.Variant == nil || !item.Variant.RequiresShipping {
			continue
		}
		profile := item.Variant.ShippingProfileID
		if profile == "" {
			continue
		}
		if _, ok := profiles[profile]; !ok {
			return profile, true
		}
	}
	return "", false
}

func copyAddress(addr *domain.Address) *domain.Address {
	if addr == nil {
		return nil
	}
	clone := *addr
	return &clone
}
