package services

import (
	"reflect"
	"testing"

	"github.com/cartforge/api/internal/domain"
)

func floatPtr(v float64) *float64 { return &v }

func TestCartToOrderPassesPricesThrough(t *testing.T) {
	cart := domain.Cart{
		ID:           "cart_1",
		Email:        "buyer@example.com",
		CurrencyCode: "eur",
		RegionID:     "reg_1",
		CustomerID:   "cus_1",
		Items: []domain.CartLineItem{
			{
				ID:             "cali_1",
				Title:          "Widget",
				Quantity:       2,
				UnitPrice:      19.99,
				IsTaxInclusive: true,
				Variant: &domain.VariantSnapshot{
					ID:        "variant_1",
					ProductID: "prod_1",
					SKU:       "WDG-01",
				},
				TaxLines: []domain.TaxLine{
					{Description: "VAT", Code: "vat", Rate: 19},
				},
				Adjustments: []domain.Adjustment{
					{Code: "SAVE10", Amount: 2, PromotionID: "promo_1"},
				},
			},
		},
	}

	draft := cartToOrder(cart)

	if len(draft.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(draft.Items))
	}
	item := draft.Items[0]
	if item.UnitPrice != 19.99 {
		t.Fatalf("unit price changed: %v", item.UnitPrice)
	}
	if !item.IsTaxInclusive {
		t.Fatal("tax inclusive flag dropped")
	}
	if item.VariantID != "variant_1" || item.ProductID != "prod_1" || item.SKU != "WDG-01" {
		t.Fatalf("variant linkage lost: %+v", item)
	}
	if !reflect.DeepEqual(item.TaxLines, cart.Items[0].TaxLines) {
		t.Fatalf("tax lines changed: %+v", item.TaxLines)
	}
	if !reflect.DeepEqual(item.Adjustments, cart.Items[0].Adjustments) {
		t.Fatalf("adjustments changed: %+v", item.Adjustments)
	}
	if draft.Email != "buyer@example.com" || draft.CurrencyCode != "eur" {
		t.Fatalf("header fields lost: %+v", draft)
	}
}

func TestCartToOrderPrefersRawShippingAmount(t *testing.T) {
	cart := domain.Cart{
		ShippingMethods: []domain.CartShippingMethod{
			{
				Name:             "Standard",
				Amount:           499.999,
				RawAmount:        floatPtr(500),
				ShippingOptionID: "so_1",
			},
			{
				Name:             "Express",
				Amount:           12.5,
				ShippingOptionID: "so_2",
			},
		},
	}

	draft := cartToOrder(cart)

	if len(draft.ShippingMethods) != 2 {
		t.Fatalf("expected 2 shipping methods, got %d", len(draft.ShippingMethods))
	}
	if draft.ShippingMethods[0].Amount != 500 {
		t.Fatalf("expected raw amount 500, got %v", draft.ShippingMethods[0].Amount)
	}
	if draft.ShippingMethods[1].Amount != 12.5 {
		t.Fatalf("expected display amount 12.5, got %v", draft.ShippingMethods[1].Amount)
	}
}

func TestCartToOrderCollectsPromoCodesInTraversalOrder(t *testing.T) {
	cart := domain.Cart{
		Items: []domain.CartLineItem{
			{Adjustments: []domain.Adjustment{
				{Code: "SAVE10", Amount: 1},
				{Code: "SAVE10", Amount: 1},
			}},
			{Adjustments: []domain.Adjustment{
				{Amount: 3}, // non-promotion adjustment carries no code
				{Code: "WELCOME", Amount: 5},
			}},
		},
		ShippingMethods: []domain.CartShippingMethod{
			{Adjustments: []domain.Adjustment{{Code: "FREESHIP", Amount: 4}}},
		},
	}

	draft := cartToOrder(cart)

	want := []string{"SAVE10", "SAVE10", "WELCOME", "FREESHIP"}
	if !reflect.DeepEqual(draft.PromoCodes, want) {
		t.Fatalf("promo codes %v, want %v", draft.PromoCodes, want)
	}
}

func TestPromotionUsagesOneRecordPerApplication(t *testing.T) {
	cart := domain.Cart{
		Items: []domain.CartLineItem{
			{Adjustments: []domain.Adjustment{
				{Code: "SAVE10", Amount: 2},
				{Code: "SAVE10", Amount: 2},
			}},
		},
		ShippingMethods: []domain.CartShippingMethod{
			{Adjustments: []domain.Adjustment{{Code: "FREESHIP", Amount: 7.5}}},
		},
	}

	usages := promotionUsages(cart)

	want := []domain.PromotionUsage{
		{Amount: 2, Code: "SAVE10"},
		{Amount: 2, Code: "SAVE10"},
		{Amount: 7.5, Code: "FREESHIP"},
	}
	if !reflect.DeepEqual(usages, want) {
		t.Fatalf("usages %v, want %v", usages, want)
	}
}

func TestCartToOrderCopiesCreditLinesVerbatim(t *testing.T) {
	cart := domain.Cart{
		CreditLines: []domain.CreditLine{
			{Amount: 10, RawAmount: floatPtr(10.004), Reference: "store_credit", ReferenceID: "sc_1"},
		},
	}

	draft := cartToOrder(cart)

	if !reflect.DeepEqual(draft.CreditLines, cart.CreditLines) {
		t.Fatalf("credit lines changed: %+v", draft.CreditLines)
	}
}

func TestShippingProfileMismatch(t *testing.T) {
	cart := domain.Cart{
		Items: []domain.CartLineItem{
			{Variant: &domain.VariantSnapshot{ID: "v1", RequiresShipping: true, ShippingProfileID: "sp_default"}},
			{Variant: &domain.VariantSnapshot{ID: "v2", RequiresShipping: true, ShippingProfileID: "sp_bulky"}},
			{Variant: &domain.VariantSnapshot{ID: "v3", RequiresShipping: false, ShippingProfileID: "sp_digital"}},
		},
	}

	options := []domain.ShippingOption{{ID: "so_1", ShippingProfileID: "sp_default"}}
	if profile, mismatch := shippingProfileMismatch(cart, options); !mismatch || profile != "sp_bulky" {
		t.Fatalf("expected mismatch on sp_bulky, got %q %v", profile, mismatch)
	}

	options = append(options, domain.ShippingOption{ID: "so_2", ShippingProfileID: "sp_bulky"})
	if profile, mismatch := shippingProfileMismatch(cart, options); mismatch {
		t.Fatalf("expected no mismatch, got %q", profile)
	}
}
