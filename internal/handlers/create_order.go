package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"

	"github.com/cartforge/api/internal/domain"
	"github.com/cartforge/api/internal/platform/httpx"
	"github.com/cartforge/api/internal/services"
)

const maxCreateOrderBodySize = 64 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body exceeds the allowed size")
)

// AdminOrderHandlers exposes the admin order placement endpoint.
type AdminOrderHandlers struct {
	draftOrders *services.DraftOrderService
	sanitizer   *bluemonday.Policy
	logger      services.Logger
}

// NewAdminOrderHandlers constructs the admin order handlers.
func NewAdminOrderHandlers(draftOrders *services.DraftOrderService, logger services.Logger) (*AdminOrderHandlers, error) {
	if draftOrders == nil {
		return nil, errors.New("admin order handlers: draft order service is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &AdminOrderHandlers{
		draftOrders: draftOrders,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger,
	}, nil
}

// Routes registers admin order endpoints under the provided router.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/create-order", h.createOrder)
	r.Post("/order-edits/{id}/confirm", h.confirmOrderEdit)
}

type createOrderRequest struct {
	Email           string               `json:"email"`
	CustomerID      string               `json:"customerId"`
	RegionID        string               `json:"regionId"`
	CurrencyCode    string               `json:"currencyCode"`
	SalesChannelID  string               `json:"salesChannelId"`
	ShippingAddress *addressPayload      `json:"shippingAddress"`
	BillingAddress  *addressPayload      `json:"billingAddress"`
	Items           []orderItemPayload   `json:"items"`
	PromoCodes      []string             `json:"promoCodes"`
	ShippingOption  *shippingOptionInput `json:"shippingOption"`
	PaymentProvider string               `json:"paymentProvider"`
	Metadata        map[string]any       `json:"metadata"`
	NoNotification  bool                 `json:"noNotification"`
}

type addressPayload struct {
	// IsExistingAddress marks an address picked from the customer's saved
	// entries; it is never echoed back on responses.
	IsExistingAddress bool `json:"isExistingAddress,omitempty"`

	AddressName string `json:"addressName,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Company     string `json:"company,omitempty"`
	Address1    string `json:"address1,omitempty"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
	Province    string `json:"province,omitempty"`
	PostalCode  string `json:"postalCode,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type orderItemPayload struct {
	Title          string              `json:"title"`
	VariantID      string              `json:"variantId"`
	ProductID      string              `json:"productId"`
	SKU            string              `json:"sku"`
	Quantity       int64               `json:"quantity"`
	UnitPrice      float64             `json:"unitPrice"`
	IsTaxInclusive bool                `json:"isTaxInclusive"`
	TaxLines       []taxLinePayload    `json:"taxLines,omitempty"`
	Adjustments    []adjustmentPayload `json:"adjustments,omitempty"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
}

type taxLinePayload struct {
	Description string  `json:"description,omitempty"`
	TaxRateID   string  `json:"taxRateId,omitempty"`
	Code        string  `json:"code,omitempty"`
	Rate        float64 `json:"rate"`
	ProviderID  string  `json:"providerId,omitempty"`
}

type adjustmentPayload struct {
	Code        string  `json:"code,omitempty"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
	PromotionID string  `json:"promotionId,omitempty"`
}

type shippingOptionInput struct {
	OptionID  string   `json:"optionId"`
	Amount    float64  `json:"amount"`
	RawAmount *float64 `json:"rawAmount,omitempty"`
}

type createOrderResponse struct {
	Order orderPayload `json:"order"`
}

type confirmOrderEditRequest struct {
	ConfirmedBy string `json:"confirmedBy"`
}

type confirmOrderEditResponse struct {
	Order orderPayload     `json:"order"`
	Edit  orderEditPayload `json:"edit"`
}

type orderEditPayload struct {
	ID          string `json:"id"`
	OrderID     string `json:"orderId"`
	ConfirmedBy string `json:"confirmedBy,omitempty"`
	ConfirmedAt string `json:"confirmedAt,omitempty"`
}

type orderPayload struct {
	ID              string                 `json:"id"`
	DisplayID       int64                  `json:"displayId"`
	Status          string                 `json:"status"`
	Email           string                 `json:"email,omitempty"`
	CurrencyCode    string                 `json:"currencyCode"`
	RegionID        string                 `json:"regionId,omitempty"`
	CustomerID      string                 `json:"customerId,omitempty"`
	SalesChannelID  string                 `json:"salesChannelId,omitempty"`
	ShippingAddress *addressPayload        `json:"shippingAddress,omitempty"`
	BillingAddress  *addressPayload        `json:"billingAddress,omitempty"`
	Items           []orderItemPayload     `json:"items"`
	ShippingMethods []shippingMethodOutput `json:"shippingMethods,omitempty"`
	PromoCodes      []string               `json:"promoCodes,omitempty"`
	CreatedAt       string                 `json:"createdAt,omitempty"`
}

type shippingMethodOutput struct {
	Name             string  `json:"name"`
	Amount           float64 `json:"amount"`
	IsTaxInclusive   bool    `json:"isTaxInclusive"`
	ShippingOptionID string  `json:"shippingOptionId,omitempty"`
}

func (h *AdminOrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxCreateOrderBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd, err := h.buildCommand(req)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.draftOrders.CreateOrder(ctx, cmd)
	if err != nil {
		h.logger(ctx, "handlers.create_order_failed", map[string]any{
			"error": err.Error(),
		})
		h.writeServiceError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, createOrderResponse{Order: orderToPayload(result.Order)})
}

// confirmOrderEdit closes the pending edit window on the order named by the
// path. The body is optional; it may carry the confirming actor.
func (h *AdminOrderHandlers) confirmOrderEdit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "id")

	var req confirmOrderEditRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCreateOrderBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
			return
		}
	}

	result, err := h.draftOrders.ConfirmOrderEdit(ctx, services.ConfirmOrderEditCommand{
		OrderID:     orderID,
		ConfirmedBy: h.sanitize(req.ConfirmedBy),
	})
	if err != nil {
		h.logger(ctx, "handlers.confirm_order_edit_failed", map[string]any{
			"order_id": orderID,
			"error":    err.Error(),
		})
		h.writeServiceError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, confirmOrderEditResponse{
		Order: orderToPayload(result.Order),
		Edit:  orderEditToPayload(result.Edit),
	})
}

func orderEditToPayload(edit domain.OrderEdit) orderEditPayload {
	payload := orderEditPayload{
		ID:          edit.ID,
		OrderID:     edit.OrderID,
		ConfirmedBy: edit.ConfirmedBy,
	}
	if edit.ConfirmedAt != nil {
		payload.ConfirmedAt = edit.ConfirmedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

// buildCommand sanitises admin-supplied free text and validates the address
// country codes before handing the payload to the service.
func (h *AdminOrderHandlers) buildCommand(req createOrderRequest) (services.CreateDraftOrderCommand, error) {
	shipping, err := h.toAddress(req.ShippingAddress)
	if err != nil {
		return services.CreateDraftOrderCommand{}, err
	}
	billing, err := h.toAddress(req.BillingAddress)
	if err != nil {
		return services.CreateDraftOrderCommand{}, err
	}

	cmd := services.CreateDraftOrderCommand{
		Email:           strings.TrimSpace(req.Email),
		CustomerID:      strings.TrimSpace(req.CustomerID),
		RegionID:        strings.TrimSpace(req.RegionID),
		CurrencyCode:    strings.TrimSpace(req.CurrencyCode),
		SalesChannelID:  strings.TrimSpace(req.SalesChannelID),
		ShippingAddress: shipping,
		BillingAddress:  billing,
		PaymentProvider: strings.TrimSpace(req.PaymentProvider),
		Metadata:        req.Metadata,
		NoNotification:  req.NoNotification,
	}
	if req.ShippingAddress != nil {
		cmd.ShippingAddressExisting = req.ShippingAddress.IsExistingAddress
	}
	if req.BillingAddress != nil {
		cmd.BillingAddressExisting = req.BillingAddress.IsExistingAddress
	}

	for _, code := range req.PromoCodes {
		if c := strings.TrimSpace(code); c != "" {
			cmd.PromoCodes = append(cmd.PromoCodes, c)
		}
	}

	for _, item := range req.Items {
		line := services.DraftOrderItem{
			Title:          h.sanitize(item.Title),
			VariantID:      strings.TrimSpace(item.VariantID),
			ProductID:      strings.TrimSpace(item.ProductID),
			SKU:            strings.TrimSpace(item.SKU),
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			IsTaxInclusive: item.IsTaxInclusive,
			Metadata:       item.Metadata,
		}
		for _, tax := range item.TaxLines {
			line.TaxLines = append(line.TaxLines, domain.TaxLine{
				Description: h.sanitize(tax.Description),
				TaxRateID:   tax.TaxRateID,
				Code:        tax.Code,
				Rate:        tax.Rate,
				ProviderID:  tax.ProviderID,
			})
		}
		for _, adj := range item.Adjustments {
			line.Adjustments = append(line.Adjustments, domain.Adjustment{
				Code:        strings.TrimSpace(adj.Code),
				Amount:      adj.Amount,
				Description: h.sanitize(adj.Description),
				PromotionID: adj.PromotionID,
			})
		}
		cmd.Items = append(cmd.Items, line)
	}

	if req.ShippingOption != nil {
		cmd.ShippingOption = services.DraftOrderShipping{
			OptionID:  strings.TrimSpace(req.ShippingOption.OptionID),
			Amount:    req.ShippingOption.Amount,
			RawAmount: req.ShippingOption.RawAmount,
		}
	}

	return cmd, nil
}

func (h *AdminOrderHandlers) toAddress(payload *addressPayload) (*domain.Address, error) {
	if payload == nil {
		return nil, nil
	}

	countryCode := strings.ToLower(strings.TrimSpace(payload.CountryCode))
	if countryCode != "" {
		if _, err := language.ParseRegion(strings.ToUpper(countryCode)); err != nil {
			return nil, errors.New("invalid country code " + payload.CountryCode)
		}
	}

	return &domain.Address{
		AddressName: h.sanitize(payload.AddressName),
		FirstName:   h.sanitize(payload.FirstName),
		LastName:    h.sanitize(payload.LastName),
		Company:     h.sanitize(payload.Company),
		Address1:    h.sanitize(payload.Address1),
		Address2:    h.sanitize(payload.Address2),
		City:        h.sanitize(payload.City),
		CountryCode: countryCode,
		Province:    h.sanitize(payload.Province),
		PostalCode:  strings.TrimSpace(payload.PostalCode),
		Phone:       strings.TrimSpace(payload.Phone),
	}, nil
}

func (h *AdminOrderHandlers) sanitize(value string) string {
	return strings.TrimSpace(h.sanitizer.Sanitize(value))
}

// writeServiceError maps the service taxonomy onto the error envelope. Admin
// order placement reports every service failure as a 500 so the hosting panel
// surfaces the message verbatim.
func (h *AdminOrderHandlers) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	code := "order_creation_failed"
	switch {
	case errors.Is(err, services.ErrDraftOrderInvalidInput):
		code = "invalid_request"
	case errors.Is(err, services.ErrDraftOrderInvalidPromotion):
		code = "invalid_promotion"
	case errors.Is(err, services.ErrDraftOrderInvalidShipping):
		code = "invalid_shipping_option"
	case errors.Is(err, services.ErrDraftOrderInvalidData):
		code = "invalid_order_data"
	case errors.Is(err, services.ErrDraftOrderUnavailable):
		code = "service_unavailable"
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, err.Error(), http.StatusInternalServerError))
}

func orderToPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		DisplayID:       order.DisplayID,
		Status:          string(order.Status),
		Email:           order.Email,
		CurrencyCode:    order.CurrencyCode,
		RegionID:        order.RegionID,
		CustomerID:      order.CustomerID,
		SalesChannelID:  order.SalesChannelID,
		ShippingAddress: addressToPayload(order.ShippingAddress),
		BillingAddress:  addressToPayload(order.BillingAddress),
		PromoCodes:      order.PromoCodes,
	}
	if !order.CreatedAt.IsZero() {
		payload.CreatedAt = order.CreatedAt.UTC().Format(time.RFC3339)
	}
	for _, item := range order.Items {
		out := orderItemPayload{
			Title:          item.Title,
			VariantID:      item.VariantID,
			ProductID:      item.ProductID,
			SKU:            item.SKU,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			IsTaxInclusive: item.IsTaxInclusive,
			Metadata:       item.Metadata,
		}
		for _, tax := range item.TaxLines {
			out.TaxLines = append(out.TaxLines, taxLinePayload{
				Description: tax.Description,
				TaxRateID:   tax.TaxRateID,
				Code:        tax.Code,
				Rate:        tax.Rate,
				ProviderID:  tax.ProviderID,
			})
		}
		for _, adj := range item.Adjustments {
			out.Adjustments = append(out.Adjustments, adjustmentPayload{
				Code:        adj.Code,
				Amount:      adj.Amount,
				Description: adj.Description,
				PromotionID: adj.PromotionID,
			})
		}
		payload.Items = append(payload.Items, out)
	}
	for _, method := range order.ShippingMethods {
		payload.ShippingMethods = append(payload.ShippingMethods, shippingMethodOutput{
			Name:             method.Name,
			Amount:           method.Amount,
			IsTaxInclusive:   method.IsTaxInclusive,
			ShippingOptionID: method.ShippingOptionID,
		})
	}
	return payload
}

func addressToPayload(addr *domain.Address) *addressPayload {
	if addr == nil {
		return nil
	}
	return &addressPayload{
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

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxCreateOrderBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}
