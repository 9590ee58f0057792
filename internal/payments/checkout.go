package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"fairbill/internal/types"
)

// CheckoutRequest asks for a provider subscription backing a platform
// invoice.
type CheckoutRequest struct {
	InvoiceID string
	Email     string
	Name      string
}

// BuildCheckout provisions the provider resources for a subscription
// checkout: a customer, a product, a recurring price and an incomplete
// subscription, stamped with linkage metadata so webhook deliveries find
// their way back. It returns the confirmation material for the client-side
// payment flow. All local validation runs before the first provider call.
func (s *Service) BuildCheckout(ctx context.Context, req CheckoutRequest) (*types.CheckoutForm, error) {
	if strings.TrimSpace(req.InvoiceID) == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "invoice id is required", nil)
	}

	invoice, err := s.invoices.GetByID(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}

	if !invoice.Total.IsPositive() {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidAmount,
			"invoice total must be positive to start a checkout",
			nil,
			map[string]any{"invoice_id": invoice.ID, "total": invoice.Total.String()},
		)
	}
	currency := strings.TrimSpace(invoice.Currency)
	if currency == "" {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidCurrency, "invoice has no currency", nil)
	}

	interval, err := ToProviderInterval(invoice.Period)
	if err != nil {
		return nil, err
	}
	period := NormalizePeriod(invoice.Period)

	meta := types.LinkageMeta{
		ClientID:  invoice.ClientID,
		InvoiceID: invoice.ID,
		GatewayID: s.settings.GatewayID,
		Period:    period,
	}

	customer, err := s.provider.CreateCustomer(ctx, CustomerParams{
		Email:    req.Email,
		Name:     req.Name,
		Metadata: meta.Map(),
	})
	if err != nil {
		return nil, err
	}

	productID := s.settings.DefaultProductID
	if productID == "" {
		name := invoice.Title
		if name == "" {
			name = s.settings.DefaultProductName
		}
		product, err := s.provider.CreateProduct(ctx, ProductParams{Name: name})
		if err != nil {
			return nil, err
		}
		productID = product.ID
	}

	price, err := s.provider.CreatePrice(ctx, PriceParams{
		ProductID:  productID,
		UnitAmount: MinorUnits(invoice.Total),
		Currency:   strings.ToLower(currency),
		Recurrence: interval,
	})
	if err != nil {
		return nil, err
	}

	subscription, err := s.provider.CreateSubscription(ctx, SubscriptionParams{
		CustomerID: customer.ID,
		PriceID:    price.ID,
		Metadata:   meta.Map(),
	})
	if err != nil {
		return nil, err
	}

	clientSecret, err := extractClientSecret(subscription)
	if err != nil {
		return nil, err
	}

	tx := &types.Transaction{
		ID:        uuid.NewString(),
		GatewayID: s.settings.GatewayID,
		InvoiceID: invoice.ID,
		ClientID:  invoice.ClientID,
		SID:       SanitizeID(subscription.ID),
		Period:    period,
		Amount:    invoice.Total,
		Currency:  strings.ToUpper(currency),
		Type:      types.TxnTypeSubscriptionPayment,
		Status:    types.PipelinePending,
		Note:      fmt.Sprintf("checkout for invoice %s", invoice.ID),
	}
	if err := s.txns.Create(ctx, tx); err != nil {
		return nil, err
	}

	s.logger.Info("checkout built",
		slog.String("invoice_id", invoice.ID),
		slog.String("client_id", invoice.ClientID),
		slog.String("sid", tx.SID),
		slog.String("transaction_id", tx.ID),
		slog.String("period", period),
	)

	return &types.CheckoutForm{
		PublishableKey: s.settings.PublishableKey,
		ClientSecret:   clientSecret,
		SubscriptionID: tx.SID,
		CustomerID:     SanitizeID(customer.ID),
		TransactionID:  tx.ID,
		Mode:           s.settings.Mode(),
	}, nil
}

// extractClientSecret pulls the confirmation secret from the subscription's
// first invoice. The provider has moved this value between API versions, so
// the payment intent location is checked first and the newer
// confirmation_secret field second.
func extractClientSecret(sub *ProviderSubscription) (string, error) {
	if sub.LatestInvoice != nil {
		if pi := sub.LatestInvoice.PaymentIntent; pi != nil && pi.ClientSecret != "" {
			return pi.ClientSecret, nil
		}
		if cs := sub.LatestInvoice.ConfirmationSecret; cs != nil && cs.ClientSecret != "" {
			return cs.ClientSecret, nil
		}
	}
	return "", types.NewAppError(
		types.ErrCodePaymentMissingClientSecret,
		"provider subscription did not return a client secret",
		nil,
	)
}
