package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"fairbill/internal/types"
)

type fakeTransactionStore struct {
	rows map[string]*types.Transaction

	createCalls int
	updateCalls int
	claimCalls  int
	markCalls   int

	createErr error
	updateErr error
	claimErr  error
}

func newFakeTransactionStore() *fakeTransactionStore {
	return &fakeTransactionStore{rows: map[string]*types.Transaction{}}
}

func (f *fakeTransactionStore) GetByID(_ context.Context, id string) (*types.Transaction, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil)
	}
	copied := *row
	return &copied, nil
}

func (f *fakeTransactionStore) GetByEventID(_ context.Context, eventID string) (*types.Transaction, error) {
	for _, row := range f.rows {
		if row.EventID == eventID {
			copied := *row
			return &copied, nil
		}
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil)
}

func (f *fakeTransactionStore) Create(_ context.Context, tx *types.Transaction) error {
	f.createCalls++
	if f.createErr != nil {
		return f.createErr
	}
	if tx.EventID != "" {
		for _, row := range f.rows {
			if row.EventID == tx.EventID {
				return types.NewAppError(types.ErrCodeConflictConcurrent, "duplicate event id", nil)
			}
		}
	}
	copied := *tx
	f.rows[tx.ID] = &copied
	return nil
}

func (f *fakeTransactionStore) Update(_ context.Context, tx *types.Transaction) error {
	f.updateCalls++
	if f.updateErr != nil {
		return f.updateErr
	}
	copied := *tx
	f.rows[tx.ID] = &copied
	return nil
}

func (f *fakeTransactionStore) ClaimProcessed(_ context.Context, tx *types.Transaction) (bool, error) {
	f.claimCalls++
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if stored, ok := f.rows[tx.ID]; ok && stored.Status == types.PipelineProcessed {
		return false, nil
	}
	copied := *tx
	copied.Status = types.PipelineProcessed
	f.rows[tx.ID] = &copied
	return true, nil
}

func (f *fakeTransactionStore) MarkError(_ context.Context, id, message string) error {
	f.markCalls++
	row, ok := f.rows[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundTransaction, "transaction not found", nil)
	}
	row.Status = types.PipelineError
	row.ErrorMessage = message
	return nil
}

func (f *fakeTransactionStore) ListUnsettled(_ context.Context, limit int) ([]*types.Transaction, error) {
	var out []*types.Transaction
	for _, row := range f.rows {
		if row.Status == types.PipelineReceived || row.Status == types.PipelineError {
			copied := *row
			out = append(out, &copied)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeInvoiceReader struct {
	invoices map[string]*types.Invoice
	getErr   error
}

func (f *fakeInvoiceReader) GetByID(_ context.Context, id string) (*types.Invoice, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	invoice, ok := f.invoices[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundInvoice, "invoice not found", nil)
	}
	copied := *invoice
	return &copied, nil
}

type creditCall struct {
	clientID string
	amount   decimal.Decimal
	currency string
}

type fakeFunds struct {
	credits   []creditCall
	creditErr error
}

func (f *fakeFunds) CreditFunds(_ context.Context, clientID string, amount decimal.Decimal, currency, _ string) error {
	if f.creditErr != nil {
		return f.creditErr
	}
	f.credits = append(f.credits, creditCall{clientID: clientID, amount: amount, currency: currency})
	return nil
}

type fakeSettler struct {
	settled   [][2]string
	sweptAll  []string
	settleErr error
	sweepErr  error
}

func (f *fakeSettler) SettleWithCredits(_ context.Context, invoiceID, clientID string) error {
	if f.settleErr != nil {
		return f.settleErr
	}
	f.settled = append(f.settled, [2]string{invoiceID, clientID})
	return nil
}

func (f *fakeSettler) SettleAllWithCredits(_ context.Context, clientID string) error {
	if f.sweepErr != nil {
		return f.sweepErr
	}
	f.sweptAll = append(f.sweptAll, clientID)
	return nil
}

type fakePublisher struct {
	messages   []types.PaymentEventMessage
	publishErr error
}

func (f *fakePublisher) Publish(_ context.Context, msg types.PaymentEventMessage) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakePublisher) kinds() []types.PaymentEventKind {
	var out []types.PaymentEventKind
	for _, msg := range f.messages {
		out = append(out, msg.Kind)
	}
	return out
}

type fakeProvider struct {
	customer     *Customer
	product      *Product
	price        *Price
	subscription *ProviderSubscription
	intent       *PaymentIntent

	customerParams     *CustomerParams
	productParams      *ProductParams
	priceParams        *PriceParams
	subscriptionParams *SubscriptionParams

	productCalls int
	intentCalls  int

	customerErr error
	intentErr   error
}

func (f *fakeProvider) CreateCustomer(_ context.Context, params CustomerParams) (*Customer, error) {
	if f.customerErr != nil {
		return nil, f.customerErr
	}
	f.customerParams = &params
	return f.customer, nil
}

func (f *fakeProvider) CreateProduct(_ context.Context, params ProductParams) (*Product, error) {
	f.productCalls++
	f.productParams = &params
	return f.product, nil
}

func (f *fakeProvider) CreatePrice(_ context.Context, params PriceParams) (*Price, error) {
	f.priceParams = &params
	return f.price, nil
}

func (f *fakeProvider) CreateSubscription(_ context.Context, params SubscriptionParams) (*ProviderSubscription, error) {
	f.subscriptionParams = &params
	return f.subscription, nil
}

func (f *fakeProvider) GetPaymentIntent(_ context.Context, _ string) (*PaymentIntent, error) {
	f.intentCalls++
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	return f.intent, nil
}

type serviceFixture struct {
	svc      *Service
	provider *fakeProvider
	txns     *fakeTransactionStore
	subs     *fakeSubscriptionStore
	invoices *fakeInvoiceReader
	funds    *fakeFunds
	settler  *fakeSettler
	events   *fakePublisher
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	fixture := &serviceFixture{
		provider: &fakeProvider{
			customer: &Customer{ID: "cus_1"},
			product:  &Product{ID: "prod_1"},
			price:    &Price{ID: "price_1"},
			subscription: &ProviderSubscription{
				ID:     "sub_new",
				Status: "incomplete",
				LatestInvoice: &LatestInvoice{
					ID:            "in_first",
					PaymentIntent: &PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret_abc"},
				},
			},
			intent: &PaymentIntent{ID: "pi_1", Status: "succeeded", Amount: 1999, Currency: "usd"},
		},
		txns:     newFakeTransactionStore(),
		subs:     newFakeSubscriptionStore(),
		invoices: &fakeInvoiceReader{invoices: map[string]*types.Invoice{}},
		funds:    &fakeFunds{},
		settler:  &fakeSettler{},
		events:   &fakePublisher{},
	}

	svc, err := NewService(ServiceDeps{
		Provider:      fixture.provider,
		Transactions:  fixture.txns,
		Subscriptions: fixture.subs,
		Invoices:      fixture.invoices,
		Funds:         fixture.funds,
		Settler:       fixture.settler,
		Events:        fixture.events,
		Settings: GatewaySettings{
			GatewayID:          "7",
			PublishableKey:     "pk_test_abc",
			DefaultProductName: "Subscription",
			TestMode:           true,
		},
	})
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	fixture.svc = svc
	return fixture
}

func webhookPayload(eventID, eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id": %q, "type": %q, "data": {"object": %s}}`, eventID, eventType, object))
}

const firstInvoiceObject = `{
	"id": "in_100",
	"paid": true,
	"status": "paid",
	"charge": "ch_100",
	"subscription": "sub_new",
	"billing_reason": "subscription_create",
	"amount_paid": 1999,
	"amount_due": 1999,
	"currency": "usd",
	"subscription_details": {"metadata": {
		"fb_client_id": "42",
		"fb_invoice_id": "900",
		"fb_gateway_id": "7",
		"fb_period": "1M"
	}}
}`

func TestApplyWebhookFirstInvoiceSettles(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.invoices.invoices["900"] = &types.Invoice{ID: "900", ClientID: "42", Period: "1M", Currency: "USD"}

	payload := webhookPayload("evt_1", EventInvoicePaymentSucceeded, firstInvoiceObject)

	outcome, err := fixture.svc.ApplyWebhook(context.Background(), payload)
	if err != nil {
		t.Fatalf("ApplyWebhook returned error: %v", err)
	}

	if outcome.Kind != KindSubscriptionPaymentSucceeded {
		t.Errorf("Kind = %q, want %q", outcome.Kind, KindSubscriptionPaymentSucceeded)
	}
	if outcome.Pipeline != types.PipelineProcessed {
		t.Errorf("Pipeline = %q, want %q", outcome.Pipeline, types.PipelineProcessed)
	}

	stored, err := fixture.txns.GetByID(context.Background(), outcome.TransactionID)
	if err != nil {
		t.Fatalf("transaction row missing: %v", err)
	}
	if stored.Status != types.PipelineProcessed {
		t.Errorf("stored status = %q, want processed", stored.Status)
	}
	if stored.TxnID != "in_100" {
		t.Errorf("stored TxnID = %q, want in_100", stored.TxnID)
	}
	if stored.ClientID != "42" || stored.InvoiceID != "900" {
		t.Errorf("stored linkage = client %q invoice %q, want 42/900", stored.ClientID, stored.InvoiceID)
	}
	if stored.SID != "sub_new" || stored.Period != "1M" {
		t.Errorf("stored subscription bookkeeping = %q/%q, want sub_new/1M", stored.SID, stored.Period)
	}

	if len(fixture.funds.credits) != 1 {
		t.Fatalf("credits = %d, want 1", len(fixture.funds.credits))
	}
	credit := fixture.funds.credits[0]
	if credit.clientID != "42" || credit.currency != "USD" {
		t.Errorf("credit = %+v, want client 42 in USD", credit)
	}
	if want := decimal.RequireFromString("19.99"); !credit.amount.Equal(want) {
		t.Errorf("credit amount = %s, want %s", credit.amount, want)
	}

	if len(fixture.settler.settled) != 1 || fixture.settler.settled[0] != [2]string{"900", "42"} {
		t.Errorf("settled = %v, want invoice 900 for client 42", fixture.settler.settled)
	}

	if fixture.subs.subs["sub_new"] == nil {
		t.Error("subscription record was not created from first invoice")
	}

	kinds := fixture.events.kinds()
	if len(kinds) != 2 || kinds[0] != types.PaymentEventSubscriptionCreated || kinds[1] != types.PaymentEventPaymentProcessed {
		t.Errorf("published kinds = %v, want [subscription_created payment_processed]", kinds)
	}
}

func TestApplyWebhookRedeliveryIsIdempotent(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.invoices.invoices["900"] = &types.Invoice{ID: "900", ClientID: "42", Period: "1M", Currency: "USD"}

	payload := webhookPayload("evt_1", EventInvoicePaymentSucceeded, firstInvoiceObject)

	first, err := fixture.svc.ApplyWebhook(context.Background(), payload)
	if err != nil {
		t.Fatalf("first delivery returned error: %v", err)
	}
	second, err := fixture.svc.ApplyWebhook(context.Background(), payload)
	if err != nil {
		t.Fatalf("second delivery returned error: %v", err)
	}

	if second.TransactionID != first.TransactionID {
		t.Errorf("redelivery created a new row: %q vs %q", second.TransactionID, first.TransactionID)
	}
	if second.Pipeline != types.PipelineProcessed {
		t.Errorf("second Pipeline = %q, want processed", second.Pipeline)
	}
	if len(fixture.funds.credits) != 1 {
		t.Errorf("credits after redelivery = %d, want exactly 1", len(fixture.funds.credits))
	}
	if len(fixture.settler.settled) != 1 {
		t.Errorf("settlements after redelivery = %d, want exactly 1", len(fixture.settler.settled))
	}
	if fixture.txns.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", fixture.txns.createCalls)
	}
}

func TestApplyWebhookPaymentFailed(t *testing.T) {
	fixture := newServiceFixture(t)

	object := `{
		"id": "in_200",
		"paid": false,
		"status": "open",
		"subscription": "sub_new",
		"amount_due": 1999,
		"currency": "usd",
		"subscription_details": {"metadata": {"fb_client_id": "42", "fb_invoice_id": "900"}}
	}`
	payload := webhookPayload("evt_2", EventInvoicePaymentFailed, object)

	outcome, err := fixture.svc.ApplyWebhook(context.Background(), payload)
	if err != nil {
		t.Fatalf("ApplyWebhook returned error: %v", err)
	}

	if outcome.Pipeline != types.PipelineError {
		t.Errorf("Pipeline = %q, want %q for failed payment", outcome.Pipeline, types.PipelineError)
	}
	if len(fixture.funds.credits) != 0 {
		t.Errorf("credits = %d, want 0 for failed payment", len(fixture.funds.credits))
	}
	if len(fixture.settler.settled)+len(fixture.settler.sweptAll) != 0 {
		t.Error("settlement ran for a failed payment")
	}

	stored, err := fixture.txns.GetByID(context.Background(), outcome.TransactionID)
	if err != nil {
		t.Fatalf("transaction row missing: %v", err)
	}
	if stored.TxnStatus != TxnStatusFailed {
		t.Errorf("TxnStatus = %q, want %q", stored.TxnStatus, TxnStatusFailed)
	}
}

func TestApplyWebhookLifecycleCancel(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.subs.subs["sub_old"] = &types.Subscription{SID: "sub_old", ClientID: "42", Status: types.SubStatusActive}

	object := `{"id": "sub_old", "status": "canceled", "metadata": {"fb_client_id": "42"}}`
	payload := webhookPayload("evt_3", EventSubscriptionDeleted, object)

	outcome, err := fixture.svc.ApplyWebhook(context.Background(), payload)
	if err != nil {
		t.Fatalf("ApplyWebhook returned error: %v", err)
	}

	if outcome.Kind != KindSubscriptionLifecycle {
		t.Errorf("Kind = %q, want %q", outcome.Kind, KindSubscriptionLifecycle)
	}
	if got := fixture.subs.subs["sub_old"].Status; got != types.SubStatusCanceled {
		t.Errorf("subscription status = %q, want canceled", got)
	}

	stored, err := fixture.txns.GetByID(context.Background(), outcome.TransactionID)
	if err != nil {
		t.Fatalf("transaction row missing: %v", err)
	}
	if stored.Type != types.TxnTypeSubscriptionUpdate {
		t.Errorf("Type = %q, want %q", stored.Type, types.TxnTypeSubscriptionUpdate)
	}

	kinds := fixture.events.kinds()
	if len(kinds) != 1 || kinds[0] != types.PaymentEventSubscriptionCanceled {
		t.Errorf("published kinds = %v, want [subscription_canceled]", kinds)
	}
}

func TestApplyWebhookIgnoresUnsubscribedEvents(t *testing.T) {
	fixture := newServiceFixture(t)

	payload := webhookPayload("evt_4", "charge.refunded", `{"id": "re_1"}`)

	outcome, err := fixture.svc.ApplyWebhook(context.Background(), payload)
	if err != nil {
		t.Fatalf("ApplyWebhook returned error: %v", err)
	}
	if !outcome.Ignored {
		t.Error("Ignored = false, want true")
	}
	if fixture.txns.createCalls != 0 {
		t.Errorf("createCalls = %d, want 0 for unsubscribed event", fixture.txns.createCalls)
	}
}

func TestApplyWebhookIgnoresNonEventPayloads(t *testing.T) {
	fixture := newServiceFixture(t)

	outcome, err := fixture.svc.ApplyWebhook(context.Background(), []byte(`{"hello": "world"}`))
	if err != nil {
		t.Fatalf("ApplyWebhook returned error: %v", err)
	}
	if !outcome.Ignored {
		t.Error("Ignored = false, want true")
	}
}

func TestApplyWebhookUnresolvableClient(t *testing.T) {
	fixture := newServiceFixture(t)

	// Renewal invoice with no linkage metadata and no local invoice.
	object := `{
		"id": "in_300",
		"paid": true,
		"subscription": "sub_unknown",
		"billing_reason": "subscription_cycle",
		"amount_paid": 1999,
		"currency": "usd"
	}`
	payload := webhookPayload("evt_5", EventInvoicePaymentSucceeded, object)

	outcome, err := fixture.svc.ApplyWebhook(context.Background(), payload)
	if err == nil {
		t.Fatal("expected resolution error, got nil")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodePaymentResolution {
		t.Errorf("error = %v, want code %q", err, types.ErrCodePaymentResolution)
	}

	stored, getErr := fixture.txns.GetByID(context.Background(), outcome.TransactionID)
	if getErr != nil {
		t.Fatalf("transaction row missing: %v", getErr)
	}
	if stored.Status != types.PipelineError {
		t.Errorf("stored status = %q, want error", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Error("ErrorMessage is empty, want failure recorded on the row")
	}
	if len(fixture.funds.credits) != 0 {
		t.Errorf("credits = %d, want 0", len(fixture.funds.credits))
	}
}

func TestApplyWebhookSettleFailureReopensTransaction(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.invoices.invoices["900"] = &types.Invoice{ID: "900", ClientID: "42", Period: "1M", Currency: "USD"}
	fixture.funds.creditErr = types.NewAppError(types.ErrCodeInternalDB, "balance write failed", nil)

	payload := webhookPayload("evt_6", EventInvoicePaymentSucceeded, firstInvoiceObject)

	outcome, err := fixture.svc.ApplyWebhook(context.Background(), payload)
	if err == nil {
		t.Fatal("expected settlement error, got nil")
	}

	stored, getErr := fixture.txns.GetByID(context.Background(), outcome.TransactionID)
	if getErr != nil {
		t.Fatalf("transaction row missing: %v", getErr)
	}
	if stored.Status != types.PipelineError {
		t.Errorf("stored status = %q, want error so the replayer can retry", stored.Status)
	}

	// The retry settles once the balance write recovers.
	fixture.funds.creditErr = nil
	retried, err := fixture.svc.ReprocessTransaction(context.Background(), outcome.TransactionID)
	if err != nil {
		t.Fatalf("ReprocessTransaction returned error: %v", err)
	}
	if retried.Pipeline != types.PipelineProcessed {
		t.Errorf("retried Pipeline = %q, want processed", retried.Pipeline)
	}
	if len(fixture.funds.credits) != 1 {
		t.Errorf("credits after retry = %d, want 1", len(fixture.funds.credits))
	}
}

func TestApplyWebhookPublishFailureDoesNotFailSettlement(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.invoices.invoices["900"] = &types.Invoice{ID: "900", ClientID: "42", Period: "1M", Currency: "USD"}
	fixture.events.publishErr = errors.New("queue unavailable")

	payload := webhookPayload("evt_7", EventInvoicePaymentSucceeded, firstInvoiceObject)

	outcome, err := fixture.svc.ApplyWebhook(context.Background(), payload)
	if err != nil {
		t.Fatalf("ApplyWebhook returned error: %v", err)
	}
	if outcome.Pipeline != types.PipelineProcessed {
		t.Errorf("Pipeline = %q, want processed despite publish failure", outcome.Pipeline)
	}
	if len(fixture.funds.credits) != 1 {
		t.Errorf("credits = %d, want 1", len(fixture.funds.credits))
	}
}

func TestConfirmPaymentSettlesOneTimePayment(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.txns.rows["tx-1"] = &types.Transaction{
		ID:        "tx-1",
		GatewayID: "7",
		InvoiceID: "900",
		ClientID:  "42",
		Status:    types.PipelinePending,
		Type:      types.TxnTypePayment,
	}

	tx, err := fixture.svc.ConfirmPayment(context.Background(), "tx-1", "pi_1")
	if err != nil {
		t.Fatalf("ConfirmPayment returned error: %v", err)
	}

	if tx.Status != types.PipelineProcessed {
		t.Errorf("Status = %q, want processed", tx.Status)
	}
	if tx.TxnID != "pi_1" {
		t.Errorf("TxnID = %q, want pi_1", tx.TxnID)
	}
	if want := decimal.RequireFromString("19.99"); !tx.Amount.Equal(want) {
		t.Errorf("Amount = %s, want %s", tx.Amount, want)
	}
	if tx.Currency != "USD" {
		t.Errorf("Currency = %q, want USD", tx.Currency)
	}
	if len(fixture.funds.credits) != 1 {
		t.Errorf("credits = %d, want 1", len(fixture.funds.credits))
	}
	if len(fixture.settler.settled) != 1 {
		t.Errorf("settlements = %d, want 1", len(fixture.settler.settled))
	}

	kinds := fixture.events.kinds()
	if len(kinds) != 1 || kinds[0] != types.PaymentEventPaymentProcessed {
		t.Errorf("published kinds = %v, want [payment_processed]", kinds)
	}
}

func TestConfirmPaymentSkipsWebhookSettledTransaction(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.txns.rows["tx-1"] = &types.Transaction{
		ID:     "tx-1",
		TxnID:  "in_100",
		Status: types.PipelineProcessed,
	}

	tx, err := fixture.svc.ConfirmPayment(context.Background(), "tx-1", "pi_1")
	if err != nil {
		t.Fatalf("ConfirmPayment returned error: %v", err)
	}
	if tx.Status != types.PipelineProcessed {
		t.Errorf("Status = %q, want processed", tx.Status)
	}
	if fixture.provider.intentCalls != 0 {
		t.Errorf("intentCalls = %d, want 0 for an already settled transaction", fixture.provider.intentCalls)
	}
	if len(fixture.funds.credits) != 0 {
		t.Errorf("credits = %d, want 0", len(fixture.funds.credits))
	}
}

func TestConfirmPaymentIncompleteIntent(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.txns.rows["tx-1"] = &types.Transaction{ID: "tx-1", ClientID: "42", Status: types.PipelinePending}
	fixture.provider.intent = &PaymentIntent{ID: "pi_1", Status: "requires_action", Amount: 1999, Currency: "usd"}

	tx, err := fixture.svc.ConfirmPayment(context.Background(), "tx-1", "pi_1")
	if err != nil {
		t.Fatalf("ConfirmPayment returned error: %v", err)
	}
	if tx.Status != types.PipelineReceived {
		t.Errorf("Status = %q, want received", tx.Status)
	}
	if len(fixture.funds.credits) != 0 {
		t.Errorf("credits = %d, want 0 before the payment completes", len(fixture.funds.credits))
	}
}

func TestConfirmPaymentValidation(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.txns.rows["tx-1"] = &types.Transaction{ID: "tx-1", Status: types.PipelinePending}

	t.Run("unknown transaction", func(t *testing.T) {
		_, err := fixture.svc.ConfirmPayment(context.Background(), "tx-missing", "pi_1")
		var appErr *types.AppError
		if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundTransaction {
			t.Errorf("error = %v, want transaction not found", err)
		}
	})

	t.Run("unsafe intent id", func(t *testing.T) {
		_, err := fixture.svc.ConfirmPayment(context.Background(), "tx-1", "pi_1;drop")
		var appErr *types.AppError
		if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeValidationMissingField {
			t.Errorf("error = %v, want validation error for unsafe intent id", err)
		}
		if fixture.provider.intentCalls != 0 {
			t.Errorf("intentCalls = %d, want 0", fixture.provider.intentCalls)
		}
	})
}

func TestConfirmPaymentProviderFailureRecorded(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.txns.rows["tx-1"] = &types.Transaction{ID: "tx-1", ClientID: "42", Status: types.PipelinePending}
	fixture.provider.intentErr = types.NewAppError(types.ErrCodeUpstreamUnavailable, "provider 503", nil)

	_, err := fixture.svc.ConfirmPayment(context.Background(), "tx-1", "pi_1")
	if err == nil {
		t.Fatal("expected provider error, got nil")
	}

	stored, getErr := fixture.txns.GetByID(context.Background(), "tx-1")
	if getErr != nil {
		t.Fatalf("transaction row missing: %v", getErr)
	}
	if stored.Status != types.PipelineError {
		t.Errorf("stored status = %q, want error", stored.Status)
	}
	if stored.ErrorMessage == "" {
		t.Error("ErrorMessage is empty, want provider failure recorded")
	}
}

func TestReprocessTransactionSkipsProcessedRows(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.txns.rows["tx-1"] = &types.Transaction{
		ID:     "tx-1",
		Status: types.PipelineProcessed,
		IPN:    types.RawPayload(webhookPayload("evt_1", EventInvoicePaymentSucceeded, firstInvoiceObject)),
	}

	outcome, err := fixture.svc.ReprocessTransaction(context.Background(), "tx-1")
	if err != nil {
		t.Fatalf("ReprocessTransaction returned error: %v", err)
	}
	if !outcome.Ignored {
		t.Error("Ignored = false, want true for processed row")
	}
	if len(fixture.funds.credits) != 0 {
		t.Errorf("credits = %d, want 0", len(fixture.funds.credits))
	}
}

func TestReprocessTransactionWithoutPayload(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.txns.rows["tx-1"] = &types.Transaction{ID: "tx-1", Status: types.PipelineError}

	outcome, err := fixture.svc.ReprocessTransaction(context.Background(), "tx-1")
	if err != nil {
		t.Fatalf("ReprocessTransaction returned error: %v", err)
	}
	if !outcome.Ignored {
		t.Error("Ignored = false, want true for row without payload")
	}
}

func TestUnsettledTransactions(t *testing.T) {
	fixture := newServiceFixture(t)
	fixture.txns.rows["tx-recv"] = &types.Transaction{ID: "tx-recv", Status: types.PipelineReceived}
	fixture.txns.rows["tx-done"] = &types.Transaction{ID: "tx-done", Status: types.PipelineProcessed}

	list, err := fixture.svc.UnsettledTransactions(context.Background(), 10)
	if err != nil {
		t.Fatalf("UnsettledTransactions returned error: %v", err)
	}
	if len(list) != 1 || list[0].ID != "tx-recv" {
		t.Errorf("list = %v, want only tx-recv", list)
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	base := func() ServiceDeps {
		return ServiceDeps{
			Provider:      &fakeProvider{},
			Transactions:  newFakeTransactionStore(),
			Subscriptions: newFakeSubscriptionStore(),
			Invoices:      &fakeInvoiceReader{},
			Funds:         &fakeFunds{},
			Settler:       &fakeSettler{},
		}
	}

	if _, err := NewService(base()); err != nil {
		t.Fatalf("NewService with full deps returned error: %v", err)
	}

	mutations := map[string]func(*ServiceDeps){
		"provider":      func(d *ServiceDeps) { d.Provider = nil },
		"transactions":  func(d *ServiceDeps) { d.Transactions = nil },
		"subscriptions": func(d *ServiceDeps) { d.Subscriptions = nil },
		"invoices":      func(d *ServiceDeps) { d.Invoices = nil },
		"funds":         func(d *ServiceDeps) { d.Funds = nil },
		"settler":       func(d *ServiceDeps) { d.Settler = nil },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			deps := base()
			mutate(&deps)
			if _, err := NewService(deps); err == nil {
				t.Errorf("NewService accepted nil %s", name)
			}
		})
	}
}
