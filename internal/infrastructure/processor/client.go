package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"easypay.backend/internal/domain/entities"
	"easypay.backend/pkg/logger"
	"easypay.backend/pkg/metrics"
	"easypay.backend/pkg/utils"
)

const (
	sandboxURL    = "https://apitest.authorize.net/xml/v1/request.api"
	productionURL = "https://api.authorize.net/xml/v1/request.api"

	callTimeout = 30 * time.Second

	resultCodeOk = "Ok"
)

// Message codes that indicate a credentials problem rather than a
// transaction problem.
var authFailureCodes = map[string]bool{
	"E00005": true, // invalid transaction key
	"E00006": true, // invalid api login id
	"E00007": true, // authentication failed
	"E00008": true, // account inactive
}

// Config holds the upstream gateway credentials and endpoint selection.
type Config struct {
	APILoginID     string
	TransactionKey string
	APIURL         string
	Sandbox        bool
}

// Client talks to the Authorize.net JSON transaction API. All money
// movement in the system funnels through this type.
type Client struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
	clock      utils.Clock
}

// NewClient creates a processor client. An explicit APIURL wins over the
// sandbox flag, which is how tests point the client at a stub server.
func NewClient(cfg Config) *Client {
	endpoint := cfg.APIURL
	if endpoint == "" {
		if cfg.Sandbox {
			endpoint = sandboxURL
		} else {
			endpoint = productionURL
		}
	}
	return &Client{
		cfg:        cfg,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: callTimeout},
		clock:      utils.NewClock(),
	}
}

// SetClock overrides the clock (used for testing)
func (c *Client) SetClock(clock utils.Clock) {
	c.clock = clock
}

// Authenticate verifies the merchant credentials without moving money
func (c *Client) Authenticate(ctx context.Context) error {
	envelope := authenticateTestEnvelope{
		AuthenticateTestRequest: authenticateTestRequest{
			MerchantAuthentication: c.auth(),
		},
	}
	resp, err := c.send(ctx, "authenticate", envelope)
	if err != nil {
		return err
	}
	if resp.Messages.ResultCode != resultCodeOk {
		return c.protocolError(resp)
	}
	return nil
}

// ChargeCard performs a combined authorize and capture
func (c *Client) ChargeCard(ctx context.Context, amount decimal.Decimal, card entities.Card, billing *entities.BillingAddress, order *OrderInfo, refID string) (*Response, error) {
	if err := c.validateCard(card, billing); err != nil {
		return nil, err
	}
	req := transactionRequest{
		TransactionType: txnTypeAuthCapture,
		Amount:          amount.StringFixed(2),
		Payment:         cardPayment(card),
		Order:           orderFromInfo(order),
		BillTo:          billToFromAddress(billing),
	}
	return c.transact(ctx, "charge", req, refID)
}

// AuthorizeOnly places a hold without capturing
func (c *Client) AuthorizeOnly(ctx context.Context, amount decimal.Decimal, card entities.Card, billing *entities.BillingAddress, order *OrderInfo, refID string) (*Response, error) {
	if err := c.validateCard(card, billing); err != nil {
		return nil, err
	}
	req := transactionRequest{
		TransactionType: txnTypeAuthOnly,
		Amount:          amount.StringFixed(2),
		Payment:         cardPayment(card),
		Order:           orderFromInfo(order),
		BillTo:          billToFromAddress(billing),
	}
	return c.transact(ctx, "authorize", req, refID)
}

// Capture settles a prior authorization. A zero amount captures the full
// authorized amount.
func (c *Client) Capture(ctx context.Context, txnID string, amount decimal.Decimal, refID string) (*Response, error) {
	req := transactionRequest{
		TransactionType: txnTypePriorAuthCapture,
		RefTransID:      txnID,
	}
	if amount.IsPositive() {
		req.Amount = amount.StringFixed(2)
	}
	return c.transact(ctx, "capture", req, refID)
}

// Refund returns money against a settled transaction. The gateway requires
// the masked card on refunds, so the last four and expiration are resent.
func (c *Client) Refund(ctx context.Context, txnID string, amount decimal.Decimal, card entities.Card, refID string) (*Response, error) {
	req := transactionRequest{
		TransactionType: txnTypeRefund,
		Amount:          amount.StringFixed(2),
		Payment: &paymentBlock{CreditCard: creditCard{
			CardNumber:     card.LastFour(),
			ExpirationDate: card.ExpirationDate,
		}},
		RefTransID: txnID,
	}
	return c.transact(ctx, "refund", req, refID)
}

// Void cancels a transaction that has not settled
func (c *Client) Void(ctx context.Context, txnID string, refID string) (*Response, error) {
	req := transactionRequest{
		TransactionType: txnTypeVoid,
		RefTransID:      txnID,
	}
	return c.transact(ctx, "void", req, refID)
}

func (c *Client) auth() merchantAuthentication {
	return merchantAuthentication{
		Name:           c.cfg.APILoginID,
		TransactionKey: c.cfg.TransactionKey,
	}
}

func (c *Client) validateCard(card entities.Card, billing *entities.BillingAddress) error {
	if err := card.Validate(c.clock.Now()); err != nil {
		return &ValidationError{Field: "card", Message: err.Error()}
	}
	if billing != nil {
		if err := billing.Validate(); err != nil {
			return &ValidationError{Field: "billing_address", Message: err.Error()}
		}
	}
	return nil
}

func (c *Client) transact(ctx context.Context, operation string, req transactionRequest, refID string) (*Response, error) {
	envelope := createTransactionEnvelope{
		CreateTransactionRequest: createTransactionRequest{
			MerchantAuthentication: c.auth(),
			RefID:                  refID,
			TransactionRequest:     req,
		},
	}

	resp, err := c.send(ctx, operation, envelope)
	if err != nil {
		metrics.ProcessorCallsTotal.WithLabelValues(operation, "network_error").Inc()
		return nil, err
	}
	out, err := c.mapResponse(resp)
	if err != nil {
		metrics.ProcessorCallsTotal.WithLabelValues(operation, "rejected").Inc()
		return nil, err
	}
	metrics.ProcessorCallsTotal.WithLabelValues(operation, string(out.Status)).Inc()
	return out, nil
}

func (c *Client) send(ctx context.Context, operation string, envelope interface{}) (*apiResponse, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, &NetworkError{Operation: operation, Err: err}
	}

	start := time.Now()
	defer func() {
		metrics.ProcessorCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{Operation: operation, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		logger.Warn(ctx, "processor request failed", zap.String("operation", operation), zap.Error(err))
		return nil, &NetworkError{Operation: operation, Err: err}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &NetworkError{Operation: operation, Err: err}
	}
	// The gateway prepends a UTF-8 BOM to JSON responses.
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &NetworkError{Operation: operation, Err: err}
	}

	logger.Debug(ctx, "processor response",
		zap.String("operation", operation),
		zap.String("result_code", resp.Messages.ResultCode),
	)

	rawCopy := make(json.RawMessage, len(raw))
	copy(rawCopy, raw)
	resp.rawBody = rawCopy
	return &resp, nil
}

// protocolError maps an outer-envelope failure to AuthError or
// TransactionError depending on the message code.
func (c *Client) protocolError(resp *apiResponse) error {
	code, text := firstMessage(resp)
	if authFailureCodes[code] {
		return &AuthError{Code: code, Message: text}
	}
	txnErr := &TransactionError{Code: code, Message: text}
	if tr := resp.TransactionResponse; tr != nil {
		txnErr.TransactionID = tr.TransID
		txnErr.ResponseCode = tr.ResponseCode
		if len(tr.Errors) > 0 {
			txnErr.Code = tr.Errors[0].ErrorCode
			txnErr.Message = tr.Errors[0].ErrorText
		}
	}
	return txnErr
}

func (c *Client) mapResponse(resp *apiResponse) (*Response, error) {
	if resp.Messages.ResultCode != resultCodeOk {
		return nil, c.protocolError(resp)
	}

	tr := resp.TransactionResponse
	if tr == nil {
		code, text := firstMessage(resp)
		return nil, &TransactionError{Code: code, Message: text}
	}

	out := &Response{
		TransactionID: tr.TransID,
		ResponseCode:  tr.ResponseCode,
		ResponseText:  tr.ResponseText,
		AuthCode:      tr.AuthCode,
		AVSResponse:   tr.AVSResultCode,
		CVVResponse:   tr.CVVResultCode,
		RefID:         resp.RefID,
		Raw:           resp.rawBody,
	}
	if tr.Amount != "" {
		if amount, err := decimal.NewFromString(tr.Amount); err == nil {
			out.Amount = amount
		}
	}

	switch tr.ResponseCode {
	case responseCodeApproved:
		out.Status = StatusCaptured
		return out, nil
	case responseCodeDeclined:
		out.Status = StatusDeclined
		return out, nil
	default:
		txnErr := &TransactionError{
			TransactionID: tr.TransID,
			ResponseCode:  tr.ResponseCode,
			Message:       tr.ResponseText,
		}
		if len(tr.Errors) > 0 {
			txnErr.Code = tr.Errors[0].ErrorCode
			txnErr.Message = tr.Errors[0].ErrorText
		}
		return nil, txnErr
	}
}

func firstMessage(resp *apiResponse) (code, text string) {
	if len(resp.Messages.Message) > 0 {
		return resp.Messages.Message[0].Code, resp.Messages.Message[0].Text
	}
	return "", ""
}

func cardPayment(card entities.Card) *paymentBlock {
	return &paymentBlock{CreditCard: creditCard{
		CardNumber:     card.Number,
		ExpirationDate: card.ExpirationDate,
		CardCode:       card.CVV,
	}}
}

func orderFromInfo(order *OrderInfo) *orderBlock {
	if order == nil {
		return nil
	}
	return &orderBlock{InvoiceNumber: order.InvoiceNumber, Description: order.Description}
}

func billToFromAddress(billing *entities.BillingAddress) *billTo {
	if billing == nil {
		return nil
	}
	return &billTo{
		FirstName: billing.FirstName,
		LastName:  billing.LastName,
		Address:   billing.Address,
		City:      billing.City,
		State:     billing.State,
		Zip:       billing.Zip,
		Country:   billing.Country,
	}
}
