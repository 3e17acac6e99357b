package processor

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Transaction types understood by the upstream gateway.
const (
	txnTypeAuthCapture      = "authCaptureTransaction"
	txnTypeAuthOnly         = "authOnlyTransaction"
	txnTypePriorAuthCapture = "priorAuthCaptureTransaction"
	txnTypeRefund           = "refundTransaction"
	txnTypeVoid             = "voidTransaction"
)

// Inner transactionResponse.responseCode values.
const (
	responseCodeApproved = "1"
	responseCodeDeclined = "2"
	responseCodeError    = "3"
	responseCodeHeld     = "4"
)

// Status classifies the outcome of a successful protocol exchange.
type Status string

const (
	StatusCaptured Status = "captured"
	StatusDeclined Status = "declined"
	StatusError    Status = "error"
)

// Response is the normalized result of one processor operation.
type Response struct {
	TransactionID string          `json:"transaction_id"`
	Status        Status          `json:"status"`
	ResponseCode  string          `json:"response_code"`
	ResponseText  string          `json:"response_text"`
	AuthCode      string          `json:"auth_code,omitempty"`
	AVSResponse   string          `json:"avs_response,omitempty"`
	CVVResponse   string          `json:"cvv_response,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	RefID         string          `json:"ref_id,omitempty"`
	Raw           json.RawMessage `json:"-"`
}

// OrderInfo carries the optional invoice fields of a charge.
type OrderInfo struct {
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	Description   string `json:"description,omitempty"`
}

// --- wire format ---

type merchantAuthentication struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey"`
}

type creditCard struct {
	CardNumber     string `json:"cardNumber"`
	ExpirationDate string `json:"expirationDate"`
	CardCode       string `json:"cardCode,omitempty"`
}

type paymentBlock struct {
	CreditCard creditCard `json:"creditCard"`
}

type billTo struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
	Country   string `json:"country"`
}

type orderBlock struct {
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	Description   string `json:"description,omitempty"`
}

type transactionRequest struct {
	TransactionType string        `json:"transactionType"`
	Amount          string        `json:"amount,omitempty"`
	Payment         *paymentBlock `json:"payment,omitempty"`
	Order           *orderBlock   `json:"order,omitempty"`
	BillTo          *billTo       `json:"billTo,omitempty"`
	RefTransID      string        `json:"refTransId,omitempty"`
}

type createTransactionRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	RefID                  string                 `json:"refId,omitempty"`
	TransactionRequest     transactionRequest     `json:"transactionRequest"`
}

type createTransactionEnvelope struct {
	CreateTransactionRequest createTransactionRequest `json:"createTransactionRequest"`
}

type authenticateTestRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
}

type authenticateTestEnvelope struct {
	AuthenticateTestRequest authenticateTestRequest `json:"authenticateTestRequest"`
}

type apiMessage struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

type apiMessages struct {
	ResultCode string       `json:"resultCode"`
	Message    []apiMessage `json:"message"`
}

type transactionResponseError struct {
	ErrorCode string `json:"errorCode"`
	ErrorText string `json:"errorText"`
}

type transactionResponse struct {
	TransID       string                     `json:"transId"`
	ResponseCode  string                     `json:"responseCode"`
	ResponseText  string                     `json:"responseText"`
	AuthCode      string                     `json:"authCode"`
	AVSResultCode string                     `json:"avsResultCode"`
	CVVResultCode string                     `json:"cvvResultCode"`
	Amount        string                     `json:"amount"`
	Errors        []transactionResponseError `json:"errors"`
}

type apiResponse struct {
	Messages            apiMessages          `json:"messages"`
	TransactionResponse *transactionResponse `json:"transactionResponse"`
	RefID               string               `json:"refId"`

	rawBody json.RawMessage
}
