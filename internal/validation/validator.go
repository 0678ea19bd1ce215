// Package validation checks the shape of incoming payment and refund bodies
// before any of their fields reach the lifecycle engines.
package validation

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/ShopCx/PaymentService/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindPayment Kind = "payment"
	KindRefund  Kind = "refund"
)

var (
	MaxPaymentAmount = decimal.NewFromInt(10000)
	MaxReasonLength  = 500
)

// Result is the outcome of a check. An empty Code means the body is valid.
type Result struct {
	Code       string
	Violations []string
}

func (r Result) Valid() bool { return r.Code == "" }

// Err converts an invalid result into a categorized error, or nil.
func (r Result) Err(kind Kind) error {
	switch r.Code {
	case "":
		return nil
	case domain.CodeMissingBody:
		return domain.NewError(domain.KindValidation, r.Code, "Request body is required", "No JSON body provided")
	case domain.CodeInvalidJSON:
		return domain.NewError(domain.KindValidation, r.Code, "Invalid JSON in request body", "Body must be a JSON object")
	default:
		return domain.NewError(domain.KindValidation, r.Code, "Invalid "+string(kind)+" request", r.Violations)
	}
}

type PaymentRequest struct {
	Amount     decimal.Decimal
	CardNumber string
	CVV        string
	Currency   domain.Currency
}

// LogValue keeps card data out of logs.
func (p PaymentRequest) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("amount", p.Amount.String()),
		slog.String("currency", string(p.Currency)),
		slog.String("card", domain.MaskCard(p.CardNumber)),
	)
}

type RefundRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Reason        string
}

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	return &Validator{validate: validator.New()}
}

// Check validates raw against the rules for kind and never panics. Rules are
// evaluated independently and every violation is reported in order.
func (v *Validator) Check(kind Kind, raw []byte) Result {
	_, res := v.check(kind, raw)
	return res
}

func (v *Validator) ParsePayment(raw []byte) (PaymentRequest, error) {
	body, res := v.check(KindPayment, raw)
	if !res.Valid() {
		return PaymentRequest{}, res.Err(KindPayment)
	}

	req := PaymentRequest{
		Amount:     mustDecimal(body["amount"]),
		CardNumber: domain.StripSpaces(body["cardNumber"].(string)),
		CVV:        body["cvv"].(string),
		Currency:   domain.DefaultCurrency,
	}
	if c, ok := body["currency"].(string); ok {
		req.Currency = domain.Currency(c)
	}
	return req, nil
}

func (v *Validator) ParseRefund(raw []byte) (RefundRequest, error) {
	body, res := v.check(KindRefund, raw)
	if !res.Valid() {
		return RefundRequest{}, res.Err(KindRefund)
	}

	req := RefundRequest{
		TransactionID: body["transactionId"].(string),
		Amount:        mustDecimal(body["amount"]),
	}
	if r, ok := body["reason"].(string); ok {
		req.Reason = r
	}
	return req, nil
}

func (v *Validator) check(kind Kind, raw []byte) (map[string]any, Result) {
	body, res := decodeBody(raw)
	if !res.Valid() {
		return nil, res
	}

	var errs []string
	switch kind {
	case KindPayment:
		errs = v.paymentViolations(body)
	case KindRefund:
		errs = v.refundViolations(body)
	default:
		errs = []string{"Unknown request kind"}
	}
	if len(errs) > 0 {
		return nil, Result{Code: domain.CodeValidation, Violations: errs}
	}
	return body, Result{}
}

func decodeBody(raw []byte) (map[string]any, Result) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, Result{Code: domain.CodeMissingBody}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, Result{Code: domain.CodeInvalidJSON}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, Result{Code: domain.CodeInvalidJSON}
	}
	if len(body) == 0 {
		return nil, Result{Code: domain.CodeMissingBody}
	}
	return body, Result{}
}

func (v *Validator) paymentViolations(body map[string]any) []string {
	var errs []string

	switch amount, state := amountOf(body["amount"]); {
	case state == fieldMissing:
		errs = append(errs, "Amount is required")
	case state == fieldWrongType || !amount.IsPositive():
		errs = append(errs, "Amount must be a positive number")
	case state == fieldTooPrecise:
		errs = append(errs, "Amount must have at most 2 decimal places")
	case state == fieldTooLarge || amount.GreaterThan(MaxPaymentAmount):
		errs = append(errs, "Amount cannot exceed 10000")
	}

	switch card, state := stringOf(body["cardNumber"]); {
	case state == fieldMissing:
		errs = append(errs, "Card number is required")
	case state == fieldWrongType || v.validate.Var(domain.StripSpaces(card), "number,min=13,max=19") != nil:
		errs = append(errs, "Card number must be 13-19 digits")
	}

	switch cvv, state := stringOf(body["cvv"]); {
	case state == fieldMissing:
		errs = append(errs, "CVV is required")
	case state == fieldWrongType || v.validate.Var(cvv, "number,min=3,max=4") != nil:
		errs = append(errs, "CVV must be 3-4 digits")
	}

	if raw, ok := body["currency"]; ok && raw != nil {
		cur, isString := raw.(string)
		if !isString || v.validate.Var(cur, "oneof=USD EUR GBP") != nil {
			errs = append(errs, "Currency must be one of USD, EUR, GBP")
		}
	}

	return errs
}

func (v *Validator) refundViolations(body map[string]any) []string {
	var errs []string

	switch _, state := stringOf(body["transactionId"]); state {
	case fieldMissing:
		errs = append(errs, "Transaction ID is required")
	case fieldWrongType:
		errs = append(errs, "Transaction ID must be a string")
	}

	switch amount, state := amountOf(body["amount"]); {
	case state == fieldMissing:
		errs = append(errs, "Refund amount is required")
	case state == fieldWrongType || !amount.IsPositive():
		errs = append(errs, "Refund amount must be a positive number")
	case state == fieldTooPrecise:
		errs = append(errs, "Refund amount must have at most 2 decimal places")
	case state == fieldTooLarge:
		errs = append(errs, "Refund amount cannot exceed 10000")
	}

	if raw, ok := body["reason"]; ok && raw != nil {
		reason, isString := raw.(string)
		if !isString || v.validate.Var(reason, "max=500") != nil {
			errs = append(errs, "Reason must be a string of at most 500 characters")
		}
	}

	return errs
}

type fieldState int

const (
	fieldOK fieldState = iota
	fieldMissing
	fieldWrongType
	fieldTooPrecise
	fieldTooLarge
)

const (
	// AmountScale is the number of fractional digits an amount may carry.
	AmountScale = 2

	maxAmountLiteral  = 32
	maxAmountExponent = 9
)

func amountOf(raw any) (decimal.Decimal, fieldState) {
	if raw == nil {
		return decimal.Zero, fieldMissing
	}
	n, ok := raw.(json.Number)
	if !ok || len(n) > maxAmountLiteral {
		return decimal.Zero, fieldWrongType
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, fieldWrongType
	}

	// Sign and Exponent do not rescale, so they are safe on any exponent.
	// Everything below runs only on bounded exponents.
	if d.Sign() <= 0 {
		return decimal.Zero, fieldOK
	}
	switch exp := d.Exponent(); {
	case exp > maxAmountExponent:
		return d, fieldTooLarge
	case exp < -maxAmountLiteral:
		return d, fieldTooPrecise
	case exp < -AmountScale && !d.Equal(d.Truncate(AmountScale)):
		return d, fieldTooPrecise
	}
	return d, fieldOK
}

// stringOf treats an empty string as missing.
func stringOf(raw any) (string, fieldState) {
	if raw == nil {
		return "", fieldMissing
	}
	s, ok := raw.(string)
	if !ok {
		return "", fieldWrongType
	}
	if s == "" {
		return "", fieldMissing
	}
	return s, fieldOK
}

func mustDecimal(raw any) decimal.Decimal {
	d, _ := amountOf(raw)
	return d
}
