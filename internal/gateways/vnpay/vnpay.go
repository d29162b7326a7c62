// Package vnpay signs VNPay payment redirects, verifies IPN callbacks and
// queries transaction status through the merchant web API.
package vnpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"shoporder/internal/gateways"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	Provider = "vnpay"
	version  = "2.1.0"

	// ResponseCodeSuccess is the vnp_ResponseCode and vnp_TransactionStatus of a paid transaction.
	ResponseCodeSuccess = "00"
)

var (
	// ErrMissingField is returned by VerifyIPN when a required parameter is absent.
	ErrMissingField = errors.New("vnpay: required field missing")
	// ErrInvalidSignature is returned by VerifyIPN when vnp_SecureHash does not match.
	ErrInvalidSignature = errors.New("vnpay: invalid signature")
)

var vietnamTZ = time.FixedZone("ICT", 7*60*60)

// Config holds the merchant credentials and endpoints.
type Config struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	APIURL     string
	ReturnURL  string
	Timeout    time.Duration
}

// Client talks to VNPay.
type Client struct {
	cfg  Config
	http gateways.HTTPClient
	now  func() time.Time
}

// NewClient creates a new VNPay client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: gateways.HTTPClient{Provider: Provider, Timeout: cfg.Timeout},
		now:  time.Now,
	}
}

// Sign computes the hex HMAC-SHA512 of the canonical query string of params:
// keys sorted ascending, values query-escaped, vnp_SecureHash and
// vnp_SecureHashType excluded, empty values skipped.
func Sign(secret string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(k))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(params[k]))
	}
	return hmacSHA512(secret, sb.String())
}

func hmacSHA512(secret, data string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// PaymentRequest describes a redirect to the VNPay checkout page.
type PaymentRequest struct {
	TxnRef    string
	Amount    decimal.Decimal
	OrderInfo string
	IPAddr    string
	BankCode  string
	ExpiresIn time.Duration
}

// BuildPaymentURL returns a signed checkout URL. It performs no network I/O.
func (c *Client) BuildPaymentURL(req PaymentRequest) (string, error) {
	if req.TxnRef == "" {
		return "", gateways.NewFailure(Provider, "INVALID_REQUEST", "transaction reference is required")
	}
	if !req.Amount.IsPositive() {
		return "", gateways.NewFailure(Provider, "INVALID_REQUEST", "amount must be positive")
	}
	now := c.now().In(vietnamTZ)
	expires := req.ExpiresIn
	if expires <= 0 {
		expires = 15 * time.Minute
	}
	ip := req.IPAddr
	if ip == "" {
		ip = "127.0.0.1"
	}

	params := map[string]string{
		"vnp_Version":    version,
		"vnp_Command":    "pay",
		"vnp_TmnCode":    c.cfg.TmnCode,
		"vnp_Amount":     ScaleAmount(req.Amount),
		"vnp_CurrCode":   "VND",
		"vnp_TxnRef":     req.TxnRef,
		"vnp_OrderInfo":  req.OrderInfo,
		"vnp_OrderType":  "other",
		"vnp_Locale":     "vn",
		"vnp_ReturnUrl":  c.cfg.ReturnURL,
		"vnp_IpAddr":     ip,
		"vnp_CreateDate": now.Format("20060102150405"),
		"vnp_ExpireDate": now.Add(expires).Format("20060102150405"),
	}
	if req.BankCode != "" {
		params["vnp_BankCode"] = req.BankCode
	}

	values := url.Values{}
	for k, v := range params {
		if v != "" {
			values.Set(k, v)
		}
	}
	return c.cfg.PayURL + "?" + values.Encode() + "&vnp_SecureHash=" + Sign(c.cfg.HashSecret, params), nil
}

// ScaleAmount converts a currency amount to VNPay's integer ×100 representation.
func ScaleAmount(amount decimal.Decimal) string {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).String()
}

// IPN is a verified instant payment notification.
type IPN struct {
	TxnRef            string
	Amount            decimal.Decimal
	ResponseCode      string
	TransactionStatus string
	TransactionNo     string
	BankCode          string
	PayDate           time.Time
}

// Success reports whether the IPN announces a completed payment.
func (n IPN) Success() bool {
	if n.ResponseCode != ResponseCodeSuccess {
		return false
	}
	return n.TransactionStatus == "" || n.TransactionStatus == ResponseCodeSuccess
}

var requiredIPNFields = []string{"vnp_ResponseCode", "vnp_TxnRef", "vnp_Amount", "vnp_BankCode", "vnp_SecureHash"}

// VerifyIPN checks required fields and the signature of an IPN before
// returning its contents. Nothing in params is trusted until it returns nil.
func VerifyIPN(secret string, params map[string]string) (*IPN, error) {
	for _, f := range requiredIPNFields {
		if params[f] == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, f)
		}
	}

	expected := Sign(secret, vnpParams(params))
	if !hmac.Equal([]byte(strings.ToLower(params["vnp_SecureHash"])), []byte(expected)) {
		return nil, ErrInvalidSignature
	}

	raw, err := strconv.ParseInt(params["vnp_Amount"], 10, 64)
	if err != nil || raw < 0 {
		return nil, fmt.Errorf("%w: vnp_Amount is not a non-negative integer", ErrMissingField)
	}

	ipn := &IPN{
		TxnRef:            params["vnp_TxnRef"],
		Amount:            decimal.New(raw, -2),
		ResponseCode:      params["vnp_ResponseCode"],
		TransactionStatus: params["vnp_TransactionStatus"],
		TransactionNo:     params["vnp_TransactionNo"],
		BankCode:          params["vnp_BankCode"],
	}
	if pd := params["vnp_PayDate"]; pd != "" {
		if t, err := time.ParseInLocation("20060102150405", pd, vietnamTZ); err == nil {
			ipn.PayDate = t
		}
	}
	return ipn, nil
}

// vnpParams keeps only vnp_* keys; other query parameters are not signed.
func vnpParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if strings.HasPrefix(k, "vnp_") {
			out[k] = v
		}
	}
	return out
}

// QueryRequest identifies a transaction to look up.
type QueryRequest struct {
	TxnRef          string
	TransactionDate time.Time
	IPAddr          string
}

// QueryResult is the gateway's view of a transaction.
type QueryResult struct {
	TxnRef            string
	Amount            decimal.Decimal
	TransactionStatus string
	TransactionNo     string
	BankCode          string
}

// Paid reports whether the gateway considers the transaction paid.
func (r QueryResult) Paid() bool {
	return r.TransactionStatus == ResponseCodeSuccess
}

type queryDRRequest struct {
	RequestID       string `json:"vnp_RequestId"`
	Version         string `json:"vnp_Version"`
	Command         string `json:"vnp_Command"`
	TmnCode         string `json:"vnp_TmnCode"`
	TxnRef          string `json:"vnp_TxnRef"`
	OrderInfo       string `json:"vnp_OrderInfo"`
	TransactionDate string `json:"vnp_TransactionDate"`
	CreateDate      string `json:"vnp_CreateDate"`
	IPAddr          string `json:"vnp_IpAddr"`
	SecureHash      string `json:"vnp_SecureHash"`
}

type queryDRResponse struct {
	ResponseCode      string `json:"vnp_ResponseCode"`
	Message           string `json:"vnp_Message"`
	TxnRef            string `json:"vnp_TxnRef"`
	Amount            string `json:"vnp_Amount"`
	BankCode          string `json:"vnp_BankCode"`
	TransactionNo     string `json:"vnp_TransactionNo"`
	TransactionStatus string `json:"vnp_TransactionStatus"`
}

// QueryTransaction asks VNPay for the status of a transaction (querydr).
func (c *Client) QueryTransaction(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	ip := req.IPAddr
	if ip == "" {
		ip = "127.0.0.1"
	}
	body := queryDRRequest{
		RequestID:       uuid.NewString()[:32],
		Version:         version,
		Command:         "querydr",
		TmnCode:         c.cfg.TmnCode,
		TxnRef:          req.TxnRef,
		OrderInfo:       "Query transaction " + req.TxnRef,
		TransactionDate: req.TransactionDate.In(vietnamTZ).Format("20060102150405"),
		CreateDate:      c.now().In(vietnamTZ).Format("20060102150405"),
		IPAddr:          ip,
	}
	body.SecureHash = hmacSHA512(c.cfg.HashSecret, strings.Join([]string{
		body.RequestID, body.Version, body.Command, body.TmnCode, body.TxnRef,
		body.TransactionDate, body.CreateDate, body.IPAddr, body.OrderInfo,
	}, "|"))

	var resp queryDRResponse
	if err := c.http.PostJSON(ctx, c.cfg.APIURL, nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.ResponseCode != ResponseCodeSuccess {
		return nil, gateways.NewFailure(Provider, "VNPAY_"+resp.ResponseCode, resp.Message)
	}

	result := &QueryResult{
		TxnRef:            resp.TxnRef,
		TransactionStatus: resp.TransactionStatus,
		TransactionNo:     resp.TransactionNo,
		BankCode:          resp.BankCode,
	}
	if raw, err := strconv.ParseInt(resp.Amount, 10, 64); err == nil {
		result.Amount = decimal.New(raw, -2)
	}
	return result, nil
}
