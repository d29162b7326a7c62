// Package zalopay creates and queries Zalopay orders and verifies their callbacks.
package zalopay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shoporder/internal/gateways"

	"github.com/google/uuid"
)

const (
	Provider = "zalopay"

	// ReturnCodeSuccess is the return_code of an accepted API call.
	ReturnCodeSuccess = 1
	// StatusSuccess is the callback status of a paid order.
	StatusSuccess = 1
)

var (
	// ErrInvalidMAC is returned by VerifyCallback when mac does not match data.
	ErrInvalidMAC = errors.New("zalopay: invalid mac")
	// ErrMalformedData is returned by ParseCallbackData when the verified blob cannot be decoded.
	ErrMalformedData = errors.New("zalopay: malformed callback data")
)

var vietnamTZ = time.FixedZone("ICT", 7*60*60)

// Config holds the merchant app credentials.
type Config struct {
	AppID       int
	Key1        string
	Key2        string
	Endpoint    string
	CallbackURL string
	Timeout     time.Duration
}

// Client talks to the Zalopay v2 API.
type Client struct {
	cfg  Config
	http gateways.HTTPClient
	now  func() time.Time
}

// NewClient creates a new Zalopay client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: gateways.HTTPClient{Provider: Provider, Timeout: cfg.Timeout},
		now:  time.Now,
	}
}

// NewAppTransID returns a fresh app_trans_id. Zalopay requires the yymmdd
// prefix in Vietnam time.
func NewAppTransID(now time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return now.In(vietnamTZ).Format("060102") + "_" + id[:24]
}

func hmacSHA256(key, data string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Item is one line shown on the Zalopay checkout page.
type Item struct {
	ID       string `json:"itemid"`
	Name     string `json:"itemname"`
	Price    int64  `json:"itemprice"`
	Quantity int64  `json:"itemquantity"`
}

// OrderRequest describes a payment order to open.
type OrderRequest struct {
	AppTransID  string
	AppUser     string
	Amount      int64
	Description string
	Items       []Item
	EmbedData   map[string]string
}

// OrderResult is what the customer needs to pay.
type OrderResult struct {
	OrderURL     string
	ZPTransToken string
}

type createRequest struct {
	AppID       int    `json:"app_id"`
	AppTransID  string `json:"app_trans_id"`
	AppUser     string `json:"app_user"`
	AppTime     int64  `json:"app_time"`
	Amount      int64  `json:"amount"`
	Item        string `json:"item"`
	EmbedData   string `json:"embed_data"`
	Description string `json:"description"`
	BankCode    string `json:"bank_code"`
	CallbackURL string `json:"callback_url,omitempty"`
	MAC         string `json:"mac"`
}

type apiResponse struct {
	ReturnCode       int    `json:"return_code"`
	ReturnMessage    string `json:"return_message"`
	SubReturnCode    int    `json:"sub_return_code"`
	SubReturnMessage string `json:"sub_return_message"`
	OrderURL         string `json:"order_url"`
	ZPTransToken     string `json:"zp_trans_token"`
	IsProcessing     bool   `json:"is_processing"`
	Amount           int64  `json:"amount"`
	ZPTransID        int64  `json:"zp_trans_id"`
}

func (r apiResponse) failure() *gateways.Failure {
	msg := r.ReturnMessage
	if r.SubReturnMessage != "" {
		msg = r.SubReturnMessage
	}
	return gateways.NewFailure(Provider, fmt.Sprintf("ZALOPAY_%d", r.SubReturnCode), msg)
}

// CreateOrder opens a payment order. mac = HMAC-SHA256(key1,
// app_id|app_trans_id|app_user|amount|app_time|embed_data|item).
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	items := req.Items
	if items == nil {
		items = []Item{}
	}
	itemJSON, err := json.Marshal(items)
	if err != nil {
		return nil, gateways.NewFailure(Provider, "INVALID_REQUEST", err.Error())
	}
	embed := req.EmbedData
	if embed == nil {
		embed = map[string]string{}
	}
	embedJSON, err := json.Marshal(embed)
	if err != nil {
		return nil, gateways.NewFailure(Provider, "INVALID_REQUEST", err.Error())
	}

	body := createRequest{
		AppID:       c.cfg.AppID,
		AppTransID:  req.AppTransID,
		AppUser:     req.AppUser,
		AppTime:     c.now().UnixMilli(),
		Amount:      req.Amount,
		Item:        string(itemJSON),
		EmbedData:   string(embedJSON),
		Description: req.Description,
		CallbackURL: c.cfg.CallbackURL,
	}
	body.MAC = hmacSHA256(c.cfg.Key1, strings.Join([]string{
		strconv.Itoa(body.AppID), body.AppTransID, body.AppUser,
		strconv.FormatInt(body.Amount, 10), strconv.FormatInt(body.AppTime, 10),
		body.EmbedData, body.Item,
	}, "|"))

	var resp apiResponse
	if err := c.http.PostJSON(ctx, c.cfg.Endpoint+"/v2/create", nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.ReturnCode != ReturnCodeSuccess {
		return nil, resp.failure()
	}
	return &OrderResult{OrderURL: resp.OrderURL, ZPTransToken: resp.ZPTransToken}, nil
}

// QueryStatus is the Zalopay view of an order.
type QueryStatus string

const (
	QueryPaid       QueryStatus = "paid"
	QueryFailed     QueryStatus = "failed"
	QueryProcessing QueryStatus = "processing"
)

// QueryResult is returned by QueryOrder.
type QueryResult struct {
	Status    QueryStatus
	Amount    int64
	ZPTransID int64
	Message   string
}

type queryRequest struct {
	AppID      int    `json:"app_id"`
	AppTransID string `json:"app_trans_id"`
	MAC        string `json:"mac"`
}

// QueryOrder asks Zalopay for the status of app_trans_id. mac = HMAC-SHA256(key1, app_id|app_trans_id|key1).
func (c *Client) QueryOrder(ctx context.Context, appTransID string) (*QueryResult, error) {
	body := queryRequest{AppID: c.cfg.AppID, AppTransID: appTransID}
	body.MAC = hmacSHA256(c.cfg.Key1, strconv.Itoa(body.AppID)+"|"+appTransID+"|"+c.cfg.Key1)

	var resp apiResponse
	if err := c.http.PostJSON(ctx, c.cfg.Endpoint+"/v2/query", nil, body, &resp); err != nil {
		return nil, err
	}

	res := &QueryResult{Amount: resp.Amount, ZPTransID: resp.ZPTransID, Message: resp.ReturnMessage}
	switch resp.ReturnCode {
	case 1:
		res.Status = QueryPaid
	case 2:
		res.Status = QueryFailed
	case 3:
		res.Status = QueryProcessing
	default:
		return nil, resp.failure()
	}
	return res, nil
}

// VerifyCallback checks mac against HMAC-SHA256(key2, data). It must be
// called before data is decoded.
func VerifyCallback(key2, data, mac string) error {
	expected := hmacSHA256(key2, data)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(mac))) {
		return ErrInvalidMAC
	}
	return nil
}

// CallbackData is the decoded content of a verified callback.
type CallbackData struct {
	AppID      int    `json:"app_id"`
	AppTransID string `json:"app_trans_id"`
	AppTime    int64  `json:"app_time"`
	AppUser    string `json:"app_user"`
	Amount     int64  `json:"amount"`
	ZPTransID  int64  `json:"zp_trans_id"`
	ServerTime int64  `json:"server_time"`
	Channel    int    `json:"channel"`
	// Status is 1 for success. Callbacks without it are only ever sent for
	// successful payments, so a missing status reads as success.
	Status *int `json:"status,omitempty"`
}

// Success reports whether the callback announces a paid order.
func (d CallbackData) Success() bool {
	return d.Status == nil || *d.Status == StatusSuccess
}

// ParseCallbackData decodes a verified data blob. The blob is base64-encoded
// JSON; a raw JSON object is accepted as well.
func ParseCallbackData(data string) (*CallbackData, error) {
	raw := []byte(strings.TrimSpace(data))
	if len(raw) == 0 {
		return nil, ErrMalformedData
	}
	if raw[0] != '{' {
		decoded, err := base64.StdEncoding.DecodeString(string(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
		}
		raw = decoded
	}

	var out CallbackData
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}
	if out.AppTransID == "" {
		return nil, fmt.Errorf("%w: app_trans_id missing", ErrMalformedData)
	}
	return &out, nil
}
