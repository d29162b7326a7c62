// Package ghn is the client for the GHN (Giao Hang Nhanh) carrier API and the
// parser for its status webhooks.
package ghn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"shoporder/internal/gateways"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	Provider = "ghn"

	serviceTypeStandard = 2
	// payer of the shipping fee: 1 shop, 2 recipient
	paymentTypeShop = 1
	requiredNote    = "KHONGCHOXEMHANG"
)

// Config holds the shop credentials and client limits.
type Config struct {
	Token          string
	ShopID         int
	BaseURL        string
	FromDistrictID int
	FromWardCode   string
	RatePerSecond  float64
	Timeout        time.Duration
}

// Client talks to the GHN public API. Every call waits on a token-bucket limiter first.
type Client struct {
	cfg     Config
	http    gateways.HTTPClient
	limiter *rate.Limiter
}

// NewClient creates a new GHN client.
func NewClient(cfg Config) *Client {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		cfg:     cfg,
		http:    gateways.HTTPClient{Provider: Provider, Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Token":  c.cfg.Token,
		"ShopId": strconv.Itoa(c.cfg.ShopID),
	}
}

func (c *Client) call(ctx context.Context, path string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		code := gateways.CodeCancelled
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == nil {
			code = gateways.CodeTimeout
		}
		return gateways.NewFailure(Provider, code, fmt.Sprintf("rate limiter: %v", err))
	}

	var env envelope
	url := c.cfg.BaseURL + path
	var err error
	if in == nil {
		err = c.http.GetJSON(ctx, url, c.headers(), &env)
	} else {
		err = c.http.PostJSON(ctx, url, c.headers(), in, &env)
	}
	if err != nil {
		return err
	}
	if env.Code != 200 {
		return gateways.NewFailure(Provider, fmt.Sprintf("GHN_%d", env.Code), env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return gateways.NewFailure(Provider, gateways.CodeDecode, fmt.Sprintf("undecodable data: %v", err))
		}
	}
	return nil
}

// Item is one parcel line declared to the carrier.
type Item struct {
	Name     string `json:"name"`
	Code     string `json:"code,omitempty"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
	Weight   int    `json:"weight"`
}

// CreateOrderRequest describes a shipment to open.
type CreateOrderRequest struct {
	ClientOrderCode string
	ToName          string
	ToPhone         string
	ToAddress       string
	ToWardCode      string
	ToDistrictID    int
	WeightGrams     int
	CODAmount       decimal.Decimal
	InsuranceValue  decimal.Decimal
	Items           []Item
}

// CreatedOrder is the carrier's acceptance of a shipment.
type CreatedOrder struct {
	OrderCode            string
	TotalFee             decimal.Decimal
	ExpectedDeliveryTime time.Time
}

type createOrderBody struct {
	PaymentTypeID   int    `json:"payment_type_id"`
	RequiredNote    string `json:"required_note"`
	ClientOrderCode string `json:"client_order_code"`
	ToName          string `json:"to_name"`
	ToPhone         string `json:"to_phone"`
	ToAddress       string `json:"to_address"`
	ToWardCode      string `json:"to_ward_code"`
	ToDistrictID    int    `json:"to_district_id"`
	CODAmount       int64  `json:"cod_amount"`
	Weight          int    `json:"weight"`
	InsuranceValue  int64  `json:"insurance_value"`
	ServiceTypeID   int    `json:"service_type_id"`
	Items           []Item `json:"items"`
}

type createOrderData struct {
	OrderCode            string          `json:"order_code"`
	TotalFee             decimal.Decimal `json:"total_fee"`
	ExpectedDeliveryTime string          `json:"expected_delivery_time"`
}

// CreateOrder registers a shipment with GHN and returns its order code.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreatedOrder, error) {
	weight := req.WeightGrams
	if weight <= 0 {
		weight = 1
	}
	body := createOrderBody{
		PaymentTypeID:   paymentTypeShop,
		RequiredNote:    requiredNote,
		ClientOrderCode: req.ClientOrderCode,
		ToName:          req.ToName,
		ToPhone:         req.ToPhone,
		ToAddress:       req.ToAddress,
		ToWardCode:      req.ToWardCode,
		ToDistrictID:    req.ToDistrictID,
		CODAmount:       req.CODAmount.Round(0).IntPart(),
		Weight:          weight,
		InsuranceValue:  req.InsuranceValue.Round(0).IntPart(),
		ServiceTypeID:   serviceTypeStandard,
		Items:           req.Items,
	}

	var data createOrderData
	if err := c.call(ctx, "/v2/shipping-order/create", body, &data); err != nil {
		return nil, err
	}
	if data.OrderCode == "" {
		return nil, gateways.NewFailure(Provider, gateways.CodeDecode, "response carries no order_code")
	}
	created := &CreatedOrder{OrderCode: data.OrderCode, TotalFee: data.TotalFee}
	if t, err := time.Parse(time.RFC3339, data.ExpectedDeliveryTime); err == nil {
		created.ExpectedDeliveryTime = t
	}
	return created, nil
}

type cancelResult struct {
	OrderCode string `json:"order_code"`
	Result    bool   `json:"result"`
	Message   string `json:"message"`
}

// CancelOrder cancels a shipment at the carrier.
func (c *Client) CancelOrder(ctx context.Context, orderCode string) error {
	var results []cancelResult
	if err := c.call(ctx, "/v2/switch-status/cancel", map[string][]string{"order_codes": {orderCode}}, &results); err != nil {
		return err
	}
	for _, r := range results {
		if r.OrderCode == orderCode && !r.Result {
			return gateways.NewFailure(Provider, "GHN_CANCEL_REJECTED", r.Message)
		}
	}
	return nil
}

// FeeRequest describes a parcel to price.
type FeeRequest struct {
	FromDistrictID int
	FromWardCode   string
	ToDistrictID   int
	ToWardCode     string
	WeightGrams    int
	DeclaredValue  decimal.Decimal
}

// Fee is a shipping quote.
type Fee struct {
	Total        decimal.Decimal `json:"total"`
	ServiceFee   decimal.Decimal `json:"service_fee"`
	InsuranceFee decimal.Decimal `json:"insurance_fee"`
}

// CalculateFee prices a parcel. Zero origin fields fall back to the shop's configured origin.
func (c *Client) CalculateFee(ctx context.Context, req FeeRequest) (*Fee, error) {
	if req.FromDistrictID == 0 {
		req.FromDistrictID = c.cfg.FromDistrictID
		if req.FromWardCode == "" {
			req.FromWardCode = c.cfg.FromWardCode
		}
	}
	body := map[string]interface{}{
		"service_type_id":  serviceTypeStandard,
		"from_district_id": req.FromDistrictID,
		"to_district_id":   req.ToDistrictID,
		"to_ward_code":     req.ToWardCode,
		"weight":           req.WeightGrams,
		"insurance_value":  req.DeclaredValue.Round(0).IntPart(),
	}
	if req.FromWardCode != "" {
		body["from_ward_code"] = req.FromWardCode
	}

	var fee Fee
	if err := c.call(ctx, "/v2/shipping-order/fee", body, &fee); err != nil {
		return nil, err
	}
	return &fee, nil
}

// Province, District and Ward are GHN master data.
type Province struct {
	ProvinceID   int    `json:"ProvinceID"`
	ProvinceName string `json:"ProvinceName"`
}

type District struct {
	DistrictID   int    `json:"DistrictID"`
	ProvinceID   int    `json:"ProvinceID"`
	DistrictName string `json:"DistrictName"`
}

type Ward struct {
	WardCode   string `json:"WardCode"`
	DistrictID int    `json:"DistrictID"`
	WardName   string `json:"WardName"`
}

func (c *Client) Provinces(ctx context.Context) ([]Province, error) {
	var out []Province
	if err := c.call(ctx, "/master-data/province", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Districts(ctx context.Context, provinceID int) ([]District, error) {
	var out []District
	if err := c.call(ctx, "/master-data/district", map[string]int{"province_id": provinceID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Wards(ctx context.Context, districtID int) ([]Ward, error) {
	var out []Ward
	if err := c.call(ctx, "/master-data/ward", map[string]int{"district_id": districtID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
