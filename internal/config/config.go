package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds every runtime setting of the service.
type Config struct {
	AppPort string
	AppEnv  string

	DBDriver    string
	DatabaseDSN string

	RedisAddr        string
	RabbitMQURL      string
	RabbitMQExchange string

	JWTSecret      string
	GatewayTimeout time.Duration

	VNPay   VNPayConfig
	Zalopay ZalopayConfig
	GHN     GHNConfig

	ShopShippingFee decimal.Decimal
	MasterDataTTL   time.Duration
}

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	APIURL     string
	ReturnURL  string
}

type ZalopayConfig struct {
	AppID       int
	Key1        string
	Key2        string
	Endpoint    string
	CallbackURL string
}

type GHNConfig struct {
	Token          string
	ShopID         int
	BaseURL        string
	FromDistrictID int
	FromWardCode   string
	RatePerSecond  float64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=shoporder port=5432 sslmode=disable")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("RABBITMQ_EXCHANGE", "shoporder.events")
	v.SetDefault("GATEWAY_TIMEOUT", "2s")

	v.SetDefault("VNPAY_PAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html")
	v.SetDefault("VNPAY_API_URL", "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction")
	v.SetDefault("VNPAY_RETURN_URL", "http://localhost:8080/payment/vnpay-return")

	v.SetDefault("ZALOPAY_ENDPOINT", "https://sb-openapi.zalopay.vn")
	v.SetDefault("ZALOPAY_CALLBACK_URL", "http://localhost:8080/webhooks/zalopay/callback")

	v.SetDefault("GHN_BASE_URL", "https://dev-online-gateway.ghn.vn/shiip/public-api")
	v.SetDefault("GHN_RATE_PER_SECOND", 5)

	v.SetDefault("SHOP_SHIPPING_FEE", "30000")
	v.SetDefault("MASTER_DATA_TTL", "24h")
}

// Load reads configuration from the environment and, when present, a
// config.yaml or .env file in the working directory.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	fee, err := decimal.NewFromString(v.GetString("SHOP_SHIPPING_FEE"))
	if err != nil {
		return nil, fmt.Errorf("invalid SHOP_SHIPPING_FEE: %w", err)
	}

	cfg := &Config{
		AppPort:          v.GetString("APP_PORT"),
		AppEnv:           v.GetString("APP_ENV"),
		DBDriver:         v.GetString("DB_DRIVER"),
		DatabaseDSN:      v.GetString("DATABASE_DSN"),
		RedisAddr:        v.GetString("REDIS_ADDR"),
		RabbitMQURL:      v.GetString("RABBITMQ_URL"),
		RabbitMQExchange: v.GetString("RABBITMQ_EXCHANGE"),
		JWTSecret:        v.GetString("JWT_SECRET"),
		GatewayTimeout:   v.GetDuration("GATEWAY_TIMEOUT"),
		VNPay: VNPayConfig{
			TmnCode:    v.GetString("VNPAY_TMN_CODE"),
			HashSecret: v.GetString("VNPAY_HASH_SECRET"),
			PayURL:     v.GetString("VNPAY_PAY_URL"),
			APIURL:     v.GetString("VNPAY_API_URL"),
			ReturnURL:  v.GetString("VNPAY_RETURN_URL"),
		},
		Zalopay: ZalopayConfig{
			AppID:       v.GetInt("ZALOPAY_APP_ID"),
			Key1:        v.GetString("ZALOPAY_KEY1"),
			Key2:        v.GetString("ZALOPAY_KEY2"),
			Endpoint:    v.GetString("ZALOPAY_ENDPOINT"),
			CallbackURL: v.GetString("ZALOPAY_CALLBACK_URL"),
		},
		GHN: GHNConfig{
			Token:          v.GetString("GHN_TOKEN"),
			ShopID:         v.GetInt("GHN_SHOP_ID"),
			BaseURL:        v.GetString("GHN_BASE_URL"),
			FromDistrictID: v.GetInt("GHN_FROM_DISTRICT_ID"),
			FromWardCode:   v.GetString("GHN_FROM_WARD_CODE"),
			RatePerSecond:  v.GetFloat64("GHN_RATE_PER_SECOND"),
		},
		ShopShippingFee: fee,
		MasterDataTTL:   v.GetDuration("MASTER_DATA_TTL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	require := func(key, value string) {
		if value == "" {
			missing = append(missing, key)
		}
	}
	require("JWT_SECRET", c.JWTSecret)
	require("DATABASE_DSN", c.DatabaseDSN)
	require("VNPAY_TMN_CODE", c.VNPay.TmnCode)
	require("VNPAY_HASH_SECRET", c.VNPay.HashSecret)
	require("ZALOPAY_KEY1", c.Zalopay.Key1)
	require("ZALOPAY_KEY2", c.Zalopay.Key2)
	require("GHN_TOKEN", c.GHN.Token)
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.DBDriver != "postgres" && c.DBDriver != "sqlite" {
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	return nil
}
