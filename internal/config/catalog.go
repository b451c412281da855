package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/gosimple/slug"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Catalog maps storefront product references to billing product ids and
// payment methods to gateway profiles.
type Catalog struct {
	Products       map[string]string               `mapstructure:"products"`
	PaymentMethods map[string]PaymentMethodProfile `mapstructure:"paymentMethods"`
}

// PaymentMethodProfile selects a gateway provider and its instrument for one
// storefront payment method.
type PaymentMethodProfile struct {
	Provider   string `mapstructure:"provider"`
	Instrument string `mapstructure:"instrument"`
	Swift      string `mapstructure:"swift"`
	// BillingMethod is the gateway module name recorded on invoice payments.
	BillingMethod string `mapstructure:"billingMethod"`
}

func DefaultCatalog() Catalog {
	return Catalog{
		Products: map[string]string{
			"vps-basic":    "1",
			"vps-standard": "2",
			"vps-pro":      "3",
			"webhosting":   "10",
			"domain":       "20",
		},
		PaymentMethods: map[string]PaymentMethodProfile{
			"card": {Provider: "gopay", Instrument: "PAYMENT_CARD", BillingMethod: "gopay"},
			"bank": {Provider: "gopay", Instrument: "BANK_ACCOUNT", BillingMethod: "gopay"},
			"gpay": {Provider: "gopay", Instrument: "GPAY", BillingMethod: "gopay"},
		},
	}
}

// ProductID returns the billing product id for ref. Refs match by slug, so
// "VPS Basic" and "vps-basic" name the same product.
func (c Catalog) ProductID(ref string) (string, bool) {
	id, ok := c.Products[productKey(ref)]
	if !ok || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

// Method returns the profile for a payment method.
func (c Catalog) Method(method string) (PaymentMethodProfile, bool) {
	profile, ok := c.PaymentMethods[strings.ToLower(strings.TrimSpace(method))]
	return profile, ok
}

type CatalogHolder struct {
	current atomic.Value // holds Catalog
}

// NewStaticCatalogHolder wraps a fixed catalog without watching any file.
func NewStaticCatalogHolder(cat Catalog) *CatalogHolder {
	holder := &CatalogHolder{}
	holder.current.Store(normalizeCatalog(cat))
	return holder
}

func NewCatalogHolder(log *zap.Logger) (*CatalogHolder, error) {
	log = log.Named("config.catalog")
	v := viper.New()

	v.SetConfigName("catalog")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/orderbridge")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ORDERBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		defaults := DefaultCatalog()
		v.SetDefault("catalog.products", defaults.Products)
		v.SetDefault("catalog.paymentMethods", defaults.PaymentMethods)
	}

	cat, err := readCatalog(v)
	if err != nil {
		return nil, err
	}

	holder := &CatalogHolder{}
	holder.current.Store(cat)

	if v.ConfigFileUsed() == "" {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := readCatalog(v)
		if err != nil {
			log.Warn("catalog reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("catalog reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *CatalogHolder) Get() Catalog {
	return h.current.Load().(Catalog)
}

func readCatalog(v *viper.Viper) (Catalog, error) {
	var cat Catalog
	if err := v.UnmarshalKey("catalog", &cat); err != nil {
		return Catalog{}, err
	}
	cat = normalizeCatalog(cat)
	if err := validateCatalog(cat); err != nil {
		return Catalog{}, err
	}
	return cat, nil
}

func normalizeCatalog(cat Catalog) Catalog {
	products := make(map[string]string, len(cat.Products))
	for ref, id := range cat.Products {
		products[productKey(ref)] = strings.TrimSpace(id)
	}
	methods := make(map[string]PaymentMethodProfile, len(cat.PaymentMethods))
	for name, profile := range cat.PaymentMethods {
		profile.Provider = strings.ToLower(strings.TrimSpace(profile.Provider))
		methods[strings.ToLower(strings.TrimSpace(name))] = profile
	}
	return Catalog{Products: products, PaymentMethods: methods}
}

func productKey(ref string) string {
	return slug.Make(strings.TrimSpace(ref))
}

func validateCatalog(cat Catalog) error {
	if len(cat.Products) == 0 {
		return errors.New("catalog.products cannot be empty")
	}
	if len(cat.PaymentMethods) == 0 {
		return errors.New("catalog.paymentMethods cannot be empty")
	}
	for name, profile := range cat.PaymentMethods {
		if profile.Provider == "" {
			return fmt.Errorf("catalog.paymentMethods.%s.provider is required", name)
		}
	}
	return nil
}
