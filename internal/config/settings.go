package config

// settings.go holds the per-client settings record consumed by the order
// builder, validator and submission orchestrator.

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Sale statuses accepted by POST /saleorder.
const (
	StatusDraft      = "DRAFT"
	StatusAuthorised = "AUTHORISED"
)

var validate = validator.New()

// Settings is the client settings record. Environment values provide the
// defaults; a YAML settings file may override any of them.
type Settings struct {
	DefaultStatus            string        `env:"CIN7_DEFAULT_STATUS" default:"DRAFT" yaml:"default_status" json:"default_status" validate:"omitempty,oneof=DRAFT AUTHORISED"`
	DefaultCurrency          string        `env:"CIN7_DEFAULT_CURRENCY" default:"USD" yaml:"default_currency" json:"default_currency" validate:"omitempty,len=3"`
	DefaultLocation          string        `env:"CIN7_DEFAULT_LOCATION" yaml:"default_location" json:"default_location" validate:"omitempty,uuid"`
	TaxInclusive             bool          `env:"CIN7_TAX_INCLUSIVE" default:"false" yaml:"tax_inclusive" json:"tax_inclusive"`
	TaxRule                  string        `env:"CIN7_TAX_RULE" yaml:"tax_rule" json:"tax_rule"`
	SaleType                 string        `env:"CIN7_SALE_TYPE" default:"simple" yaml:"sale_type" json:"sale_type"`
	DelayBetweenOrders       time.Duration `env:"CIN7_DELAY_BETWEEN_ORDERS" default:"700ms" yaml:"delay_between_orders" json:"delay_between_orders" validate:"gte=0"`
	RequireCustomerReference bool          `env:"CIN7_REQUIRE_CUSTOMER_REFERENCE" default:"false" yaml:"require_customer_reference" json:"require_customer_reference"`
	RequireInvoiceNumber     bool          `env:"CIN7_REQUIRE_INVOICE_NUMBER" default:"false" yaml:"require_invoice_number" json:"require_invoice_number"`
}

// Validate checks the settings against their struct constraints and reports
// every failing field in a single error.
func (s Settings) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid settings:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Currency returns the configured currency, falling back to USD.
func (s Settings) Currency() string {
	if s.DefaultCurrency == "" {
		return "USD"
	}
	return s.DefaultCurrency
}

// LoadSettingsFile overlays the YAML file at path onto base and validates the
// result. Keys absent from the file keep their base values.
func LoadSettingsFile(path string, base Settings) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read settings file: %w", err)
	}
	return ParseSettings(data, base)
}

// ParseSettings is LoadSettingsFile for in-memory YAML.
func ParseSettings(data []byte, base Settings) (Settings, error) {
	s := base
	if err := yaml.Unmarshal(data, &s); err != nil {
		return base, fmt.Errorf("parse settings: %w", err)
	}
	s.DefaultStatus = strings.ToUpper(strings.TrimSpace(s.DefaultStatus))
	if err := s.Validate(); err != nil {
		return base, err
	}
	return s, nil
}

// LoadMappingFile reads a column mapping from YAML. The file is a flat map of
// Cin7 field name to CSV column header, e.g.
//
//	CustomerName: Customer
//	SKU: Item Code
//	Price: Unit Price
func LoadMappingFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping file: %w", err)
	}

	var m map[string]string
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse mapping file: %w", err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("mapping file %s is empty", path)
	}
	return m, nil
}
