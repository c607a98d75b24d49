package cin7

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Sale types accepted by the Sale endpoint.
const (
	SaleTypeSimple   = "Simple Sale"
	SaleTypeAdvanced = "Advanced Sale"
)

// Sale Order statuses.
const (
	StatusDraft      = "DRAFT"
	StatusAuthorised = "AUTHORISED"
)

var validate = validator.New()

// Credentials authenticate every call. BaseURL falls back to DefaultBaseURL
// when empty.
type Credentials struct {
	AccountID      string `json:"account_id" validate:"required,uuid"`
	ApplicationKey string `json:"-" validate:"required"`
	BaseURL        string `json:"base_url" validate:"omitempty,url"`
}

// Validate reports missing or malformed credential fields.
func (c Credentials) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("invalid credentials: %s", strings.Join(msgs, ", "))
		}
		return err
	}
	return nil
}

// Address is an address held on a customer record.
type Address struct {
	ID       string `json:"ID,omitempty"`
	Line1    string `json:"Line1,omitempty"`
	Line2    string `json:"Line2,omitempty"`
	City     string `json:"City,omitempty"`
	State    string `json:"State,omitempty"`
	Postcode string `json:"Postcode,omitempty"`
	Country  string `json:"Country,omitempty"`
}

// AddressList decodes an address field that the API returns either as a
// single object or as an array.
type AddressList []Address

// UnmarshalJSON accepts null, an object or an array of objects.
func (l *AddressList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*l = nil
		return nil
	case data[0] == '{':
		var a Address
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		*l = AddressList{a}
		return nil
	default:
		var list []Address
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*l = list
		return nil
	}
}

// PrimaryID returns the first non-empty address ID.
func (l AddressList) PrimaryID() string {
	for _, a := range l {
		if a.ID != "" {
			return a.ID
		}
	}
	return ""
}

// Customer is a remote customer record.
type Customer struct {
	ID              string      `json:"ID"`
	Name            string      `json:"Name"`
	Email           string      `json:"Email,omitempty"`
	ShippingAddress AddressList `json:"ShippingAddress,omitempty"`
	BillingAddress  AddressList `json:"BillingAddress,omitempty"`
}

// Addresses returns the shipping addresses followed by any billing address
// not already present.
func (c Customer) Addresses() []Address {
	out := make([]Address, 0, len(c.ShippingAddress)+len(c.BillingAddress))
	out = append(out, c.ShippingAddress...)
	for _, b := range c.BillingAddress {
		dup := false
		for _, a := range out {
			if a == b {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, b)
		}
	}
	return out
}

// Product is a remote product record.
type Product struct {
	ID   string `json:"ID"`
	Name string `json:"Name"`
	SKU  string `json:"SKU"`
}

// InlineAddress is a new shipping address sent with a Sale. The API creates
// it on the customer when ShipToOther is false.
type InlineAddress struct {
	Company             string `json:"Company,omitempty"`
	Line1               string `json:"Line1"`
	Line2               string `json:"Line2"`
	City                string `json:"City"`
	State               string `json:"State"`
	Postcode            string `json:"Postcode"`
	Country             string `json:"Country"`
	DisplayAddressLine1 string `json:"DisplayAddressLine1"`
	DisplayAddressLine2 string `json:"DisplayAddressLine2"`
	ShipToOther         bool   `json:"ShipToOther"`
}

// AddressRef is either an existing address ID or an inline address.
type AddressRef struct {
	ID     string
	Inline *InlineAddress
}

// AddressByID references an existing address.
func AddressByID(id string) *AddressRef {
	return &AddressRef{ID: id}
}

// MarshalJSON encodes the inline object when present, else the ID string.
func (r AddressRef) MarshalJSON() ([]byte, error) {
	if r.Inline != nil {
		return json.Marshal(r.Inline)
	}
	return json.Marshal(r.ID)
}

// UnmarshalJSON accepts a string ID or an inline address object.
func (r *AddressRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var in InlineAddress
		if err := json.Unmarshal(data, &in); err != nil {
			return err
		}
		*r = AddressRef{Inline: &in}
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	*r = AddressRef{ID: id}
	return nil
}

// SalePayload is the body of POST /sale.
type SalePayload struct {
	Type              string      `json:"Type"`
	CustomerID        string      `json:"CustomerID,omitempty"`
	Customer          string      `json:"Customer,omitempty"`
	BillingAddress    string      `json:"BillingAddress,omitempty"`
	ShippingAddress   *AddressRef `json:"ShippingAddress,omitempty"`
	ShipBy            string      `json:"ShipBy,omitempty"`
	SaleDate          string      `json:"SaleDate,omitempty"`
	CustomerReference string      `json:"CustomerReference,omitempty"`
	Location          string      `json:"Location,omitempty"`
	TaxInclusive      bool        `json:"TaxInclusive,omitempty"`
}

// LineItem is one Sale Order line. ProductID and Name always come from a
// product lookup.
type LineItem struct {
	ProductID string   `json:"ProductID"`
	SKU       string   `json:"SKU,omitempty"`
	Name      string   `json:"Name"`
	Quantity  float64  `json:"Quantity"`
	Price     float64  `json:"Price"`
	Tax       float64  `json:"Tax"`
	TaxRule   string   `json:"TaxRule"`
	Discount  *float64 `json:"Discount,omitempty"`
}

// SaleOrderPayload is the body of POST /saleorder.
type SaleOrderPayload struct {
	SaleID string     `json:"SaleID"`
	Status string     `json:"Status"`
	Lines  []LineItem `json:"Lines"`
	Total  float64    `json:"Total"`
	Tax    float64    `json:"Tax"`
}

// Response is the outcome of a call. Failures are reported here rather than
// as Go errors.
type Response struct {
	OK      bool            `json:"ok"`
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// ID extracts a record ID from the body, which is either an object with an
// ID field or an array whose first element has one.
func (r Response) ID() string {
	body := bytes.TrimSpace(r.Body)
	if len(body) == 0 {
		return ""
	}
	var rec struct {
		ID string `json:"ID"`
	}
	if body[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(body, &list); err != nil || len(list) == 0 {
			return ""
		}
		body = list[0]
	}
	if err := json.Unmarshal(body, &rec); err != nil {
		return ""
	}
	return rec.ID
}

// Catalog is a fully paged listing. Truncated is set when the page cap was
// reached before Total items were collected.
type Catalog[T any] struct {
	Items     []T  `json:"items"`
	Total     int  `json:"total"`
	Pages     int  `json:"pages"`
	Truncated bool `json:"truncated"`
}
