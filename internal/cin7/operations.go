package cin7

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

type customerList struct {
	Total        int        `json:"Total"`
	CustomerList []Customer `json:"CustomerList"`
}

type productList struct {
	Total    int       `json:"Total"`
	Products []Product `json:"Products"`
}

// CreateSale posts a Sale header.
func (c *Client) CreateSale(ctx context.Context, sale SalePayload) Response {
	return c.do(ctx, http.MethodPost, "/sale", nil, sale, c.requestTimeout)
}

// CreateSaleOrder posts the Sale Order body for an existing Sale.
func (c *Client) CreateSaleOrder(ctx context.Context, order SaleOrderPayload) Response {
	return c.do(ctx, http.MethodPost, "/saleorder", nil, order, c.requestTimeout)
}

// GetCustomerByID returns the customer with id, or nil when none exists.
func (c *Client) GetCustomerByID(ctx context.Context, id string) (*Customer, Response) {
	list, resp := c.customers(ctx, url.Values{"id": {id}})
	if len(list) == 0 {
		return nil, resp
	}
	return &list[0], resp
}

// GetCustomerByEmail returns the first customer with email, or nil.
func (c *Client) GetCustomerByEmail(ctx context.Context, email string) (*Customer, Response) {
	list, resp := c.customers(ctx, url.Values{"email": {email}})
	if len(list) == 0 {
		return nil, resp
	}
	return &list[0], resp
}

// SearchCustomersByName returns the customers the API matches for name.
func (c *Client) SearchCustomersByName(ctx context.Context, name string) ([]Customer, Response) {
	return c.customers(ctx, url.Values{"name": {name}})
}

func (c *Client) customers(ctx context.Context, q url.Values) ([]Customer, Response) {
	resp := c.do(ctx, http.MethodGet, "/customer", q, nil, c.requestTimeout)
	if !resp.OK {
		return nil, resp
	}
	var page customerList
	if err := decodeBody(resp.Body, &page); err != nil {
		return nil, unexpected(resp, err)
	}
	return page.CustomerList, resp
}

// GetProductBySKU returns the product with sku, or nil when none exists.
func (c *Client) GetProductBySKU(ctx context.Context, sku string) (*Product, Response) {
	list, resp := c.products(ctx, url.Values{"SKU": {sku}})
	if len(list) == 0 {
		return nil, resp
	}
	return &list[0], resp
}

// SearchProductsByName returns the products the API matches for name.
func (c *Client) SearchProductsByName(ctx context.Context, name string) ([]Product, Response) {
	return c.products(ctx, url.Values{"Name": {name}})
}

func (c *Client) products(ctx context.Context, q url.Values) ([]Product, Response) {
	resp := c.do(ctx, http.MethodGet, "/product", q, nil, c.requestTimeout)
	if !resp.OK {
		return nil, resp
	}
	var page productList
	if err := decodeBody(resp.Body, &page); err != nil {
		return nil, unexpected(resp, err)
	}
	return page.Products, resp
}

// TestConnection calls GET /me. A 200 that is not JSON, such as an HTML
// error page from a proxy, is reported as a failure.
func (c *Client) TestConnection(ctx context.Context) Response {
	resp := c.do(ctx, http.MethodGet, "/me", nil, nil, c.pingTimeout)
	if resp.OK && len(resp.Body) == 0 {
		resp.OK = false
		resp.Message = "Unexpected non-JSON response from /me"
	}
	return resp
}

// GetAllCustomers pages through the whole customer catalog.
func (c *Client) GetAllCustomers(ctx context.Context) (Catalog[Customer], Response) {
	return paginate(ctx, c, "/customer", func(body json.RawMessage) ([]Customer, int, error) {
		var page customerList
		err := decodeBody(body, &page)
		return page.CustomerList, page.Total, err
	})
}

// GetAllProducts pages through the whole product catalog.
func (c *Client) GetAllProducts(ctx context.Context) (Catalog[Product], Response) {
	return paginate(ctx, c, "/product", func(body json.RawMessage) ([]Product, int, error) {
		var page productList
		err := decodeBody(body, &page)
		return page.Products, page.Total, err
	})
}

// paginate fetches page 1, derives the page size from it and keeps fetching
// until Total items are collected, a page is empty or fails, or the page cap
// is reached. The returned Response is the first page's.
func paginate[T any](ctx context.Context, c *Client, endpoint string, decode func(json.RawMessage) ([]T, int, error)) (Catalog[T], Response) {
	var cat Catalog[T]

	first := c.do(ctx, http.MethodGet, endpoint, url.Values{"page": {"1"}}, nil, c.pageTimeout)
	if !first.OK {
		return cat, first
	}
	items, total, err := decode(first.Body)
	if err != nil {
		return cat, unexpected(first, err)
	}
	cat.Items = items
	cat.Pages = 1
	cat.Total = total
	if total < len(items) {
		cat.Total = len(items)
	}
	if len(items) == 0 || len(items) >= cat.Total {
		return cat, first
	}

	perPage := len(items)
	totalPages := (cat.Total + perPage - 1) / perPage
	lastPage := min(totalPages, c.maxPages)

	for p := 2; p <= lastPage && len(cat.Items) < cat.Total; p++ {
		resp := c.do(ctx, http.MethodGet, endpoint, url.Values{"page": {fmt.Sprint(p)}}, nil, c.pageTimeout)
		if !resp.OK {
			c.logger.Warn("catalog page failed",
				"endpoint", endpoint,
				"page", p,
				"status", resp.Status,
				"message", resp.Message,
			)
			break
		}
		more, _, err := decode(resp.Body)
		if err != nil || len(more) == 0 {
			break
		}
		cat.Items = append(cat.Items, more...)
		cat.Pages = p
	}

	cat.Truncated = len(cat.Items) < cat.Total
	if cat.Truncated {
		c.logger.Warn("catalog truncated",
			"endpoint", endpoint,
			"collected", len(cat.Items),
			"total", cat.Total,
			"pages", cat.Pages,
		)
	}
	return cat, first
}

func decodeBody(body json.RawMessage, v any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func unexpected(resp Response, err error) Response {
	resp.OK = false
	resp.Message = fmt.Sprintf("Unexpected response: %v", err)
	return resp
}
