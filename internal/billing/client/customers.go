package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/smallbiznis/orderbridge/internal/billing/domain"
	"go.uber.org/zap"
)

func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (domain.Customer, error) {
	email = strings.TrimSpace(email)
	params := url.Values{}
	params.Set("search", email)
	params.Set("limitnum", "25")

	var resp getClientsResponse
	if err := c.call(ctx, "GetClients", params, &resp); err != nil {
		return domain.Customer{}, err
	}
	for _, wc := range resp.Clients.Client {
		if strings.EqualFold(strings.TrimSpace(wc.Email), email) {
			return toCustomer(wc), nil
		}
	}
	return domain.Customer{}, domain.ErrNotFound
}

func (c *Client) SearchRecentCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if limit <= 0 {
		limit = 100
	}
	params := url.Values{}
	params.Set("limitnum", strconv.Itoa(limit))
	params.Set("orderby", "id")
	params.Set("order", "desc")

	var resp getClientsResponse
	if err := c.call(ctx, "GetClients", params, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Customer, 0, len(resp.Clients.Client))
	for _, wc := range resp.Clients.Client {
		out = append(out, toCustomer(wc))
	}
	return out, nil
}

func (c *Client) GetCustomerDetailsByEmail(ctx context.Context, email string) (domain.Customer, error) {
	params := url.Values{}
	params.Set("email", strings.TrimSpace(email))
	return c.getClientDetails(ctx, params)
}

func (c *Client) getClientDetails(ctx context.Context, params url.Values) (domain.Customer, error) {
	var resp getClientsDetailsResponse
	if err := c.call(ctx, "GetClientsDetails", params, &resp); err != nil {
		if isNotFoundMessage(err) {
			return domain.Customer{}, fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		}
		return domain.Customer{}, err
	}
	customer := toCustomer(resp.Client)
	if customer.ID == "" {
		return domain.Customer{}, domain.ErrNotFound
	}
	return customer, nil
}

// CreateCustomer adds a client and re-reads it, since Billing may store a
// different email than the one submitted.
func (c *Client) CreateCustomer(ctx context.Context, input domain.NewCustomer) (domain.Customer, error) {
	params := url.Values{}
	params.Set("firstname", strings.TrimSpace(input.FirstName))
	params.Set("lastname", strings.TrimSpace(input.LastName))
	params.Set("email", strings.TrimSpace(input.Email))
	params.Set("address1", input.Address.Line1)
	params.Set("address2", input.Address.Line2)
	params.Set("city", input.Address.City)
	params.Set("postcode", input.Address.PostCode)
	params.Set("country", input.Address.Country)
	params.Set("skipvalidation", "true")
	if input.CompanyName != "" {
		params.Set("companyname", input.CompanyName)
	}
	if input.Phone != "" {
		params.Set("phonenumber", input.Phone)
	}
	if input.Currency != "" {
		params.Set("currency", input.Currency)
	}

	var resp addClientResponse
	if err := c.call(ctx, "AddClient", params, &resp); err != nil {
		return domain.Customer{}, err
	}
	id := resp.ClientID.String()
	if id == "" {
		return domain.Customer{}, fmt.Errorf("%w: AddClient returned no clientid", domain.ErrInvalidResponse)
	}

	lookup := url.Values{}
	lookup.Set("clientid", id)
	stored, err := c.getClientDetails(ctx, lookup)
	if err != nil {
		c.log.Debug("created customer re-read failed", zap.String("client_id", id), zap.Error(err))
		return domain.Customer{
			ID:          id,
			FirstName:   input.FirstName,
			LastName:    input.LastName,
			CompanyName: input.CompanyName,
			Email:       input.Email,
			Phone:       input.Phone,
			Address:     input.Address,
		}, nil
	}
	return stored, nil
}

func toCustomer(wc wireClient) domain.Customer {
	id := wc.ID.String()
	if id == "" {
		id = wc.UserID.String()
	}
	return domain.Customer{
		ID:          id,
		FirstName:   strings.TrimSpace(wc.FirstName),
		LastName:    strings.TrimSpace(wc.LastName),
		CompanyName: strings.TrimSpace(wc.CompanyName),
		Email:       strings.TrimSpace(wc.Email),
		Phone:       strings.TrimSpace(wc.Phone),
		Address: domain.Address{
			Line1:    wc.Address1,
			Line2:    wc.Address2,
			City:     wc.City,
			PostCode: wc.PostCode,
			Country:  wc.Country,
		},
		CreatedAt: parseDate(wc.DateCreated),
	}
}
