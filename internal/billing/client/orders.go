package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/smallbiznis/orderbridge/internal/billing/domain"
)

func (c *Client) CreateDraftOrder(ctx context.Context, customerID, currency string) (domain.DraftOrder, error) {
	params := url.Values{}
	params.Set("clientid", customerID)
	if currency != "" {
		params.Set("currency", currency)
	}

	var resp createDraftResponse
	if err := c.call(ctx, "CreateDraftOrder", params, &resp); err != nil {
		return domain.DraftOrder{}, err
	}
	if resp.DraftID == "" {
		return domain.DraftOrder{}, fmt.Errorf("%w: CreateDraftOrder returned no draftid", domain.ErrInvalidResponse)
	}
	return domain.DraftOrder{ID: resp.DraftID.String(), CustomerID: customerID}, nil
}

func (c *Client) AttachDraftItem(ctx context.Context, draftID string, item domain.DraftItem) error {
	params := url.Values{}
	params.Set("draftid", draftID)
	params.Set("pid", item.ProductID)
	params.Set("billingcycle", item.CycleCode)
	params.Set("qty", "1")
	if item.UnitPrice > 0 {
		params.Set("priceoverride", formatAmount(item.UnitPrice))
	}
	if item.Description != "" {
		params.Set("description", item.Description)
	}
	return c.call(ctx, "AddDraftOrderItem", params, nil)
}

func (c *Client) ConvertDraftOrder(ctx context.Context, draftID string) (domain.ConvertResult, error) {
	params := url.Values{}
	params.Set("draftid", draftID)

	var resp convertDraftResponse
	if err := c.call(ctx, "ConvertDraftOrder", params, &resp); err != nil {
		return domain.ConvertResult{}, err
	}
	if resp.OrderID == "" {
		return domain.ConvertResult{}, fmt.Errorf("%w: ConvertDraftOrder returned no orderid", domain.ErrInvalidResponse)
	}
	return domain.ConvertResult{
		OrderID:       resp.OrderID.String(),
		InvoiceID:     resp.InvoiceID.String(),
		InvoiceStatus: domain.InvoiceStatus(resp.InvoiceStatus),
	}, nil
}

func (c *Client) GetOrderDetails(ctx context.Context, orderID string) (domain.Order, error) {
	params := url.Values{}
	params.Set("id", orderID)

	var resp getOrdersResponse
	if err := c.call(ctx, "GetOrders", params, &resp); err != nil {
		return domain.Order{}, err
	}
	for _, o := range resp.Orders.Order {
		if o.ID.String() == orderID {
			return domain.Order{
				ID:         o.ID.String(),
				CustomerID: o.UserID.String(),
				InvoiceID:  o.InvoiceID.String(),
				Status:     o.Status,
			}, nil
		}
	}
	return domain.Order{}, domain.ErrNotFound
}

func (c *Client) ActivateOrder(ctx context.Context, orderID string) error {
	params := url.Values{}
	params.Set("orderid", orderID)
	return c.call(ctx, "ActivateOrder", params, nil)
}

// AcceptOrder is the standard authorize call, used when ActivateOrder fails.
func (c *Client) AcceptOrder(ctx context.Context, orderID string) error {
	params := url.Values{}
	params.Set("orderid", orderID)
	params.Set("autosetup", "false")
	params.Set("sendemail", "false")
	return c.call(ctx, "AcceptOrder", params, nil)
}

func (c *Client) GetAffiliate(ctx context.Context, affiliateID string) (domain.Affiliate, error) {
	params := url.Values{}
	params.Set("id", affiliateID)

	var resp getAffiliatesResponse
	if err := c.call(ctx, "GetAffiliates", params, &resp); err != nil {
		return domain.Affiliate{}, err
	}
	for _, a := range resp.Affiliates.Affiliate {
		if a.ID.String() == affiliateID {
			return domain.Affiliate{ID: a.ID.String(), Name: a.Name, Status: a.Status}, nil
		}
	}
	return domain.Affiliate{}, domain.ErrNotFound
}

func (c *Client) AssignOrderAffiliate(ctx context.Context, orderID, affiliateID string) error {
	params := url.Values{}
	params.Set("orderid", orderID)
	params.Set("affid", affiliateID)
	return c.call(ctx, "AssignOrderAffiliate", params, nil)
}

func (c *Client) TriggerProvisioning(ctx context.Context, orderID string) error {
	params := url.Values{}
	params.Set("orderid", orderID)
	return c.call(ctx, "TriggerProvisioning", params, nil)
}
