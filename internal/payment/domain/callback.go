package domain

import (
	"net/url"
	"strconv"
	"strings"

	gatewaydomain "github.com/smallbiznis/orderbridge/internal/gateway/domain"
)

// CallbackTrigger reads the self-describing parameters embedded in return
// and notify URLs. The transaction id is only taken from the query; it is
// never derived from the other fields.
func CallbackTrigger(query url.Values, source Source) Trigger {
	t := Trigger{
		TransactionID: first(query, "id", "transaction_id", "transactionId"),
		ReferenceID:   first(query, "invoice_id", "reference_id", "order_number"),
		OrderID:       first(query, "order_id"),
		Method:        strings.ToLower(first(query, "method")),
		Source:        source,
	}
	if raw := first(query, "amount"); raw != "" {
		if amount, err := strconv.ParseInt(raw, 10, 64); err == nil && amount > 0 {
			t.AmountHint = amount
		}
	}
	if raw := first(query, "status", "state"); raw != "" {
		t.StatusHint = gatewaydomain.NormalizeStatus(raw)
	}
	return t
}

func first(query url.Values, keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(query.Get(key)); value != "" {
			return value
		}
	}
	return ""
}
