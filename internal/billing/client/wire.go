package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// flexString accepts JSON strings, numbers and null. Billing encodes ids
// inconsistently across actions.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }

// formatAmount renders minor units as the decimal string Billing expects.
func formatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// parseAmount converts a Billing decimal string into minor units.
func parseAmount(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	negative := strings.HasPrefix(raw, "-")
	raw = strings.TrimPrefix(raw, "-")

	whole, frac, _ := strings.Cut(raw, ".")
	if len(frac) > 2 {
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	total := units*100 + cents
	if negative {
		total = -total
	}
	return total, nil
}

func parseDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

type wireClient struct {
	ID          flexString `json:"id"`
	UserID      flexString `json:"userid"`
	FirstName   string     `json:"firstname"`
	LastName    string     `json:"lastname"`
	CompanyName string     `json:"companyname"`
	Email       string     `json:"email"`
	Phone       string     `json:"phonenumber"`
	Address1    string     `json:"address1"`
	Address2    string     `json:"address2"`
	City        string     `json:"city"`
	PostCode    string     `json:"postcode"`
	Country     string     `json:"country"`
	DateCreated string     `json:"datecreated"`
}

type getClientsResponse struct {
	TotalResults flexString `json:"totalresults"`
	Clients      struct {
		Client []wireClient `json:"client"`
	} `json:"clients"`
}

type getClientsDetailsResponse struct {
	Client wireClient `json:"client"`
}

type addClientResponse struct {
	ClientID flexString `json:"clientid"`
}

type createDraftResponse struct {
	DraftID flexString `json:"draftid"`
}

type convertDraftResponse struct {
	OrderID       flexString `json:"orderid"`
	InvoiceID     flexString `json:"invoiceid"`
	InvoiceStatus string     `json:"invoicestatus"`
}

type wireOrder struct {
	ID        flexString `json:"id"`
	UserID    flexString `json:"userid"`
	InvoiceID flexString `json:"invoiceid"`
	Status    string     `json:"status"`
}

type getOrdersResponse struct {
	Orders struct {
		Order []wireOrder `json:"order"`
	} `json:"orders"`
}

type wireAffiliate struct {
	ID       flexString `json:"id"`
	ClientID flexString `json:"clientid"`
	Name     string     `json:"name"`
	Status   string     `json:"status"`
}

type getAffiliatesResponse struct {
	Affiliates struct {
		Affiliate []wireAffiliate `json:"affiliate"`
	} `json:"affiliates"`
}

type wireTransaction struct {
	TransID  string `json:"transid"`
	AmountIn string `json:"amountin"`
	Gateway  string `json:"gateway"`
	Date     string `json:"date"`
}

type getInvoiceResponse struct {
	InvoiceID    flexString `json:"invoiceid"`
	UserID       flexString `json:"userid"`
	Status       string     `json:"status"`
	Total        flexString `json:"total"`
	CurrencyCode string     `json:"currencycode"`
	Transactions struct {
		Transaction []wireTransaction `json:"transaction"`
	} `json:"transactions"`
}
