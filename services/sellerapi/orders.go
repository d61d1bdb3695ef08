package sellerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"slotwatch/services/timeslots"
)

// OrderStateDataFilling is the only order state ListOrders asks for.
const OrderStateDataFilling = "ORDER_STATE_DATA_FILLING"

// OrderID is a supply order id. The provider sends ids both as numbers and as
// decimal strings.
type OrderID int64

// UnmarshalJSON accepts numbers and numeric strings.
func (id *OrderID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*id = 0
			return nil
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("supply order id %q: %w", data, err)
	}
	*id = OrderID(n)
	return nil
}

// OrderList is one page of supply orders.
type OrderList struct {
	SupplyOrderIDs    []OrderID `json:"supply_order_id"`
	LastSupplyOrderID OrderID   `json:"last_supply_order_id"`
	Code              int       `json:"code,omitempty"`
	Message           string    `json:"message,omitempty"`
}

// IDs returns the page's ids as int64.
func (l OrderList) IDs() []int64 {
	out := make([]int64, len(l.SupplyOrderIDs))
	for i, id := range l.SupplyOrderIDs {
		out[i] = int64(id)
	}
	return out
}

// Err returns the provider error carried by the page, if any.
func (l OrderList) Err() error {
	if l.Code == 0 {
		return nil
	}
	return &timeslots.UpstreamError{Code: l.Code, Message: l.Message}
}

type orderListRequest struct {
	Filter struct {
		States []string `json:"states"`
	} `json:"filter"`
	Paging struct {
		FromSupplyOrderID int64 `json:"from_supply_order_id"`
		Limit             int   `json:"limit"`
	} `json:"paging"`
}

// ListOrders returns up to limit supply orders in the data filling state with
// ids starting at startID. limit is clamped to MaxOrdersPerRequest; zero or
// less asks for a full page. A provider error is returned both in the page
// and as an *UpstreamError.
func (c *Client) ListOrders(ctx context.Context, limit int, startID int64) (OrderList, error) {
	if limit > MaxOrdersPerRequest {
		c.logger.Warn().Int("limit", limit).Int("max", MaxOrdersPerRequest).Msg("order limit exceeds provider maximum, clamping")
		limit = MaxOrdersPerRequest
	}
	if limit <= 0 {
		limit = MaxOrdersPerRequest
	}

	var req orderListRequest
	req.Filter.States = []string{OrderStateDataFilling}
	req.Paging.FromSupplyOrderID = startID
	req.Paging.Limit = limit

	var page OrderList
	if err := c.post(ctx, endpointOrderList, req, &page); err != nil {
		return OrderList{}, err
	}
	return page, page.Err()
}
