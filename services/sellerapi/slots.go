package sellerapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"slotwatch/services/timeslots"
)

type timeslotRequest struct {
	SupplyOrderID int64 `json:"supply_order_id"`
}

// FetchSlots returns the timeslot payload of every id, in order. Requests are
// issued one at a time with a pause of 1/rps after each one except the last.
// A provider error for one id is kept as that id's result; transport failures
// and cancellation during a pause abort the batch.
func (c *Client) FetchSlots(ctx context.Context, ids []int64, rps float64) ([]timeslots.Response, error) {
	return c.batch(ctx, ids, rps, c.fetchOne)
}

// FetchSlotsInRange fetches one order's timeslots and keeps the ones that
// overlap [from, to]. See FilterRange.
func (c *Client) FetchSlotsInRange(ctx context.Context, id int64, from, to string) (timeslots.Response, error) {
	if id == 0 {
		return timeslots.Response{}, fmt.Errorf("%w: supply order id is required", timeslots.ErrInvalidArgument)
	}
	resp, err := c.fetchOne(ctx, id)
	if err != nil {
		return timeslots.Response{}, err
	}
	return FilterRange(resp, from, to), nil
}

// FetchSlotsInRanges is the date range variant of FetchSlots.
func (c *Client) FetchSlotsInRanges(ctx context.Context, ids []int64, rps float64, from, to string) ([]timeslots.Response, error) {
	for _, id := range ids {
		if id == 0 {
			return nil, fmt.Errorf("%w: supply order id is required", timeslots.ErrInvalidArgument)
		}
	}
	return c.batch(ctx, ids, rps, func(ctx context.Context, id int64) (timeslots.Response, error) {
		resp, err := c.fetchOne(ctx, id)
		if err != nil {
			return timeslots.Response{}, err
		}
		return FilterRange(resp, from, to), nil
	})
}

func (c *Client) batch(ctx context.Context, ids []int64, rps float64, fetch func(context.Context, int64) (timeslots.Response, error)) ([]timeslots.Response, error) {
	if _, _, err := c.credentials(); err != nil {
		return nil, err
	}
	if rps <= 0 {
		rps = DefaultRPS
	}
	delay := time.Duration(float64(time.Second) / rps)

	results := make([]timeslots.Response, 0, len(ids))
	for i, id := range ids {
		resp, err := fetch(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetch timeslots for %d: %w", id, err)
		}
		results = append(results, resp)

		if i == len(ids)-1 {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (c *Client) fetchOne(ctx context.Context, id int64) (timeslots.Response, error) {
	var resp timeslots.Response
	err := c.post(ctx, endpointTimeslots, timeslotRequest{SupplyOrderID: id}, &resp,
		attribute.Int64("sellerapi.supply_order_id", id))

	var upstream *timeslots.UpstreamError
	if errors.As(err, &upstream) {
		return timeslots.Response{Code: upstream.Code, Message: upstream.Message}, nil
	}
	if err != nil {
		return timeslots.Response{}, err
	}
	if resp.Code != 0 {
		c.logger.Warn().Int64("supply_order_id", id).Int("code", resp.Code).Str("message", resp.Message).Msg("provider returned an error")
	}
	return resp, nil
}
