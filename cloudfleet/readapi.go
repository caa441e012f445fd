package cloudfleet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"bitbucket.org/mmdatafocus/cloudfleet_sync/utils"
)

// Vehicle is the trimmed vehicle listing served to reporting clients.
type Vehicle struct {
	ID       json.RawMessage `json:"id"`
	Code     string          `json:"code"`
	TypeName string          `json:"typeName"`
}

type upstreamVehicle struct {
	ID         json.RawMessage `json:"id"`
	Code       string          `json:"code"`
	TypeName   string          `json:"typeName"`
	CostCenter *namedRef       `json:"costCenter"`
}

// VehicleQuery is bound from the /vehicles query string.
type VehicleQuery struct {
	Owner string `form:"owner" validate:"required"`
}

// WorkOrderQuery is bound from the /work-orders query string; every filter is optional.
type WorkOrderQuery struct {
	VehicleCode   string `form:"vehicleCode"`
	StartDateFrom string `form:"startDateFrom"`
	StartDateTo   string `form:"startDateTo"`
}

// VehicleCache keeps filtered vehicle listings between requests.
type VehicleCache interface {
	Get(key string) ([]Vehicle, bool, error)
	Set(key string, vehicles []Vehicle) error
}

// redisVehicleCache misses silently while Redis is not connected.
type redisVehicleCache struct{}

func (redisVehicleCache) Get(key string) ([]Vehicle, bool, error) {
	return utils.RetrieveRedisList[Vehicle](key)
}

func (redisVehicleCache) Set(key string, vehicles []Vehicle) error {
	return utils.StoreRedisList(key, vehicles)
}

// vehicleCacheKey keeps owner as given: the cost center match is exact.
func vehicleCacheKey(owner string) string {
	return "cloudfleet:vehicles:" + owner
}

// Vehicles drains the vehicle listing and keeps those whose cost center name equals owner.
// Results are cached in Redis when it is connected.
func (c *Client) Vehicles(ctx context.Context, owner string) ([]Vehicle, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("%w: owner", ErrMissingParameter)
	}

	key := vehicleCacheKey(owner)
	if cached, ok, err := c.vehicles.Get(key); err == nil && ok {
		return cached, nil
	} else if err != nil {
		c.logger.WithError(err).Warn("vehicle cache read failed")
	}

	raw, err := c.Fetch("/v1/vehicles", nil).Drain(ctx)
	if err != nil {
		return nil, err
	}

	vehicles := make([]Vehicle, 0)
	for _, rec := range raw {
		var v upstreamVehicle
		if err := json.Unmarshal(rec, &v); err != nil {
			return nil, fmt.Errorf("cloudfleet: decode vehicle: %w", err)
		}
		if v.CostCenter == nil || v.CostCenter.Name != owner {
			continue
		}
		vehicles = append(vehicles, Vehicle{ID: v.ID, Code: v.Code, TypeName: v.TypeName})
	}

	if err := c.vehicles.Set(key, vehicles); err != nil {
		c.logger.WithError(err).Warn("vehicle cache write failed")
	}
	return vehicles, nil
}

// WorkOrders drains the v2 work-order listing unchanged.
func (c *Client) WorkOrders(ctx context.Context, q WorkOrderQuery) ([]json.RawMessage, error) {
	params := url.Values{}
	if q.VehicleCode != "" {
		params.Set("vehicleCode", q.VehicleCode)
	}
	if q.StartDateFrom != "" {
		params.Set("startDateFrom", q.StartDateFrom)
	}
	if q.StartDateTo != "" {
		params.Set("startDateTo", q.StartDateTo)
	}
	records, err := c.Fetch("/v2/work-orders", params).Drain(ctx)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []json.RawMessage{}
	}
	return records, nil
}

// WorkOrder returns one upstream work order as served.
func (c *Client) WorkOrder(ctx context.Context, number int) (json.RawMessage, error) {
	body, _, err := c.get(ctx, c.endpoint(workOrderPath(number), nil))
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("cloudfleet: work order %d: invalid JSON body", number)
	}
	return body, nil
}
