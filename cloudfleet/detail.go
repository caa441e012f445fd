package cloudfleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

func workOrderPath(number int) string {
	return "/v1/work-orders/" + strconv.Itoa(number)
}

// WorkOrderDetail fetches the full work order. Top-level null fields are removed from the
// returned document: null upstream means "not applicable", never "reset".
func (c *Client) WorkOrderDetail(ctx context.Context, number int) ([]byte, error) {
	body, _, err := c.get(ctx, c.endpoint(workOrderPath(number), nil))
	if err != nil {
		return nil, err
	}
	cleaned, err := dropNullFields(body)
	if err != nil {
		return nil, fmt.Errorf("cloudfleet: decode work order %d: %w", number, err)
	}
	return cleaned, nil
}

func dropNullFields(doc []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("expected a JSON object")
	}
	for k, v := range fields {
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			delete(fields, k)
		}
	}
	return json.Marshal(fields)
}
