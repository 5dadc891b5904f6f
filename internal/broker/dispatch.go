package broker

import (
	"context"
	"encoding/json"
	"fmt"
)

// actionRequest decodes the fields any of the three supported actions
// might carry.
type actionRequest struct {
	Action    string `json:"action"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

// Dispatch decodes one request line and routes it to the action it
// names, returning the response object for that action. It is the
// function wired as the transport.Handler.
func (b *Broker) Dispatch(ctx context.Context, action string, rawLine json.RawMessage) (interface{}, error) {
	var req actionRequest
	if err := json.Unmarshal(rawLine, &req); err != nil {
		return nil, fmt.Errorf("Invalid JSON")
	}

	switch req.Action {
	case "read":
		value, err := b.Read(ctx, ReadRequest{Reference: req.Reference, Reason: req.Reason})
		if err != nil {
			return map[string]interface{}{"error": err.Error()}, nil
		}
		return map[string]interface{}{"value": value}, nil

	case "ping":
		return map[string]interface{}{"status": "ok", "pending": b.Pending()}, nil

	case "status":
		return map[string]interface{}{
			"status":        "running",
			"pending":       b.Pending(),
			"cacheSize":     b.CacheSize(),
			"uptimeSeconds": b.Uptime().Seconds(),
			"channels":      b.ChannelNames(),
			"provider":      b.providerName,
		}, nil

	default:
		return nil, fmt.Errorf("Unknown action: %s", req.Action)
	}
}
