package oracle

import (
	"encoding/json"
	"fmt"
)

// Request is a JSON-lines request sent to the domain bridge.
type Request struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-lines response from the domain bridge.
type Response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo contains error details reported by the bridge.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("domain bridge error %d: %s", e.Code, e.Message)
}

// Error codes reported by the bridge.
const (
	ErrCodeParse    = -32700 // Invalid JSON
	ErrCodeMethod   = -32601 // Method not found
	ErrCodeParams   = -32602 // Invalid params
	ErrCodeInternal = -32603 // Domain function raised
)

// Bridge methods.
const (
	methodCapacity   = "capacity"
	methodDistance   = "distance"
	methodDistances  = "distances"
	methodRangeMatch = "range_match"
	methodShutdown   = "shutdown"
)

// CapacityParams contains parameters for the "capacity" method.
type CapacityParams struct {
	Formula string `json:"formula"`
}

// DistanceParams contains parameters for the "distance" method.
type DistanceParams struct {
	A string `json:"a"`
	B string `json:"b"`
}

// DistancesParams contains parameters for the "distances" method.
type DistancesParams struct {
	Target   string   `json:"target"`
	Formulas []string `json:"formulas"`
}

// RangeMatchParams contains parameters for the "range_match" method.
type RangeMatchParams struct {
	Formula string   `json:"formula"`
	Refs    []string `json:"refs"`
}

// ReadyResult is the first line the bridge writes after importing the
// domain module.
type ReadyResult struct {
	Ready  bool   `json:"ready"`
	Module string `json:"module"`
}

// encodeRequest creates a JSON-encoded request.
func encodeRequest(id int64, method string, params any) ([]byte, error) {
	req := Request{
		ID:     id,
		Method: method,
	}
	if params != nil {
		p, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = p
	}
	return json.Marshal(req)
}

// decodeResponse parses a JSON-encoded response.
func decodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}
