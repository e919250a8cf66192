package hass

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Response type discriminators received from the gateway.
const (
	TypeAuthRequired = "auth_required"
	TypeAuthOK       = "auth_ok"
	TypeAuthInvalid  = "auth_invalid"
	TypeResult       = "result"
	TypePong         = "pong"
	TypeEvent        = "event"
)

// Response is one inbound frame. Type selects which of the remaining fields
// are meaningful:
//
//   - auth_required, auth_ok: HAVersion
//   - auth_invalid: Message
//   - result: ID, Success, Result, Error
//   - pong: ID
//   - event: ID (the subscription identifier), Event
type Response struct {
	ID        *uint64         `json:"id,omitempty"`
	Type      string          `json:"type"`
	Success   bool            `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
	Event     json.RawMessage `json:"event,omitempty"`
	Message   string          `json:"message,omitempty"`
	HAVersion string          `json:"ha_version,omitempty"`
}

// ErrorInfo is the {code, message} pair of a failed result.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UnmarshalJSON accepts a numeric or string code.
func (e *ErrorInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Message = raw.Message
	e.Code = ""

	code := bytes.TrimSpace(raw.Code)
	switch {
	case len(code) == 0 || bytes.Equal(code, []byte("null")):
	case code[0] == '"':
		if err := json.Unmarshal(code, &e.Code); err != nil {
			return err
		}
	default:
		var n json.Number
		if err := json.Unmarshal(code, &n); err != nil {
			return fmt.Errorf("error code: %w", err)
		}
		e.Code = n.String()
	}
	return nil
}

// MessageID returns the frame identifier, if any.
func (r *Response) MessageID() (uint64, bool) {
	if r.ID == nil {
		return 0, false
	}
	return *r.ID, true
}

// IsAuth reports whether the frame belongs to the handshake.
func (r *Response) IsAuth() bool {
	switch r.Type {
	case TypeAuthRequired, TypeAuthOK, TypeAuthInvalid:
		return true
	}
	return false
}

// decodeResponse parses one inbound frame and checks that it has the shape
// its type requires. When the frame is valid JSON carrying a numeric id but
// is otherwise unusable, the id is returned alongside the error so the
// failure can be delivered to that caller only.
func decodeResponse(data []byte) (*Response, *uint64, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, salvageID(data), fmt.Errorf("%w: %w", ErrDecode, err)
	}

	switch resp.Type {
	case TypeAuthRequired, TypeAuthOK, TypeAuthInvalid:
		return &resp, nil, nil
	case TypeResult, TypePong:
		if resp.ID == nil {
			return nil, nil, fmt.Errorf("%w: %s frame without id", ErrDecode, resp.Type)
		}
	case TypeEvent:
		if resp.ID == nil {
			return nil, nil, fmt.Errorf("%w: event frame without subscription id", ErrDecode)
		}
		if len(resp.Event) == 0 {
			return nil, nil, fmt.Errorf("%w: event frame without payload", ErrDecode)
		}
	case "":
		return nil, resp.ID, fmt.Errorf("%w: frame without type", ErrDecode)
	default:
		return nil, resp.ID, fmt.Errorf("%w: unknown frame type %q", ErrDecode, resp.Type)
	}

	return &resp, nil, nil
}

// salvageID extracts a top-level numeric id from a frame that failed to
// decode as a Response. It returns nil if there is none.
func salvageID(data []byte) *uint64 {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	raw, ok := fields["id"]
	if !ok {
		return nil
	}
	id, err := strconv.ParseUint(string(bytes.TrimSpace(raw)), 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

// checkResult turns a result frame into an error if the gateway reported
// failure, or if the frame is not a result at all.
func checkResult(resp *Response) error {
	if resp.Type != TypeResult {
		return fmt.Errorf("%w: got %q, want %q", ErrUnexpectedPayload, resp.Type, TypeResult)
	}
	if !resp.Success {
		return gatewayError(resp)
	}
	return nil
}

func gatewayError(resp *Response) *GatewayError {
	ge := &GatewayError{}
	if id, ok := resp.MessageID(); ok {
		ge.ID = id
	}
	if resp.Error != nil {
		ge.Code = resp.Error.Code
		ge.Message = resp.Error.Message
	}
	return ge
}
