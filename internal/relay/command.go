package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/hasslink/internal/journal"
	"github.com/nerrad567/hasslink/pkg/hass"
)

// Error codes reported in CommandResult for failures hasslink detects
// itself. Gateway failures carry the gateway's own code.
const (
	CodeInvalidRequest = "invalid_request"
	CodeTimeout        = "timeout"
	CodeUnavailable    = "gateway_unavailable"
	CodeUnknown        = "unknown_error"
)

var (
	// ErrInvalidCommand is returned for call_service payloads that cannot be relayed.
	ErrInvalidCommand = errors.New("relay: invalid call_service command")

	// ErrCommandQueueFull is returned to the MQTT handler when the command
	// worker is too far behind to accept another call.
	ErrCommandQueueFull = errors.New("relay: command queue full")
)

// CommandRequest is the payload accepted on <prefix>/command/call_service.
type CommandRequest struct {
	// RequestID is echoed in the result so the caller can match it.
	RequestID   string          `json:"request_id,omitempty"`
	Domain      string          `json:"domain"`
	Service     string          `json:"service"`
	ServiceData json.RawMessage `json:"service_data,omitempty"`
}

// CommandError describes why a command failed.
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CommandResult is published on <prefix>/command/result.
type CommandResult struct {
	RequestID  string          `json:"request_id,omitempty"`
	Domain     string          `json:"domain"`
	Service    string          `json:"service"`
	Success    bool            `json:"success"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *CommandError   `json:"error,omitempty"`
	DurationMS int64           `json:"duration_ms"`
}

// ParseCommand decodes and validates a call_service payload.
func ParseCommand(payload []byte) (*CommandRequest, error) {
	var req CommandRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if req.Domain == "" || req.Service == "" {
		return &req, fmt.Errorf("%w: domain and service are required", ErrInvalidCommand)
	}
	if data := bytes.TrimSpace(req.ServiceData); len(data) > 0 && data[0] != '{' && !bytes.Equal(data, []byte("null")) {
		return &req, fmt.Errorf("%w: service_data must be an object", ErrInvalidCommand)
	}
	return &req, nil
}

// HandleCommand relays one call_service payload to the gateway and
// publishes the outcome. The returned error is non-nil when the call did
// not succeed; the result is always published when MQTT is configured.
func (r *Relay) HandleCommand(ctx context.Context, payload []byte) (*CommandResult, error) {
	r.commandsHandled.Add(1)
	started := r.now()

	req, err := ParseCommand(payload)
	if err != nil {
		result := &CommandResult{Error: &CommandError{Code: CodeInvalidRequest, Message: err.Error()}}
		if req != nil {
			result.RequestID, result.Domain, result.Service = req.RequestID, req.Domain, req.Service
		}
		r.finish(ctx, req, result, started)
		return result, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	var data any
	if d := bytes.TrimSpace(req.ServiceData); len(d) > 0 && !bytes.Equal(d, []byte("null")) {
		data = req.ServiceData
	}

	raw, err := r.gw.CallService(callCtx, req.Domain, req.Service, data)

	result := &CommandResult{
		RequestID: req.RequestID,
		Domain:    req.Domain,
		Service:   req.Service,
		Success:   err == nil,
	}
	if err == nil {
		result.Result = raw
	} else {
		result.Error = commandError(err)
	}
	r.finish(ctx, req, result, started)

	if err != nil {
		return result, fmt.Errorf("calling %s.%s: %w", req.Domain, req.Service, err)
	}
	r.logger.Info("service called", "domain", req.Domain, "service", req.Service, "duration_ms", result.DurationMS)
	return result, nil
}

// finish publishes, journals and records the outcome of one command.
func (r *Relay) finish(ctx context.Context, req *CommandRequest, result *CommandResult, started time.Time) {
	duration := r.now().Sub(started)
	result.DurationMS = duration.Milliseconds()

	if !result.Success {
		r.commandsFailed.Add(1)
		r.logger.Warn("service call failed",
			"domain", result.Domain,
			"service", result.Service,
			"code", result.Error.Code,
			"error", result.Error.Message,
		)
	}

	if r.cfg.Publisher != nil {
		r.publish(r.cfg.Publisher.Topics().CommandResult(), result, false)
	}

	// Requests too malformed to name a service are not worth a row.
	if req == nil || result.Domain == "" || result.Service == "" {
		return
	}

	if r.cfg.States != nil {
		r.cfg.States.WriteServiceCall(result.Domain, result.Service, result.Success, duration)
	}

	if r.cfg.Journal != nil {
		call := &journal.ServiceCall{
			Domain:      result.Domain,
			Service:     result.Service,
			ServiceData: req.ServiceData,
			Success:     result.Success,
			RequestedAt: started,
			Duration:    duration,
		}
		if result.Error != nil {
			call.ErrorCode = result.Error.Code
			call.ErrorMessage = result.Error.Message
		}

		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
		defer cancel()
		if err := r.cfg.Journal.RecordCall(jctx, call); err != nil {
			r.journalErrors.Add(1)
			r.logger.Warn("recording service call failed", "error", err)
		}
	}
}

// commandError maps a CallService failure onto a result error.
func commandError(err error) *CommandError {
	var gwErr *hass.GatewayError
	switch {
	case errors.As(err, &gwErr):
		return &CommandError{Code: gwErr.Code, Message: gwErr.Message}
	case errors.Is(err, context.DeadlineExceeded):
		return &CommandError{Code: CodeTimeout, Message: err.Error()}
	case errors.Is(err, hass.ErrTransportClosed), errors.Is(err, hass.ErrTransport), errors.Is(err, hass.ErrNotAuthenticated):
		return &CommandError{Code: CodeUnavailable, Message: err.Error()}
	case errors.Is(err, hass.ErrEncode):
		return &CommandError{Code: CodeInvalidRequest, Message: err.Error()}
	default:
		return &CommandError{Code: CodeUnknown, Message: err.Error()}
	}
}
