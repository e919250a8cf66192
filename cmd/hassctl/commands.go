package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/nerrad567/hasslink/pkg/hass"
)

// env is what a command runs against.
type env struct {
	client  *hass.Client
	args    []string
	stdout  io.Writer
	stderr  io.Writer
	timeout time.Duration
}

// request returns a context bounded by the request timeout.
func (e *env) request(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeout)
}

type command func(ctx context.Context, e *env) error

var commands = map[string]command{
	"ping":     runPing,
	"config":   fetch((*hass.Client).GetConfig),
	"states":   runStates,
	"services": runServices,
	"panels":   fetch((*hass.Client).GetPanels),
	"areas":    fetch((*hass.Client).GetAreas),
	"devices":  fetch((*hass.Client).GetDevices),
	"entities": fetch((*hass.Client).GetEntities),
	"call":     runCall,
	"watch":    runWatch,
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// fetch adapts a no-argument getter into a command that prints its result.
func fetch[T any](get func(*hass.Client, context.Context) (T, error)) command {
	return func(ctx context.Context, e *env) error {
		if len(e.args) > 0 {
			return fmt.Errorf("%w: unexpected arguments %v", errUsage, e.args)
		}
		ctx, cancel := e.request(ctx)
		defer cancel()

		v, err := get(e.client, ctx)
		if err != nil {
			return err
		}
		return printJSON(e.stdout, v)
	}
}

func runPing(ctx context.Context, e *env) error {
	ctx, cancel := e.request(ctx)
	defer cancel()

	start := time.Now()
	if err := e.client.Ping(ctx); err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "pong from %s in %s\n", e.client.GatewayVersion(), time.Since(start).Round(time.Microsecond))
	return nil
}

// runStates prints entity states sorted by entity id. Arguments are entity
// id prefixes; a state matching any of them is printed.
func runStates(ctx context.Context, e *env) error {
	ctx, cancel := e.request(ctx)
	defer cancel()

	states, err := e.client.GetStates(ctx)
	if err != nil {
		return err
	}

	filtered := states[:0]
	for _, s := range states {
		if matchesPrefix(s.EntityID, e.args) {
			filtered = append(filtered, s)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].EntityID < filtered[j].EntityID })
	return printJSON(e.stdout, filtered)
}

// runServices prints the service catalog, limited to the given domains.
func runServices(ctx context.Context, e *env) error {
	ctx, cancel := e.request(ctx)
	defer cancel()

	services, err := e.client.GetServices(ctx)
	if err != nil {
		return err
	}
	if len(e.args) == 0 {
		return printJSON(e.stdout, services)
	}

	selected := make(hass.Services, len(e.args))
	for _, domain := range e.args {
		if svc, ok := services[domain]; ok {
			selected[domain] = svc
		}
	}
	return printJSON(e.stdout, selected)
}

// runCall calls <domain>.<service> with optional JSON object service data
// and prints the gateway's result.
func runCall(ctx context.Context, e *env) error {
	if len(e.args) < 2 || len(e.args) > 3 {
		return fmt.Errorf("%w: call <domain> <service> [service_data_json]", errUsage)
	}
	domain, service := e.args[0], e.args[1]

	var data any
	if len(e.args) == 3 {
		var obj map[string]any
		if err := json.Unmarshal([]byte(e.args[2]), &obj); err != nil {
			return fmt.Errorf("%w: service data must be a JSON object: %w", errUsage, err)
		}
		data = obj
	}

	ctx, cancel := e.request(ctx)
	defer cancel()

	result, err := e.client.CallService(ctx, domain, service, data)
	if err != nil {
		var gwErr *hass.GatewayError
		if errors.As(err, &gwErr) {
			return fmt.Errorf("%s.%s failed: %s (%s)", domain, service, gwErr.Message, gwErr.Code)
		}
		return err
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	return printJSON(e.stdout, result)
}

// runWatch subscribes to one event type (all events when omitted) and
// prints each event's raw payload on its own line until interrupted or
// -n events have been printed.
func runWatch(ctx context.Context, e *env) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(e.stderr)
	count := fs.Int("n", 0, "stop after this many events (0 = unlimited)")
	if err := fs.Parse(e.args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("%w: watch [-n count] [event_type]", errUsage)
	}

	subCtx, cancel := e.request(ctx)
	sub, err := e.client.Subscribe(subCtx, fs.Arg(0))
	cancel()
	if err != nil {
		return err
	}

	seen := 0
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					return fmt.Errorf("subscription ended: %w", err)
				}
				return nil
			}
			if _, err := fmt.Fprintf(e.stdout, "%s\n", ev.Raw); err != nil {
				return err
			}
			seen++
			if *count > 0 && seen >= *count {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func matchesPrefix(id string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}
