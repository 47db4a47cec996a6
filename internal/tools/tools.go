// Package tools implements the bounded toolbox an Actor can invoke: a
// registry of named handlers with JSON-schema-validated arguments, and a
// concurrent dispatcher that fans out a batch of tool calls while
// preserving per-call result ordering.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/coactrun/coact/internal/telemetry"
)

// maxToolFanout bounds concurrent tool-call dispatch within a single
// model turn, the Go realization of the original's
// ThreadPoolExecutor(max_workers=...) fan-out.
const maxToolFanout = 8

// Handler executes a single tool invocation. args is the raw JSON object
// decoded from the model's tool-call arguments; the returned string is fed
// back to the model as the tool result content.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Spec describes a registered tool: its name, natural-language description
// (shown to the model), and JSON-schema describing its arguments.
type Spec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ErrDuplicateTool is returned by Register when a tool name is already
// registered. Duplicate registration is treated as a programming error
// rather than a silent overwrite (see DESIGN.md Open Question #3).
type ErrDuplicateTool struct{ Name string }

func (e *ErrDuplicateTool) Error() string {
	return fmt.Sprintf("tool %q is already registered", e.Name)
}

// ErrUnknownTool is returned when a tool call references a name that was
// never registered.
type ErrUnknownTool struct{ Name string }

func (e *ErrUnknownTool) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

type entry struct {
	spec    Spec
	handler Handler
	schema  *jsonschema.Schema
}

// Registry holds the bounded set of tools available to an Actor for one
// run. It is safe for concurrent registration and lookup, though in
// practice tools are registered once at startup before any Actor runs.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	metrics telemetry.Metrics
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// SetMetrics attaches a Metrics recorder used to time each dispatched tool
// call. Safe to skip; a Registry with no Metrics attached simply records
// nothing.
func (r *Registry) SetMetrics(m telemetry.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// Register adds a tool, compiling its JSON schema up front so malformed
// schemas fail fast at startup rather than at first invocation.
func (r *Registry) Register(spec Spec, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[spec.Name]; exists {
		return &ErrDuplicateTool{Name: spec.Name}
	}

	var schema *jsonschema.Schema
	if len(spec.Schema) > 0 {
		var doc any
		if err := json.Unmarshal(spec.Schema, &doc); err != nil {
			return fmt.Errorf("tool %q: invalid schema JSON: %w", spec.Name, err)
		}
		c := jsonschema.NewCompiler()
		resourceName := spec.Name + ".schema.json"
		if err := c.AddResource(resourceName, doc); err != nil {
			return fmt.Errorf("tool %q: add schema resource: %w", spec.Name, err)
		}
		compiled, err := c.Compile(resourceName)
		if err != nil {
			return fmt.Errorf("tool %q: compile schema: %w", spec.Name, err)
		}
		schema = compiled
	}

	r.entries[spec.Name] = &entry{spec: spec, handler: handler, schema: schema}
	r.order = append(r.order, spec.Name)
	return nil
}

// Specs returns the registered tool specs in registration order, suitable
// for passing to llmclient.ChatWithTools.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.entries[name].spec)
	}
	return specs
}

// Validate checks args against the named tool's JSON schema, if one was
// provided at registration. A tool registered without a schema accepts any
// arguments.
func (r *Registry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return &ErrUnknownTool{Name: name}
	}
	if e.schema == nil {
		return nil
	}
	return e.schema.Validate(args)
}

// Call invokes the named tool's handler. It does not validate arguments;
// callers that want schema enforcement should call Validate first (the
// Dispatcher does both).
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return "", &ErrUnknownTool{Name: name}
	}
	return e.handler(ctx, args)
}

// Request is one tool invocation awaiting dispatch.
type Request struct {
	ID            string
	Name          string
	ArgumentsJSON string
}

// Result is the outcome of one dispatched tool invocation, positionally
// aligned with the originating Request.
type Result struct {
	ID      string
	Name    string
	Content string
	Err     error
}

// Dispatch runs each request's handler concurrently, bounded by
// maxToolFanout via golang.org/x/sync/errgroup.Group + semaphore.Weighted,
// validating arguments against the tool's schema first, and returns
// results in the same order as requests — matching the original's
// ThreadPoolExecutor fan-out where results are collected in submission
// order, not completion order. Handler panics and errors are captured as a
// Result.Err/Content rather than propagated, so one failing tool call
// never aborts its siblings; results are only written before the errgroup
// returns, so the slice needs no lock of its own.
func (r *Registry) Dispatch(ctx context.Context, requests []Request) []Result {
	results := make([]Result, len(requests))
	if len(requests) == 0 {
		return results
	}

	limit := len(requests)
	if limit > maxToolFanout {
		limit = maxToolFanout
	}
	sem := semaphore.NewWeighted(int64(limit))

	g, gctx := errgroup.WithContext(ctx)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				results[i] = Result{ID: req.ID, Name: req.Name, Err: err, Content: fmt.Sprintf("Execution error: %v", err)}
				return nil
			}
			defer sem.Release(1)
			results[i] = r.dispatchOne(gctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Registry) dispatchOne(ctx context.Context, req Request) (result Result) {
	result = Result{ID: req.ID, Name: req.Name}
	defer func() {
		if rec := recover(); rec != nil {
			result.Content = fmt.Sprintf("Execution error: %v", rec)
			result.Err = fmt.Errorf("tool %q panicked: %v", req.Name, rec)
		}
	}()

	r.mu.RLock()
	metrics := r.metrics
	r.mu.RUnlock()

	_ = telemetry.Timed(metrics, "tool."+req.Name, nil, func() error {
		var args map[string]any
		if req.ArgumentsJSON != "" {
			if err := json.Unmarshal([]byte(req.ArgumentsJSON), &args); err != nil {
				result.Content = fmt.Sprintf("Execution error: invalid arguments JSON: %v", err)
				result.Err = err
				return err
			}
		}

		if err := r.Validate(req.Name, args); err != nil {
			result.Content = fmt.Sprintf("Execution error: %v", err)
			result.Err = err
			return err
		}

		content, err := r.Call(ctx, req.Name, args)
		if err != nil {
			result.Content = fmt.Sprintf("Execution error: %v", err)
			result.Err = err
			return err
		}
		result.Content = content
		return nil
	})
	return result
}
