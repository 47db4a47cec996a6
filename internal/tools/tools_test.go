package tools_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coactrun/coact/internal/telemetry"
	"github.com/coactrun/coact/internal/tools"
)

func echoHandler(ctx context.Context, args map[string]any) (string, error) {
	return args["text"].(string), nil
}

func TestRegisterAndCall(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(tools.Spec{Name: "echo"}, echoHandler))

	out, err := r.Call(context.Background(), "echo", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestRegisterDuplicateReturnsError(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(tools.Spec{Name: "echo"}, echoHandler))
	err := r.Register(tools.Spec{Name: "echo"}, echoHandler)
	require.Error(t, err)
	assert.IsType(t, &tools.ErrDuplicateTool{}, err)
}

func TestCallUnknownToolReturnsError(t *testing.T) {
	r := tools.NewRegistry()
	_, err := r.Call(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.IsType(t, &tools.ErrUnknownTool{}, err)
}

func TestValidateRejectsArgumentsViolatingSchema(t *testing.T) {
	r := tools.NewRegistry()
	schema := []byte(`{
		"type": "object",
		"properties": {"text": {"type": "string"}},
		"required": ["text"]
	}`)
	require.NoError(t, r.Register(tools.Spec{Name: "echo", Schema: schema}, echoHandler))

	require.NoError(t, r.Validate("echo", map[string]any{"text": "hi"}))
	assert.Error(t, r.Validate("echo", map[string]any{}))
}

func TestDispatchPreservesRequestOrderAndIsolatesFailures(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(tools.Spec{Name: "echo"}, echoHandler))

	requests := []tools.Request{
		{ID: "1", Name: "echo", ArgumentsJSON: `{"text":"a"}`},
		{ID: "2", Name: "missing"},
		{ID: "3", Name: "echo", ArgumentsJSON: `{"text":"c"}`},
	}
	results := r.Dispatch(context.Background(), requests)

	require.Len(t, results, 3)
	assert.Equal(t, "1", results[0].ID)
	assert.Equal(t, "a", results[0].Content)
	assert.NoError(t, results[0].Err)

	assert.Equal(t, "2", results[1].ID)
	assert.Error(t, results[1].Err)

	assert.Equal(t, "3", results[2].ID)
	assert.Equal(t, "c", results[2].Content)
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(tools.Spec{Name: "boom"}, func(ctx context.Context, args map[string]any) (string, error) {
		panic("kaboom")
	}))

	results := r.Dispatch(context.Background(), []tools.Request{{ID: "1", Name: "boom"}})
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Content, "kaboom")
}

func TestDispatchBoundsConcurrentFanout(t *testing.T) {
	r := tools.NewRegistry()
	var inFlight, maxInFlight int64
	require.NoError(t, r.Register(tools.Spec{Name: "slow"}, func(ctx context.Context, args map[string]any) (string, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			cur := atomic.LoadInt64(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt64(&maxInFlight, cur, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return "done", nil
	}))

	requests := make([]tools.Request, 20)
	for i := range requests {
		requests[i] = tools.Request{ID: "req", Name: "slow"}
	}

	results := r.Dispatch(context.Background(), requests)
	require.Len(t, results, 20)
	assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(8))
}

func TestDispatchRecordsTimingWhenMetricsAttached(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(tools.Spec{Name: "echo"}, echoHandler))

	var calls int
	var lastName string
	r.SetMetrics(&recordingMetrics{onTimer: func(name string) { calls++; lastName = name }})

	_ = r.Dispatch(context.Background(), []tools.Request{{ID: "1", Name: "echo", ArgumentsJSON: `{"text":"hi"}`}})
	assert.Equal(t, 1, calls)
	assert.Equal(t, "tool.echo", lastName)
}

type recordingMetrics struct {
	onTimer func(name string)
}

func (m *recordingMetrics) IncCounter(string, float64, ...string)          {}
func (m *recordingMetrics) RecordGauge(string, float64, ...string)        {}
func (m *recordingMetrics) RecordTimer(name string, _ time.Duration, _ ...string) {
	m.onTimer(name)
}

var _ telemetry.Metrics = (*recordingMetrics)(nil)
