package facts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coactrun/coact/internal/facts"
	"github.com/coactrun/coact/internal/llmclient"
	"github.com/coactrun/coact/internal/plan"
)

type fakeProvider struct {
	response string
}

func (f *fakeProvider) Complete(ctx context.Context, model string, messages []llmclient.Message, maxTokens int, temperature float64, thinkingMode bool) (string, error) {
	return f.response, nil
}

func (f *fakeProvider) CompleteWithTools(ctx context.Context, model string, messages []llmclient.Message, tools []llmclient.ToolSpec, maxTokens int, temperature float64, thinkingMode bool) (llmclient.AssistantMessage, error) {
	panic("not used")
}

func TestUpdateReplacesFactsWithSynthesizedText(t *testing.T) {
	provider := &fakeProvider{response: "the report's target audience is executives"}
	llm := llmclient.New(provider, llmclient.DefaultConfig(), nil, nil, nil)
	tracker := facts.New(llm)

	p := plan.New("write a report")
	require.NoError(t, p.Update("write a report", []string{"gather"}, nil))

	require.NoError(t, tracker.Update(context.Background(), p, "found audience is executives"))
	assert.Equal(t, "the report's target audience is executives", p.Facts())
}
