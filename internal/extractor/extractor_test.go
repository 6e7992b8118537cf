package extractor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/m-mizutani/gollem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/paperdex/internal/metrics"
	"github.com/dshills/paperdex/internal/throttle"
	"github.com/dshills/paperdex/pkg/types"
)

const validExtraction = `{"metadata":{"title":"Glacier retreat in the Alps","authors":[]},` +
	`"study":{"objectives":["measure retreat"]},` +
	`"findings":[{"statement":"Glaciers lost 30% of volume","type":"measurement"}],` +
	`"relationships":[]}`

// mockLLMSession is a mock gollem Session for testing
type mockLLMSession struct {
	generateContentFn func(ctx context.Context, input ...gollem.Input) (*gollem.Response, error)
}

func (s *mockLLMSession) GenerateContent(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
	if s.generateContentFn != nil {
		return s.generateContentFn(ctx, input...)
	}
	return &gollem.Response{Texts: []string{validExtraction}}, nil
}

func (s *mockLLMSession) GenerateStream(ctx context.Context, input ...gollem.Input) (<-chan *gollem.Response, error) {
	return nil, nil
}

func (s *mockLLMSession) Generate(ctx context.Context, input []gollem.Input, _ ...gollem.GenerateOption) (*gollem.Response, error) {
	return s.GenerateContent(ctx, input...)
}

func (s *mockLLMSession) Stream(ctx context.Context, input []gollem.Input, _ ...gollem.GenerateOption) (<-chan *gollem.Response, error) {
	return s.GenerateStream(ctx, input...)
}

func (s *mockLLMSession) History() (*gollem.History, error) {
	return nil, nil
}

func (s *mockLLMSession) AppendHistory(*gollem.History) error {
	return nil
}

func (s *mockLLMSession) CountToken(ctx context.Context, input ...gollem.Input) (int, error) {
	return 0, nil
}

// mockLLMClient is a mock gollem LLMClient for testing
type mockLLMClient struct {
	newSessionFn func(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error)
	sessions     atomic.Int32
}

func (c *mockLLMClient) NewSession(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
	c.sessions.Add(1)
	if c.newSessionFn != nil {
		return c.newSessionFn(ctx, options...)
	}
	return &mockLLMSession{}, nil
}

func (c *mockLLMClient) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	return nil, nil
}

func respond(texts ...string) *mockLLMClient {
	return &mockLLMClient{
		newSessionFn: func(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
			return &mockLLMSession{
				generateContentFn: func(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
					return &gollem.Response{Texts: texts}, nil
				},
			}, nil
		},
	}
}

var paper = Document{Name: "alps.pdf", Path: "/papers/alps.pdf", Text: "The glaciers retreated."}

func TestExtract_Success(t *testing.T) {
	var got string
	client := &mockLLMClient{
		newSessionFn: func(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
			return &mockLLMSession{
				generateContentFn: func(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
					require.Len(t, input, 1)
					text, ok := input[0].(gollem.Text)
					require.True(t, ok)
					got = string(text)
					return &gollem.Response{Texts: []string{validExtraction}}, nil
				},
			}, nil
		},
	}

	out, err := New(client).Extract(context.Background(), paper, "Summarize:")
	require.NoError(t, err)
	assert.JSONEq(t, validExtraction, out)
	assert.Equal(t, "Summarize:\n\nThe glaciers retreated.", got)
}

func TestExtract_StripsFences(t *testing.T) {
	client := respond("```json\n" + validExtraction + "\n```")

	out, err := New(client).Extract(context.Background(), paper, DefaultPrompt)
	require.NoError(t, err)
	assert.JSONEq(t, validExtraction, out)
}

func TestExtract_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
	}{
		{"no texts", nil},
		{"blank", []string{"   "}},
		{"not json", []string{"Here is the summary you asked for."}},
		{"missing study", []string{`{"metadata":{"title":"x"},"findings":[{"statement":"y"}]}`}},
		{"empty title", []string{`{"metadata":{"title":""},"study":{},"findings":[{"statement":"y"}]}`}},
		{"no findings", []string{`{"metadata":{"title":"x"},"study":{},"findings":[]}`}},
		{"findings not list", []string{`{"metadata":{"title":"x"},"study":{},"findings":"none"}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(respond(tt.texts...)).Extract(context.Background(), paper, "p")
			assert.ErrorIs(t, err, types.ErrMalformedOutput)
		})
	}
}

func TestExtract_InvalidInput(t *testing.T) {
	client := &mockLLMClient{}
	e := New(client)

	_, err := e.Extract(context.Background(), Document{Name: "empty"}, "p")
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	_, err = e.Extract(context.Background(), paper, " ")
	assert.ErrorIs(t, err, types.ErrInvalidParameter)

	assert.Zero(t, client.sessions.Load())
}

func TestExtract_ModelErrorIsTransient(t *testing.T) {
	boom := errors.New("backend unavailable")
	client := &mockLLMClient{
		newSessionFn: func(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
			return &mockLLMSession{
				generateContentFn: func(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
					return nil, boom
				},
			}, nil
		},
	}
	th := throttle.Unlimited()

	_, err := New(client, WithThrottle(th)).Extract(context.Background(), paper, "p")
	assert.ErrorIs(t, err, types.ErrTransient)
	assert.ErrorIs(t, err, boom)
	assert.False(t, th.BackingOff())
}

func TestExtract_SessionError(t *testing.T) {
	client := &mockLLMClient{
		newSessionFn: func(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
			return nil, errors.New("no credentials")
		},
	}

	_, err := New(client).Extract(context.Background(), paper, "p")
	assert.ErrorIs(t, err, types.ErrTransient)
}

func TestExtract_RateLimitPausesThrottle(t *testing.T) {
	client := &mockLLMClient{
		newSessionFn: func(ctx context.Context, options ...gollem.SessionOption) (gollem.Session, error) {
			return &mockLLMSession{
				generateContentFn: func(ctx context.Context, input ...gollem.Input) (*gollem.Response, error) {
					return nil, errors.New("googleapi: Error 429: Resource exhausted")
				},
			}, nil
		},
	}
	th := throttle.Unlimited()

	_, err := New(client, WithThrottle(th)).Extract(context.Background(), paper, "p")
	assert.ErrorIs(t, err, types.ErrTransient)
	assert.True(t, th.BackingOff())
}

func TestExtract_Metrics(t *testing.T) {
	m := metrics.New()

	_, err := New(respond(validExtraction), WithMetrics(m)).Extract(context.Background(), paper, "p")
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "paperdex_external_call_duration_seconds" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"  {\"a\":1}\n", `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```\n", `{"a":1}`},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanResponse(tt.in), "input %q", tt.in)
	}
}

func TestValidateExtraction(t *testing.T) {
	require.NoError(t, ValidateExtraction(validExtraction))

	err := ValidateExtraction(`[1,2]`)
	assert.ErrorIs(t, err, types.ErrMalformedOutput)

	err = ValidateExtraction(strings.Replace(validExtraction, `"study":{"objectives":["measure retreat"]}`, `"study":null`, 1))
	assert.ErrorIs(t, err, types.ErrMalformedOutput)
}

func TestDefaultPrompts(t *testing.T) {
	prompts := DefaultPrompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, SummaryComprehensive, prompts[0].SummaryType)
	assert.Contains(t, prompts[0].Text, `"findings"`)
}
