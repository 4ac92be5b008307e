package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider replays a fixed list of chunks
type scriptedProvider struct {
	chunks  []StreamChunk
	panicAt int
	gotReq  *UnifiedRequest
}

func (s *scriptedProvider) Stream(ctx context.Context, req *UnifiedRequest, stream chan<- StreamChunk) error {
	defer close(stream)
	s.gotReq = req
	for i, chunk := range s.chunks {
		if s.panicAt > 0 && i == s.panicAt {
			panic("boom")
		}
		stream <- chunk
		if chunk.Error != nil {
			return chunk.Error
		}
	}
	return nil
}

func (s *scriptedProvider) GetInfo() ProviderInfo {
	return ProviderInfo{Name: "scripted"}
}

func drain(ch <-chan Fragment) []Fragment {
	var out []Fragment
	for f := range ch {
		out = append(out, f)
	}
	return out
}

func TestRelayYieldsFragmentsInOrder(t *testing.T) {
	p := &scriptedProvider{chunks: []StreamChunk{{Data: "We're "}, {Data: "open 9-5."}, {Done: true}}}
	relay := NewRelay(p, RelayConfig{}, zerolog.Nop())

	frags := drain(relay.Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}))

	assert.Equal(t, []Fragment{{Text: "We're "}, {Text: "open 9-5."}}, frags)
	require.NotNil(t, p.gotReq)
	assert.Equal(t, DefaultModel, p.gotReq.Model)
	assert.True(t, p.gotReq.Stream)
}

func TestRelayConvertsUpstreamErrorToSingleFragment(t *testing.T) {
	upstream := &APIError{StatusCode: 429, Message: "quota exceeded"}
	p := &scriptedProvider{chunks: []StreamChunk{{Data: "partial"}, {Error: upstream}}}
	relay := NewRelay(p, RelayConfig{Model: "m"}, zerolog.Nop())

	frags := drain(relay.Stream(context.Background(), nil))

	require.Len(t, frags, 2)
	assert.Equal(t, "partial", frags[0].Text)
	assert.Equal(t, "OpenAI service error: Error code: 429 - quota exceeded", frags[1].Text)
	assert.True(t, errors.Is(frags[1].Err, upstream))
}

func TestRelayErrorBeforeAnyData(t *testing.T) {
	p := &scriptedProvider{chunks: []StreamChunk{{Error: errors.New("bad state")}}}
	relay := NewRelay(p, RelayConfig{}, zerolog.Nop())

	frags := drain(relay.Stream(context.Background(), nil))

	require.Len(t, frags, 1)
	assert.Equal(t, "Unexpected error occurred: bad state", frags[0].Text)
	assert.Error(t, frags[0].Err)
}

func TestRelayRecoversProviderPanic(t *testing.T) {
	p := &scriptedProvider{chunks: []StreamChunk{{Data: "a"}, {Data: "b"}}, panicAt: 1}
	relay := NewRelay(p, RelayConfig{}, zerolog.Nop())

	frags := drain(relay.Stream(context.Background(), nil))

	require.Len(t, frags, 2)
	assert.Equal(t, "a", frags[0].Text)
	assert.True(t, strings.HasPrefix(frags[1].Text, LabelUnexpectedError+": provider panic"))
}

// leakyProvider panics without closing its channel
type leakyProvider struct{}

func (leakyProvider) Stream(ctx context.Context, req *UnifiedRequest, stream chan<- StreamChunk) error {
	stream <- StreamChunk{Data: "partial"}
	panic("no close")
}

func (leakyProvider) GetInfo() ProviderInfo { return ProviderInfo{Name: "leaky"} }

func TestRelayEndsWhenProviderNeverCloses(t *testing.T) {
	relay := NewRelay(leakyProvider{}, RelayConfig{}, zerolog.Nop())

	frags := drain(relay.Stream(context.Background(), nil))

	require.Len(t, frags, 2)
	assert.Equal(t, "partial", frags[0].Text)
	assert.Error(t, frags[1].Err)
}

func TestRelayAgainstHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	relay := NewRelay(NewOpenAIProvider(server.URL, "", nil, zerolog.Nop()), RelayConfig{}, zerolog.Nop())
	frags := drain(relay.Stream(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}))

	require.Len(t, frags, 1)
	assert.Equal(t, "OpenAI service error: Error code: 502 - upstream down", frags[0].Text)
}

func TestDescribeDeadline(t *testing.T) {
	assert.Equal(t,
		"OpenAI service error: context deadline exceeded",
		Describe(context.DeadlineExceeded))
}

func TestRelayReportsProvider(t *testing.T) {
	relay := NewRelay(&scriptedProvider{}, RelayConfig{Model: "gpt-4o"}, zerolog.Nop())

	assert.Equal(t, ProviderInfo{Name: "scripted"}, relay.Provider())
	assert.Equal(t, "gpt-4o", relay.Model())
}
