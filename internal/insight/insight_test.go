package insight

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fmeacore/pkg/domain"
)

type fakeCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []Request
	gate  chan struct{}
}

func (f *fakeCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.reply, f.err
}

func (f *fakeCompleter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func sampleSnapshot() Snapshot {
	n := 2
	return SnapshotOf("study-1", []domain.Item{
		{Base: domain.Base{ID: "i1"}, ItemFunction: "Seal", FailureMode: "Leak", Severity: 8, Occurrence: 5, Detection: 6, RPN: 240, Status: domain.ItemStatusOpen},
		{Base: domain.Base{ID: "i2"}, ItemFunction: "Pump", FailureMode: "Stall", Severity: 2, Occurrence: 2, Detection: 2, RPN: 8, NewSeverity: &n, Status: domain.ItemStatusOpen},
	})
}

func TestBuildRequestEmbedsSnapshot(t *testing.T) {
	req, err := BuildRequest(DirectiveRPNAlerts, sampleSnapshot())
	require.NoError(t, err)
	assert.Contains(t, req.System, "RPN threshold")
	assert.Contains(t, req.User, `"threshold":200`)
	assert.Contains(t, req.User, `"failure_mode":"Leak"`)
	assert.True(t, strings.HasSuffix(req.User, "Return JSON only."))
	assert.Equal(t, 400, req.MaxTokens)

	snap := sampleSnapshot()
	snap.Threshold = 100
	snap.Focus = "sealing"
	req, err = BuildRequest(DirectiveRPNAlerts, snap)
	require.NoError(t, err)
	assert.Contains(t, req.User, `"threshold":100`)
	assert.NotContains(t, req.User, "sealing")

	req, err = BuildRequest(DirectiveCauseEffect, snap)
	require.NoError(t, err)
	assert.Contains(t, req.User, `"focus":"sealing"`)

	_, err = BuildRequest("templates", snap)
	require.Error(t, err)
}

func TestParseDirectiveReplies(t *testing.T) {
	s := Parse(DirectiveRPNAlerts, `{"alerts":["Seal leak at 240", 7],"summary":"one item over"}`)
	assert.Equal(t, []string{"Seal leak at 240"}, s.Items)
	assert.Equal(t, "one item over", s.Text)
	assert.Empty(t, s.Raw)

	s = Parse(DirectiveFailureModes, `{"failure_modes":[{"item_function":"Seal","failure_mode":"Crack"},"junk",{"failure_mode":"Wear"}],"notes":["check supplier"]}`)
	assert.Equal(t, []string{"Seal: Crack", "Wear"}, s.Items)
	assert.Equal(t, "check supplier", s.Text)

	s = Parse(DirectiveCauseEffect, `{"insights":["a","b"],"recommended_controls":["poka-yoke"]}`)
	assert.Equal(t, "a\nb", s.Text)
	assert.Equal(t, []string{"poka-yoke"}, s.Items)

	s = Parse(DirectiveControlEffectiveness, `{"evaluations":[{"item_reference":"i1","recommendation":"add vision check"}],"summary":"weak"}`)
	assert.Equal(t, []string{"i1: Unknown - add vision check"}, s.Items)

	s = Parse(DirectiveRPNForecast, `{"projections":[{"item_reference":"i1","current_rpn":240,"projected_rpn":47.6,"recommendation":"x"}],"summary":"down"}`)
	require.Len(t, s.Projections, 1)
	assert.Equal(t, 240, *s.Projections[0].CurrentRPN)
	assert.Equal(t, 48, *s.Projections[0].ProjectedRPN)
	assert.Equal(t, []string{"i1"}, s.Items)
}

func TestParseKeepsNonObjectRepliesRaw(t *testing.T) {
	for _, reply := range []string{"Sorry, I cannot help.", `["a","b"]`, `{"broken":`} {
		s := Parse(DirectiveRPNAlerts, reply)
		assert.Equal(t, reply, s.Raw)
		assert.Empty(t, s.Items)
		assert.Equal(t, DirectiveRPNAlerts, s.Directive)
	}
}

func TestParseDirectiveNames(t *testing.T) {
	for _, d := range Directives() {
		got, err := ParseDirective(string(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
	_, err := ParseDirective("team_suggestions")
	assert.Error(t, err)
}

func TestOpenAIBackendCompletes(t *testing.T) {
	var got struct {
		Model string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"  {\"summary\":\"ok\"}  "},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	backend, err := NewOpenAIBackend("sk-test", "", srv.URL+"/v1/")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, backend.Model())
	reply, err := backend.Complete(context.Background(), Request{System: "sys", User: "usr", MaxTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok"}`, reply)
	assert.Equal(t, DefaultModel, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "usr", got.Messages[1].Content)

	_, err = NewOpenAIBackend(" ", "", "")
	assert.Error(t, err)
}

func TestOpenAIBackendNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[]}`)
	}))
	defer srv.Close()
	backend, err := NewOpenAIBackend("sk-test", "gpt-4o", srv.URL)
	require.NoError(t, err)
	_, err = backend.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestCachedCompleterServesRepeats(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	next := &fakeCompleter{reply: `{"summary":"cached"}`}
	cache := NewCachedCompleter(next, client, "", time.Minute)
	req := Request{System: "s", User: "u", MaxTokens: 5}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		reply, err := cache.Complete(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, `{"summary":"cached"}`, reply)
	}
	assert.Equal(t, 1, next.count())
	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "fmeacore:insight:"))
	assert.Greater(t, mr.TTL(keys[0]), time.Duration(0))

	_, err := cache.Complete(ctx, Request{System: "s", User: "other"})
	require.NoError(t, err)
	assert.Equal(t, 2, next.count())
}

func TestCachedCompleterCoalescesConcurrentMisses(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	next := &fakeCompleter{reply: "shared", gate: make(chan struct{})}
	cache := NewCachedCompleter(next, client, "", time.Minute)
	req := Request{User: "same"}

	var wg sync.WaitGroup
	replies := make([]string, 4)
	for i := range replies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reply, err := cache.Complete(context.Background(), req)
			assert.NoError(t, err)
			replies[i] = reply
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(next.gate)
	wg.Wait()

	assert.Equal(t, []string{"shared", "shared", "shared", "shared"}, replies)
	assert.Equal(t, 1, next.count())
}

func TestCachedCompleterFallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	next := &fakeCompleter{reply: "plain"}
	reply, err := NewCachedCompleter(next, client, "p", 0).Complete(context.Background(), Request{User: "u"})
	require.NoError(t, err)
	assert.Equal(t, "plain", reply)

	next.err = errors.New("backend down")
	_, err = NewCachedCompleter(next, client, "p", 0).Complete(context.Background(), Request{User: "u"})
	assert.EqualError(t, err, "backend down")
}

func TestNewRedisClient(t *testing.T) {
	client, err := NewRedisClient("redis://localhost:6379/2")
	require.NoError(t, err)
	assert.Equal(t, 2, client.Options().DB)
	_ = client.Close()
	_, err = NewRedisClient("http://nope")
	assert.Error(t, err)
}

func TestRunnerLifecycle(t *testing.T) {
	next := &fakeCompleter{reply: `{"alerts":["Seal"],"summary":"s"}`, gate: make(chan struct{})}
	r := NewRunner(next, RunnerOptions{})
	ctx, cancel := context.WithCancel(context.Background())

	assert.Equal(t, StatusIdle, r.State("study-1", DirectiveRPNAlerts).Status)
	st, err := r.Start(ctx, DirectiveRPNAlerts, sampleSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st.Status)

	again, err := r.Start(ctx, DirectiveRPNAlerts, sampleSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)

	cancel()
	close(next.gate)
	r.Wait()

	st = r.State("study-1", DirectiveRPNAlerts)
	require.Equal(t, StatusReady, st.Status)
	assert.Equal(t, []string{"Seal"}, st.Suggestion.Items)
	assert.Equal(t, 1, next.count())

	states := r.States("study-1")
	require.Len(t, states, len(Directives()))
	assert.Equal(t, StatusIdle, states[1].Status)

	r.Forget("study-1")
	assert.Equal(t, StatusIdle, r.State("study-1", DirectiveRPNAlerts).Status)
}

func TestRunnerDropsResultAfterForget(t *testing.T) {
	next := &fakeCompleter{reply: `{"alerts":["Seal"],"summary":"s"}`, gate: make(chan struct{})}
	r := NewRunner(next, RunnerOptions{})
	_, err := r.Start(context.Background(), DirectiveRPNAlerts, sampleSnapshot())
	require.NoError(t, err)

	r.Forget("study-1")
	assert.Equal(t, StatusIdle, r.State("study-1", DirectiveRPNAlerts).Status)
	close(next.gate)
	r.Wait()

	assert.Equal(t, 1, next.count())
	assert.Equal(t, StatusIdle, r.State("study-1", DirectiveRPNAlerts).Status)
	for _, st := range r.States("study-1") {
		assert.Equal(t, StatusIdle, st.Status)
	}

	st, err := r.Start(context.Background(), DirectiveRPNAlerts, sampleSnapshot())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st.Status)
	r.Wait()
	assert.Equal(t, StatusReady, r.State("study-1", DirectiveRPNAlerts).Status)
}

func TestRunnerRecordsFailures(t *testing.T) {
	r := NewRunner(&fakeCompleter{err: errors.New("quota exceeded")}, RunnerOptions{RatePerSecond: 100, Burst: 2})
	_, err := r.Start(context.Background(), DirectiveRPNForecast, sampleSnapshot())
	require.NoError(t, err)
	r.Wait()
	st := r.State("study-1", DirectiveRPNForecast)
	assert.Equal(t, StatusFailed, st.Status)
	assert.Equal(t, "quota exceeded", st.Err)
	assert.Nil(t, st.Suggestion)
}

func TestRunnerDisabled(t *testing.T) {
	r := NewRunner(nil, RunnerOptions{})
	assert.False(t, r.Enabled())
	_, err := r.Start(context.Background(), DirectiveRPNAlerts, sampleSnapshot())
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = r.Generate(context.Background(), DirectiveRPNAlerts, sampleSnapshot())
	assert.ErrorIs(t, err, ErrDisabled)
	_, err = NewRunner(&fakeCompleter{}, RunnerOptions{}).Start(context.Background(), "nope", Snapshot{})
	assert.Error(t, err)
}

func TestRunnerGenerateHonoursContext(t *testing.T) {
	r := NewRunner(&fakeCompleter{gate: make(chan struct{})}, RunnerOptions{MaxConcurrent: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Generate(ctx, DirectiveCauseEffect, sampleSnapshot())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
