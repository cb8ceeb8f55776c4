package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/conduit/internal/resilience"
)

func newTestRegistry(t *testing.T, names ...string) (*Registry, map[string]*mockAdapter) {
	t.Helper()
	reg := NewRegistry(resilience.BreakerConfig{FailureThreshold: 3, RecoveryWindow: time.Minute})
	adapters := make(map[string]*mockAdapter, len(names))
	for _, n := range names {
		a := newMockAdapter(n)
		require.NoError(t, reg.Register(a, false))
		adapters[n] = a
	}
	return reg, adapters
}

func TestRegister_FirstBecomesActive(t *testing.T) {
	reg, _ := newTestRegistry(t, "a", "b")

	active, err := reg.Active()
	require.NoError(t, err)
	assert.Equal(t, "a", active.Name())
	assert.Equal(t, []string{"a", "b"}, reg.Names())
}

func TestRegister_SetActive(t *testing.T) {
	reg, _ := newTestRegistry(t, "a")
	require.NoError(t, reg.Register(newMockAdapter("b"), true))

	active, err := reg.Active()
	require.NoError(t, err)
	assert.Equal(t, "b", active.Name())
}

func TestRegister_Duplicate(t *testing.T) {
	reg, _ := newTestRegistry(t, "a")
	err := reg.Register(newMockAdapter("a"), true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateProvider))

	active, _ := reg.Active()
	assert.Equal(t, "a", active.Name())
	assert.Len(t, reg.Names(), 1)
}

func TestActive_Empty(t *testing.T) {
	reg := NewRegistry(resilience.DefaultBreakerConfig())
	_, err := reg.Active()
	assert.True(t, errors.Is(err, ErrNoActiveProvider))

	_, err = reg.ChatWithFailover(context.Background(), ChatRequest{})
	assert.True(t, errors.Is(err, ErrNoActiveProvider))
}

func TestSwitch(t *testing.T) {
	reg, _ := newTestRegistry(t, "a", "b")
	reg.Breaker().RecordFailure("b", 10)

	a, err := reg.Switch("b")
	require.NoError(t, err)
	assert.Equal(t, "b", a.Name())
	active, _ := reg.Active()
	assert.Equal(t, "b", active.Name())
	// Switching leaves breaker state alone.
	assert.Equal(t, 1, reg.Breaker().Health("b").TotalErrors)

	_, err = reg.Switch("ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownProvider))
	active, _ = reg.Active()
	assert.Equal(t, "b", active.Name())
}

func TestGet(t *testing.T) {
	reg, _ := newTestRegistry(t, "a")
	a, ok := reg.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "a", a.Name())
	_, ok = reg.Get("b")
	assert.False(t, ok)
}

func TestChatWithFailover_ActiveSucceeds(t *testing.T) {
	reg, ad := newTestRegistry(t, "a", "b")
	ad["a"].On("Chat", mock.Anything, mock.Anything).Return(&ChatResponse{Text: "hi", Provider: "a"}, nil)

	resp, err := reg.ChatWithFailover(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Provider)
	assert.Equal(t, 1, reg.Breaker().Health("a").TotalSuccess)
	ad["b"].AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
}

func TestChatWithFailover_FallsThrough(t *testing.T) {
	reg, ad := newTestRegistry(t, "a", "b", "c")
	ad["a"].On("Chat", mock.Anything, mock.Anything).Return(nil, errors.New("a down"))
	ad["b"].On("Chat", mock.Anything, mock.Anything).Return(&ChatResponse{Text: "from b", Provider: "b"}, nil)

	resp, err := reg.ChatWithFailover(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from b", resp.Text)
	assert.Equal(t, "b (failover)", resp.Provider)

	assert.Equal(t, 1, reg.Breaker().Health("a").TotalErrors)
	assert.Equal(t, 1, reg.Breaker().Health("a").ConsecutiveFailures)
	assert.Equal(t, 1, reg.Breaker().Health("b").TotalSuccess)
	ad["c"].AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
}

func TestChatWithFailover_OrderActiveFirstThenRegistration(t *testing.T) {
	reg, ad := newTestRegistry(t, "a", "b", "c")
	_, err := reg.Switch("c")
	require.NoError(t, err)

	var order []string
	for _, n := range []string{"a", "b", "c"} {
		n := n
		ad[n].On("Chat", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
			order = append(order, n)
		}).Return(nil, errors.New(n+" down"))
	}

	_, err = reg.ChatWithFailover(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, order)
}

func TestChatWithFailover_SkipsOpenCircuit(t *testing.T) {
	reg, ad := newTestRegistry(t, "a", "b")
	for i := 0; i < 3; i++ {
		reg.Breaker().RecordFailure("a", 0)
	}
	ad["b"].On("Chat", mock.Anything, mock.Anything).Return(&ChatResponse{Text: "ok"}, nil)

	resp, err := reg.ChatWithFailover(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "b (failover)", resp.Provider)
	ad["a"].AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
	// A skipped provider's counters are untouched.
	assert.Equal(t, 3, reg.Breaker().Health("a").TotalErrors)
}

func TestChatWithFailover_Exhausted(t *testing.T) {
	reg, ad := newTestRegistry(t, "a", "b")
	ad["a"].On("Chat", mock.Anything, mock.Anything).Return(nil, errors.New("a down"))
	last := errors.New("b down")
	ad["b"].On("Chat", mock.Anything, mock.Anything).Return(nil, last)

	_, err := reg.ChatWithFailover(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllProvidersFailed))
	assert.True(t, errors.Is(err, last))

	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, []string{"a", "b"}, ex.Tried)
	assert.Contains(t, ex.Health, "a")
	assert.Contains(t, ex.Health, "b")
	assert.Equal(t, 1, ex.Health["b"].TotalErrors)
	assert.Contains(t, err.Error(), "b down")
	assert.Contains(t, err.Error(), "a=closed")
}

func TestChatWithFailover_AllCircuitsOpen(t *testing.T) {
	reg, ad := newTestRegistry(t, "a")
	for i := 0; i < 3; i++ {
		reg.Breaker().RecordFailure("a", 0)
	}

	_, err := reg.ChatWithFailover(context.Background(), ChatRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllProvidersFailed))
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	ad["a"].AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
}

func TestChatWithFailover_OpensAfterThreshold(t *testing.T) {
	reg, ad := newTestRegistry(t, "a", "b")
	ad["a"].On("Chat", mock.Anything, mock.Anything).Return(nil, errors.New("a down"))
	ad["b"].On("Chat", mock.Anything, mock.Anything).Return(&ChatResponse{Text: "ok"}, nil)

	for i := 0; i < 4; i++ {
		_, err := reg.ChatWithFailover(context.Background(), ChatRequest{})
		require.NoError(t, err)
	}
	// The fourth request skipped a.
	ad["a"].AssertNumberOfCalls(t, "Chat", 3)
	assert.Equal(t, resilience.CircuitOpen, reg.Breaker().Health("a").State)
}

func TestChatWithFailover_RecordsElapsed(t *testing.T) {
	reg, ad := newTestRegistry(t, "a")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	reg.nowFunc = func() time.Time {
		calls++
		return base.Add(time.Duration(calls-1) * 250 * time.Millisecond)
	}
	ad["a"].On("Chat", mock.Anything, mock.Anything).Return(&ChatResponse{Text: "ok"}, nil)

	_, err := reg.ChatWithFailover(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, 250.0, reg.Breaker().Health("a").AvgResponseMs)
}

func TestChatWithFailover_CancelledContext(t *testing.T) {
	reg, ad := newTestRegistry(t, "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := reg.ChatWithFailover(ctx, ChatRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllProvidersFailed))
	ad["a"].AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
}

func TestListAvailable(t *testing.T) {
	reg, ad := newTestRegistry(t, "a", "b")
	ad["a"].On("IsAvailable", mock.Anything).Return(true)
	ad["b"].On("IsAvailable", mock.Anything).Return(false)
	reg.Breaker().RecordFailure("b", 100)

	list := reg.ListAvailable(context.Background())
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.True(t, list[0].Active)
	assert.True(t, list[0].Available)
	assert.Equal(t, "a-model", list[0].Model)
	assert.Equal(t, 100, list[0].Health.HealthScore)

	assert.Equal(t, "b", list[1].Name)
	assert.False(t, list[1].Active)
	assert.False(t, list[1].Available)
	assert.Equal(t, 1, list[1].Health.TotalErrors)
}

func TestResetCircuit(t *testing.T) {
	reg, _ := newTestRegistry(t, "a")
	for i := 0; i < 3; i++ {
		reg.Breaker().RecordFailure("a", 0)
	}

	require.NoError(t, reg.ResetCircuit("a"))
	assert.Equal(t, resilience.CircuitClosed, reg.Breaker().Health("a").State)
	assert.Equal(t, 0, reg.Breaker().Health("a").TotalErrors)

	err := reg.ResetCircuit("ghost")
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}
