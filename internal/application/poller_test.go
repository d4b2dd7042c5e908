package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"memeforge/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stalledClock never fires and reports every sleep on sleeping.
type stalledClock struct {
	now      time.Time
	sleeping chan time.Duration
}

func (c *stalledClock) Now() time.Time { return c.now }

func (c *stalledClock) After(d time.Duration) <-chan time.Time {
	c.sleeping <- d
	return make(chan time.Time)
}

type scriptedResult struct {
	receipt domain.TransactionReceipt
	ok      bool
	err     error
}

// scriptedSource replays results in order and repeats the last one.
type scriptedSource struct {
	results []scriptedResult
	latency time.Duration
	clock   *fakeClock
	calls   int
}

func (s *scriptedSource) TransactionReceipt(ctx context.Context, hash string) (domain.TransactionReceipt, bool, error) {
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	if s.clock != nil && s.latency > 0 {
		s.clock.advance(s.latency)
	}
	r := s.results[idx]
	return r.receipt, r.ok, r.err
}

type recordingObserver struct {
	attempts  int
	errors    int
	confirmed int
	timeouts  int
	waited    time.Duration
}

func (o *recordingObserver) OnPollAttempt(string, int)             { o.attempts++ }
func (o *recordingObserver) OnProviderError(string, error)         { o.errors++ }
func (o *recordingObserver) OnConfirmed(domain.TransactionReceipt) { o.confirmed++ }
func (o *recordingObserver) OnTimeout(_ string, waited time.Duration) {
	o.timeouts++
	o.waited = waited
}

const testHash = "0x8f3b1c6d1f0e2a4b5c6d7e8f9a0b1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b"

func minedReceipt() domain.TransactionReceipt {
	return domain.TransactionReceipt{
		Hash:        testHash,
		From:        "0x1234567890123456789012345678901234567890",
		To:          "0x0987654321098765432109876543210987654321",
		Value:       "0",
		GasUsed:     "21000",
		GasPrice:    "1.00",
		Status:      domain.TxStatusSuccess,
		BlockNumber: 100,
	}
}

func newTestPoller(t *testing.T, source ReceiptSource, clock Clock, observer PollObserver, cfg PollConfig) *Poller {
	t.Helper()
	poller, err := NewPoller(source, clock, observer, cfg)
	require.NoError(t, err)
	return poller
}

func TestPollerStatus_ExhaustsBudgetWithoutError(t *testing.T) {
	clock := newFakeClock()
	source := &scriptedSource{results: []scriptedResult{{}}}
	observer := &recordingObserver{}
	poller := newTestPoller(t, source, clock, observer, PollConfig{})

	_, ok, err := poller.Status(context.Background(), testHash, 3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, source.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.sleeps)
	assert.Equal(t, 3, observer.attempts)
}

func TestPollerStatus_DefaultBudget(t *testing.T) {
	clock := newFakeClock()
	source := &scriptedSource{results: []scriptedResult{{}}}
	poller := newTestPoller(t, source, clock, nil, PollConfig{})

	_, _, err := poller.Status(context.Background(), testHash, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRetries, source.calls)
}

func TestPollerStatus_ShortCircuitsOnReceipt(t *testing.T) {
	clock := newFakeClock()
	source := &scriptedSource{results: []scriptedResult{{receipt: minedReceipt(), ok: true}}}
	poller := newTestPoller(t, source, clock, nil, PollConfig{})

	receipt, ok, err := poller.Status(context.Background(), testHash, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, source.calls)
	assert.Empty(t, clock.sleeps)
	assert.True(t, receipt.Timestamp.Equal(clock.Now()))
}

func TestPollerStatus_AbsorbsProviderErrors(t *testing.T) {
	clock := newFakeClock()
	unreachable := fmt.Errorf("eth_getTransactionReceipt: %w: connection refused", domain.ErrProviderUnreachable)
	source := &scriptedSource{results: []scriptedResult{
		{err: unreachable},
		{err: unreachable},
		{receipt: minedReceipt(), ok: true},
	}}
	observer := &recordingObserver{}
	poller := newTestPoller(t, source, clock, observer, PollConfig{})

	receipt, ok, err := poller.Status(context.Background(), testHash, 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.TxStatusSuccess, receipt.Status)
	assert.Equal(t, 2, observer.errors)
	assert.Equal(t, 1, observer.confirmed)
}

func TestPollerStatus_ErrorsOnlyReturnsNoResult(t *testing.T) {
	clock := newFakeClock()
	source := &scriptedSource{results: []scriptedResult{{err: domain.ErrProviderUnreachable}}}
	poller := newTestPoller(t, source, clock, nil, PollConfig{})

	_, ok, err := poller.Status(context.Background(), testHash, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPollerStatus_EscalatesMalformedResponse(t *testing.T) {
	clock := newFakeClock()
	malformed := fmt.Errorf("%w: gasUsed \"0xzz\"", domain.ErrMalformedResponse)
	source := &scriptedSource{results: []scriptedResult{{err: malformed}}}
	poller := newTestPoller(t, source, clock, nil, PollConfig{})

	_, _, err := poller.Status(context.Background(), testHash, 3)
	require.ErrorIs(t, err, domain.ErrMalformedResponse)
	assert.Equal(t, 1, source.calls)
}

func TestPollerStatus_HonorsCancellation(t *testing.T) {
	clock := newFakeClock()
	source := &scriptedSource{results: []scriptedResult{{}}}
	poller := newTestPoller(t, source, clock, nil, PollConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := poller.Status(ctx, testHash, 3)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, source.calls)
}

func TestPollerStatus_CancelDuringRetryDelay(t *testing.T) {
	clock := &stalledClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), sleeping: make(chan time.Duration, 1)}
	source := &scriptedSource{results: []scriptedResult{{}}}
	poller := newTestPoller(t, source, clock, nil, PollConfig{RetryDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, _, err := poller.Status(ctx, testHash, 3)
		done <- err
	}()

	select {
	case d := <-clock.sleeping:
		assert.Equal(t, time.Hour, d)
	case <-time.After(2 * time.Second):
		t.Fatal("status never reached its retry delay")
	}
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("status did not return after cancellation")
	}
	assert.Equal(t, 1, source.calls)
}

func TestPollerStatus_RepeatedLookupsAreIdentical(t *testing.T) {
	clock := newFakeClock()
	source := &scriptedSource{results: []scriptedResult{{receipt: minedReceipt(), ok: true}}}
	poller := newTestPoller(t, source, clock, nil, PollConfig{})

	first, _, err := poller.Status(context.Background(), testHash, 3)
	require.NoError(t, err)
	clock.advance(time.Minute)
	second, _, err := poller.Status(context.Background(), testHash, 3)
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.GasUsed, second.GasUsed)
	assert.Equal(t, first.BlockNumber, second.BlockNumber)
	assert.True(t, first.Timestamp.Before(second.Timestamp))
}

func TestPollerWait_TimesOut(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	source := &scriptedSource{results: []scriptedResult{{}}}
	observer := &recordingObserver{}
	poller := newTestPoller(t, source, clock, observer, PollConfig{PollInterval: time.Second})

	_, err := poller.Wait(context.Background(), testHash, 5*time.Second)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 5*time.Second, clock.Now().Sub(start))
	assert.Equal(t, 5, source.calls)
	assert.Equal(t, 1, observer.timeouts)

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, testHash, timeout.Hash)
	assert.Equal(t, 5*time.Second, timeout.Waited)
}

func TestPollerWait_TimesOutShortlyAfterBudgetWithSlowProvider(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now()
	source := &scriptedSource{results: []scriptedResult{{}}, clock: clock, latency: 300 * time.Millisecond}
	observer := &recordingObserver{}
	poller := newTestPoller(t, source, clock, observer, PollConfig{PollInterval: time.Second})

	_, err := poller.Wait(context.Background(), testHash, 5*time.Second)
	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)

	elapsed := clock.Now().Sub(start)
	assert.GreaterOrEqual(t, elapsed, 5*time.Second)
	assert.LessOrEqual(t, elapsed, 5*time.Second+time.Second+300*time.Millisecond)
	assert.Equal(t, elapsed, timeout.Waited)
	assert.Equal(t, elapsed, observer.waited)
}

func TestPollerWait_ReturnsReceiptOnThirdQuery(t *testing.T) {
	clock := newFakeClock()
	source := &scriptedSource{results: []scriptedResult{{}, {}, {receipt: minedReceipt(), ok: true}}}
	poller := newTestPoller(t, source, clock, nil, PollConfig{})

	receipt, err := poller.Wait(context.Background(), testHash, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, source.calls)
	assert.Equal(t, domain.TxStatusSuccess, receipt.Status)
	assert.Equal(t, "21000", receipt.GasUsed)
	assert.Equal(t, "1.00", receipt.GasPrice)
	assert.Equal(t, uint64(100), receipt.BlockNumber)
	for _, d := range clock.sleeps {
		assert.Equal(t, DefaultPollInterval, d)
	}
}

func TestPollerWait_PropagatesMalformedResponse(t *testing.T) {
	clock := newFakeClock()
	source := &scriptedSource{results: []scriptedResult{{}, {err: domain.ErrMalformedResponse}}}
	poller := newTestPoller(t, source, clock, nil, PollConfig{})

	_, err := poller.Wait(context.Background(), testHash, time.Minute)
	require.ErrorIs(t, err, domain.ErrMalformedResponse)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestPollerWait_StopsOnCancellation(t *testing.T) {
	clock := newFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	source := &cancellingSource{cancel: cancel, after: 2}
	poller := newTestPoller(t, source, clock, nil, PollConfig{})

	_, err := poller.Wait(ctx, testHash, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, source.calls)
}

type cancellingSource struct {
	cancel context.CancelFunc
	after  int
	calls  int
}

func (s *cancellingSource) TransactionReceipt(ctx context.Context, hash string) (domain.TransactionReceipt, bool, error) {
	s.calls++
	if s.calls >= s.after {
		s.cancel()
	}
	return domain.TransactionReceipt{}, false, nil
}

func TestNewPoller_RequiresSource(t *testing.T) {
	_, err := NewPoller(nil, nil, nil, PollConfig{})
	assert.Error(t, err)
}
