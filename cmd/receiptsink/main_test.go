package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"memeforge/internal/application"
	"memeforge/internal/domain"
	"memeforge/internal/streaming"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = retryPolicy{initial: time.Millisecond, max: 4 * time.Millisecond}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// queueReader hands out queued messages, then blocks until ctx is done.
type queueReader struct {
	log       *eventLog
	mu        sync.Mutex
	queue     []kafka.Message
	commits   int
	committed chan struct{}
	want      int
}

func (r *queueReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		r.log.add("fetch %d", msg.Offset)
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *queueReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msg := range msgs {
		r.log.add("commit %d", msg.Offset)
		r.commits++
		if r.commits == r.want {
			close(r.committed)
		}
	}
	return nil
}

// flakyJournal fails its next `failures` writes.
type flakyJournal struct {
	log      *eventLog
	mu       sync.Mutex
	failures int
	stored   []domain.TransactionReceipt
}

func (j *flakyJournal) StoreReceipt(ctx context.Context, receipt domain.TransactionReceipt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failures > 0 {
		j.failures--
		j.log.add("store %s failed", receipt.Hash)
		return errors.New("journal unavailable")
	}
	j.log.add("store %s", receipt.Hash)
	j.stored = append(j.stored, receipt)
	return nil
}

func (j *flakyJournal) QueryReceipts(ctx context.Context, filter application.ReceiptQueryFilter) ([]domain.TransactionReceipt, error) {
	return nil, nil
}

func (j *flakyJournal) Ping(ctx context.Context) error { return nil }

func receiptMessage(t *testing.T, offset int64, hash string) kafka.Message {
	t.Helper()
	payload, err := streaming.Encode(streaming.Message{
		Type:        streaming.MessageTypeReceipt,
		ChainID:     122,
		TxHash:      hash,
		Status:      "success",
		GasUsed:     "21000",
		BlockNumber: uint64(offset),
		ObservedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return kafka.Message{Topic: "memeforge-receipts-122", Offset: offset, Value: payload}
}

func runConsumer(t *testing.T, reader *queueReader, journal application.ReceiptJournal) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		consumeStream(ctx, reader, journal, 122, fastRetry)
	}()

	select {
	case <-reader.committed:
	case <-time.After(5 * time.Second):
		t.Fatal("messages were not committed")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumeStream_RetriesFailedMessageBeforeMovingOn(t *testing.T) {
	log := &eventLog{}
	reader := &queueReader{
		log:       log,
		queue:     []kafka.Message{receiptMessage(t, 10, "0xaa"), receiptMessage(t, 11, "0xbb")},
		committed: make(chan struct{}),
		want:      2,
	}
	journal := &flakyJournal{log: log, failures: 2}

	runConsumer(t, reader, journal)

	assert.Equal(t, []string{
		"fetch 10",
		"store 0xaa failed",
		"store 0xaa failed",
		"store 0xaa",
		"commit 10",
		"fetch 11",
		"store 0xbb",
		"commit 11",
	}, log.snapshot())
	require.Len(t, journal.stored, 2)
	assert.Equal(t, "0xaa", journal.stored[0].Hash)
}

func TestConsumeStream_CommitsUndecodableAndTimeoutMessages(t *testing.T) {
	log := &eventLog{}
	timeout, err := streaming.Encode(streaming.Message{
		Type:     streaming.MessageTypeTimeout,
		ChainID:  122,
		TxHash:   "0xcc",
		WaitedMs: 120000,
	})
	require.NoError(t, err)
	reader := &queueReader{
		log: log,
		queue: []kafka.Message{
			{Offset: 1, Value: []byte("not json")},
			{Offset: 2, Value: timeout},
		},
		committed: make(chan struct{}),
		want:      2,
	}
	journal := &flakyJournal{log: log}

	runConsumer(t, reader, journal)

	assert.Equal(t, []string{"fetch 1", "commit 1", "fetch 2", "commit 2"}, log.snapshot())
	assert.Empty(t, journal.stored)
}

func TestConsumeStream_CancelDuringRetryLeavesMessageUncommitted(t *testing.T) {
	log := &eventLog{}
	reader := &queueReader{
		log:       log,
		queue:     []kafka.Message{receiptMessage(t, 7, "0xdd"), receiptMessage(t, 8, "0xee")},
		committed: make(chan struct{}),
		want:      1,
	}
	journal := &flakyJournal{log: log, failures: 1 << 30}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		consumeStream(ctx, reader, journal, 122, retryPolicy{initial: time.Millisecond, max: time.Millisecond})
	}()

	require.Eventually(t, func() bool { return len(log.snapshot()) >= 3 }, 5*time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}

	for _, event := range log.snapshot() {
		assert.NotEqual(t, "fetch 8", event)
		assert.NotContains(t, event, "commit")
	}
}

func TestApplyWithRetry_BackoffIsCapped(t *testing.T) {
	journal := &flakyJournal{log: &eventLog{}, failures: 4}
	msg := streaming.Message{Type: streaming.MessageTypeReceipt, ChainID: 122, TxHash: "0xff", Status: "success"}

	start := time.Now()
	require.NoError(t, applyWithRetry(context.Background(), journal, msg, retryPolicy{initial: time.Millisecond, max: 2 * time.Millisecond}))
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, journal.stored, 1)
}
