package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/order-placement/internal/audit/domain"
	"github.com/dmehra2102/order-placement/pkg/logging"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type memDeduper struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (d *memDeduper) EventKey(group string, seq int64) string {
	return fmt.Sprintf("%s:%d", group, seq)
}

func (d *memDeduper) Handled(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.keys[key], nil
}

func (d *memDeduper) MarkHandled(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[key] = true
	return nil
}

func message(t *testing.T, offset, seq int64) kafka.Message {
	t.Helper()
	b, err := json.Marshal(domain.Event{Seq: seq, EntityType: domain.EntityOrder, Action: domain.ActionCreate})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func TestConsumerSkipsDuplicates(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{message(t, 0, 1), message(t, 1, 1), message(t, 2, 2)}}
	dedupe := &memDeduper{keys: map[string]bool{}}
	var seqs []int64
	c := newConsumer(logging.Discard(), r, "g", dedupe, func(_ context.Context, ev domain.Event) error {
		seqs = append(seqs, ev.Seq)
		return nil
	})

	require.ErrorIs(t, c.Run(context.Background()), io.EOF)
	assert.Equal(t, []int64{1, 2}, seqs)
	assert.Equal(t, []int64{0, 1, 2}, r.committed)
	assert.True(t, dedupe.keys["g:1"])
}

func TestConsumerLeavesFailedEventUncommitted(t *testing.T) {
	r := &fakeReader{msgs: []kafka.Message{message(t, 0, 1), message(t, 1, 2)}}
	dedupe := &memDeduper{keys: map[string]bool{}}
	errDown := errors.New("sink down")
	calls := 0
	c := newConsumer(logging.Discard(), r, "g", dedupe, func(_ context.Context, ev domain.Event) error {
		if ev.Seq == 2 {
			calls++
			return errDown
		}
		return nil
	})
	c.backoff = 0

	err := c.Run(context.Background())
	require.ErrorIs(t, err, errDown)
	assert.Equal(t, int(c.retries)+1, calls)
	assert.Equal(t, []int64{0}, r.committed)
	assert.False(t, dedupe.keys["g:2"])

	// Redelivery after a restart is handled normally.
	r.msgs = []kafka.Message{message(t, 1, 2)}
	c.handle = func(context.Context, domain.Event) error { return nil }
	require.ErrorIs(t, c.Run(context.Background()), io.EOF)
	assert.Equal(t, []int64{0, 1}, r.committed)
	assert.True(t, dedupe.keys["g:2"])
}
