package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer_RejectsNonPowerOfTwoCapacity(t *testing.T) {
	_, err := New[int](3)
	require.ErrorIs(t, err, ErrInvalidBufferSize)

	_, err = New[int](0)
	require.ErrorIs(t, err, ErrInvalidBufferSize)

	rb, err := New[int](8)
	require.NoError(t, err)
	require.NotNil(t, rb)
}

// Property 1: producer_sequence equals the number of publishes minus one.
func TestRingBuffer_ProducerSequenceTracksPublishCount(t *testing.T) {
	rb, err := New[int](16)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		rb.Publish(i)
	}

	assert.Equal(t, int64(9), rb.ProducerSequence())
}

// Property 2: three consumers each read exactly M <= N messages in order
// with no loss.
func TestRingBuffer_ThreeConsumersReadAllMessagesInOrder(t *testing.T) {
	rb, err := New[int](16)
	require.NoError(t, err)

	names := []string{"a", "b", "c"}
	cursors := make([]*Cursor, len(names))
	for i, n := range names {
		c, err := rb.Subscribe(n)
		require.NoError(t, err)
		cursors[i] = c
	}

	const M = 10
	for i := 0; i < M; i++ {
		rb.Publish(i * 10)
	}

	for _, c := range cursors {
		var got []int
		for {
			msg, _, ok := rb.TryRead(c)
			if !ok {
				break
			}
			got = append(got, msg)
		}
		require.Len(t, got, M)
		for i, v := range got {
			assert.Equal(t, i*10, v)
		}
		assert.Equal(t, int64(0), c.MessagesLost())
		assert.Equal(t, int64(M), c.MessagesConsumed())
	}
}

// Property 3: publishing M > N messages while a consumer is idle, then
// draining: reads at most N, messages_lost == M - read, first read
// sequence equals M - N.
func TestRingBuffer_LappedConsumerSkipsAheadAndCountsLoss(t *testing.T) {
	const N = 8
	rb, err := New[int](N)
	require.NoError(t, err)

	c, err := rb.Subscribe("slow")
	require.NoError(t, err)

	const M = 25
	for i := 0; i < M; i++ {
		rb.Publish(i)
	}

	var read []int
	var seqs []int64
	for {
		msg, seq, ok := rb.TryRead(c)
		if !ok {
			break
		}
		read = append(read, msg)
		seqs = append(seqs, seq)
	}

	require.LessOrEqual(t, len(read), N)
	assert.Equal(t, int64(M-len(read)), c.MessagesLost())
	require.NotEmpty(t, seqs)
	assert.Equal(t, int64(M-N), seqs[0])
	// Values read are contiguous with their sequence numbers (message i
	// was published with value i).
	for idx, seq := range seqs {
		assert.Equal(t, int(seq), read[idx])
	}
}

// Property 4: subscribing with a duplicate name fails; consumer count
// is unchanged.
func TestRingBuffer_DuplicateSubscribeFails(t *testing.T) {
	rb, err := New[int](8)
	require.NoError(t, err)

	_, err = rb.Subscribe("dup")
	require.NoError(t, err)

	before := len(rb.Metrics().Consumers)

	_, err = rb.Subscribe("dup")
	require.ErrorIs(t, err, ErrDuplicateConsumer)

	after := len(rb.Metrics().Consumers)
	assert.Equal(t, before, after)
}

// Property 5: concurrently publishing M messages and draining with one
// consumer yields the sequence 0..M-1 in order (no gaps, since the
// buffer here is large enough that the consumer never laps).
func TestRingBuffer_ConcurrentPublishAndDrainPreservesOrder(t *testing.T) {
	const N = 1024
	const M = 500
	rb, err := New[int](N)
	require.NoError(t, err)

	c, err := rb.Subscribe("reader")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < M; i++ {
			rb.Publish(i)
		}
	}()

	var got []int
	for len(got) < M {
		msg, _, ok := rb.TryRead(c)
		if !ok {
			continue
		}
		got = append(got, msg)
	}
	<-done

	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.Equal(t, int64(0), c.MessagesLost())
}

func TestRingBuffer_UnsubscribeRemovesConsumer(t *testing.T) {
	rb, err := New[int](8)
	require.NoError(t, err)

	_, err = rb.Subscribe("x")
	require.NoError(t, err)

	assert.True(t, rb.Unsubscribe("x"))
	assert.False(t, rb.Unsubscribe("x"))

	_, err = rb.Subscribe("x")
	require.NoError(t, err, "name should be reusable once unsubscribed")
}

func TestRingBuffer_MetricsHealthClassification(t *testing.T) {
	const N = 8
	rb, err := New[int](N)
	require.NoError(t, err)

	c, err := rb.Subscribe("watcher")
	require.NoError(t, err)

	for i := 0; i < 6; i++ {
		rb.Publish(i)
	}

	metrics := rb.Metrics()
	require.Len(t, metrics.Consumers, 1)
	assert.Equal(t, HealthWarning, metrics.Consumers[0].Health)

	for i := 0; i < 4; i++ {
		_, _, ok := rb.TryRead(c)
		require.True(t, ok)
	}
	metrics = rb.Metrics()
	assert.Equal(t, HealthHealthy, metrics.Consumers[0].Health)
}
