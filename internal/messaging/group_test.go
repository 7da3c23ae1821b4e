package messaging_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/serroba/window-limiter/internal/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stage records Start and Shutdown calls into a shared journal so ordering
// across consumers can be asserted.
type stage struct {
	name        string
	journal     *[]string
	failStart   error
	failStopErr error
}

func (s *stage) Start(_ context.Context) error {
	if s.failStart != nil {
		return s.failStart
	}

	*s.journal = append(*s.journal, "start "+s.name)

	return nil
}

func (s *stage) Shutdown() error {
	*s.journal = append(*s.journal, "stop "+s.name)

	return s.failStopErr
}

func newGroup(journal *[]string, stages ...*stage) (*messaging.ConsumerGroup, *mockSubscriber) {
	sub := newMockSubscriber()
	group := messaging.NewConsumerGroup(sub, zap.NewNop())

	for _, s := range stages {
		s.journal = journal
		group.Add(s)
	}

	return group, sub
}

func TestConsumerGroup(t *testing.T) {
	t.Run("starts consumers in order", func(t *testing.T) {
		var journal []string

		group, _ := newGroup(&journal, &stage{name: "denials"}, &stage{name: "replay"})

		require.NoError(t, group.Start(context.Background()))
		assert.Equal(t, []string{"start denials", "start replay"}, journal)
	})

	t.Run("stops started consumers in reverse when one fails", func(t *testing.T) {
		var journal []string

		group, _ := newGroup(&journal,
			&stage{name: "a"},
			&stage{name: "b"},
			&stage{name: "c", failStart: errors.New("no such stream")},
		)

		err := group.Start(context.Background())

		require.ErrorContains(t, err, "start consumer 2")
		require.ErrorContains(t, err, "no such stream")
		assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, journal)
	})

	t.Run("shutdown stops everything and closes the subscriber", func(t *testing.T) {
		var journal []string

		group, sub := newGroup(&journal, &stage{name: "denials"})
		require.NoError(t, group.Start(context.Background()))

		require.NoError(t, group.Shutdown())
		assert.Equal(t, []string{"start denials", "stop denials"}, journal)
		assert.True(t, sub.closed)
	})

	t.Run("shutdown reports every failure", func(t *testing.T) {
		var journal []string

		errA := errors.New("flush pending acks")
		errB := errors.New("drain stream")

		group, sub := newGroup(&journal,
			&stage{name: "a", failStopErr: errA},
			&stage{name: "b", failStopErr: errB},
		)
		require.NoError(t, group.Start(context.Background()))

		err := group.Shutdown()

		require.ErrorIs(t, err, errA)
		require.ErrorIs(t, err, errB)
		assert.Contains(t, journal, "stop b")
		assert.True(t, sub.closed)
	})
}

// shutdownWithin fails the test when group.Shutdown does not return in time.
func shutdownWithin(t *testing.T, group *messaging.ConsumerGroup, limit time.Duration) error {
	t.Helper()

	result := make(chan error, 1)

	go func() { result <- group.Shutdown() }()

	select {
	case err := <-result:
		return err
	case <-time.After(limit):
		t.Fatalf("consumer group shutdown did not return within %s", limit)

		return nil
	}
}

func TestConsumerGroup_ShutdownUnstarted(t *testing.T) {
	noop := func(context.Context, *deniedEvent) error { return nil }

	t.Run("group that was never started", func(t *testing.T) {
		sub := newMockSubscriber()
		group := messaging.NewConsumerGroup(sub, zap.NewNop())
		group.Add(messaging.NewConsumer(sub, "ratelimit.denied", noop, zap.NewNop()))
		group.Add(messaging.NewConsumer(sub, "ratelimit.replayed", noop, zap.NewNop()))

		require.NoError(t, shutdownWithin(t, group, 2*time.Second))
		assert.True(t, sub.closed)
	})

	t.Run("consumers after a failed start", func(t *testing.T) {
		var journal []string

		sub := newMockSubscriber()
		group := messaging.NewConsumerGroup(sub, zap.NewNop())
		group.Add(&stage{name: "broken", journal: &journal, failStart: errors.New("no such stream")})
		group.Add(messaging.NewConsumer(sub, "ratelimit.denied", noop, zap.NewNop()))

		require.Error(t, group.Start(context.Background()))
		require.NoError(t, shutdownWithin(t, group, 2*time.Second))
	})
}
