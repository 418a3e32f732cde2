package broadcast

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ResearchPipeline/internal/domain"
)

func chunk(text string) domain.Event {
	return domain.NewChunkEvent("run-1", domain.ChunkEvent{MessageID: "m1", StageName: "Finance", Chunk: text})
}

func drain(t *testing.T, sub *Subscription, n int) []domain.Event {
	t.Helper()
	out := make([]domain.Event, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestPublishDeliversInOrderToEverySubscriber(t *testing.T) {
	t.Parallel()

	b := New(1024, nil)
	first := b.Subscribe("conv")
	second := b.Subscribe("conv")

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				b.Publish("conv", chunk(fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	a := drain(t, first, 200)
	c := drain(t, second, 200)
	require.Len(t, a, 200)
	require.Len(t, c, 200)
	for i := range a {
		assert.Equal(t, a[i].Chunk.Chunk, c[i].Chunk.Chunk)
		assert.Equal(t, uint64(i+1), a[i].Seq)
	}
}

func TestScopesAreIsolated(t *testing.T) {
	t.Parallel()

	b := New(8, nil)
	sub := b.Subscribe("a")
	b.Publish("b", chunk("other"))
	b.Publish("a", chunk("mine"))

	got := drain(t, sub, 1)
	assert.Equal(t, "mine", got[0].Chunk.Chunk)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	t.Parallel()

	b := New(2, nil)
	slow := b.Subscribe("conv")
	fast := b.Subscribe("conv")

	done := make(chan []string)
	go func() {
		var seen []string
		for ev := range fast.C {
			seen = append(seen, ev.Chunk.Chunk)
			if len(seen) == 5 {
				break
			}
		}
		done <- seen
	}()

	for i := 0; i < 5; i++ {
		b.Publish("conv", chunk(fmt.Sprint(i)))
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case seen := <-done:
		assert.Equal(t, []string{"0", "1", "2", "3", "4"}, seen)
	case <-time.After(2 * time.Second):
		t.Fatal("fast subscriber stalled")
	}

	// slow never read; its buffer of 2 overflowed and it was removed.
	var buffered int
	for range slow.C {
		buffered++
	}
	assert.Equal(t, 2, buffered)
	assert.Equal(t, 1, b.SubscriberCount("conv"))
}

func TestDisconnectMidStreamDoesNotAffectOthers(t *testing.T) {
	t.Parallel()

	b := New(16, nil)
	stay := b.Subscribe("conv")
	leave := b.Subscribe("conv")

	b.Publish("conv", chunk("a"))
	b.Unsubscribe(leave)
	b.Unsubscribe(leave)
	b.Publish("conv", chunk("b"))

	got := drain(t, stay, 2)
	assert.Equal(t, "a", got[0].Chunk.Chunk)
	assert.Equal(t, "b", got[1].Chunk.Chunk)

	var left []domain.Event
	for ev := range leave.C {
		left = append(left, ev)
	}
	require.Len(t, left, 1)
	assert.Equal(t, "a", left[0].Chunk.Chunk)
}

func TestLateJoinerGetsNoReplay(t *testing.T) {
	t.Parallel()

	b := New(8, nil)
	early := b.Subscribe("conv")
	b.Publish("conv", chunk("before"))

	late := b.Subscribe("conv")
	b.Publish("conv", chunk("after"))

	assert.Len(t, drain(t, early, 2), 2)
	got := drain(t, late, 1)
	assert.Equal(t, "after", got[0].Chunk.Chunk)
	select {
	case ev := <-late.C:
		t.Fatalf("unexpected replayed event %+v", ev)
	default:
	}
}
