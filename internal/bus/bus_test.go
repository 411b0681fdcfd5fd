package bus

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pulse.klederson.com/internal/metrics"
	"pulse.klederson.com/internal/state"
)

type dropCounter struct {
	metrics.Nop
	drops atomic.Int32
}

func (d *dropCounter) BusDropped() { d.drops.Add(1) }

func TestBus_FanOut(t *testing.T) {
	b := New(4, nil)
	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub1()
	defer unsub2()

	b.Publish(StatusEvent{Phase: state.Connected, Device: "H10"})
	b.Publish(SampleEvent{Sample: state.Sample{Value: 72, Timestamp: 1000}})

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := <-ch
		require.Equal(t, KindStatus, ev.Kind())
		require.Equal(t, state.Connected, ev.(StatusEvent).Phase)

		ev = <-ch
		require.Equal(t, KindSample, ev.Kind())
		require.Equal(t, 72.0, ev.(SampleEvent).Sample.Value)
	}
}

func TestBus_UnsubscribedMissesEvents(t *testing.T) {
	b := New(4, nil)
	ch, unsub := b.Subscribe()
	unsub()
	unsub()

	b.Publish(SettingsChangedEvent{})

	_, ok := <-ch
	require.False(t, ok, "channel closed on unsubscribe")
	require.Zero(t, b.Subscribers())
}

func TestBus_SlowSubscriberDropsWithoutBlocking(t *testing.T) {
	dc := &dropCounter{}
	b := New(1, dc)
	_, unsub := b.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Publish(SampleEvent{Sample: state.Sample{Value: float64(60 + i)}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	require.Equal(t, int32(4), dc.drops.Load())
}

func TestKindString(t *testing.T) {
	require.Equal(t, "status", KindStatus.String())
	require.Equal(t, "sample", KindSample.String())
	require.Equal(t, "settingsChanged", KindSettingsChanged.String())
}
