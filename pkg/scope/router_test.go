package scope

import (
	"errors"
	"testing"
)

func TestRouterDeliversPerChannel(t *testing.T) {
	r := NewRouter(8)
	sub3, err := r.Subscribe(3)
	if err != nil {
		t.Fatalf("Subscribe(3) error = %v", err)
	}
	sub5, err := r.Subscribe(5)
	if err != nil {
		t.Fatalf("Subscribe(5) error = %v", err)
	}

	r.Dispatch([]Sample{
		{Channel: 3, Values: []float64{1}},
		{Channel: 5, Values: []float64{2}},
		{Channel: 3, Values: []float64{3}},
		{Channel: 7, Values: []float64{4}}, // nobody listening
	})

	batch := <-sub3.Samples()
	if len(batch) != 2 || batch[0].Values[0] != 1 || batch[1].Values[0] != 3 {
		t.Errorf("channel 3 batch = %v, want samples 1 and 3 in order", batch)
	}
	batch = <-sub5.Samples()
	if len(batch) != 1 || batch[0].Values[0] != 2 {
		t.Errorf("channel 5 batch = %v, want sample 2", batch)
	}

	select {
	case extra := <-sub3.Samples():
		t.Errorf("unexpected extra batch %v", extra)
	default:
	}
}

func TestRouterOrderPreserved(t *testing.T) {
	r := NewRouter(16)
	sub, err := r.Subscribe(0)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		r.Dispatch([]Sample{{Channel: 0, Values: []float64{float64(i)}}})
	}
	for i := 0; i < 5; i++ {
		batch := <-sub.Samples()
		if batch[0].Values[0] != float64(i) {
			t.Fatalf("batch %d carries value %v", i, batch[0].Values[0])
		}
	}
}

func TestRouterQueueFullDrops(t *testing.T) {
	r := NewRouter(1)
	sub, err := r.Subscribe(2)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		r.Dispatch([]Sample{{Channel: 2, Values: []float64{float64(i)}}})
	}

	if got := r.Drops(2); got != 2 {
		t.Errorf("Drops() = %d, want 2", got)
	}
	batch := <-sub.Samples()
	if batch[0].Values[0] != 0 {
		t.Errorf("delivered batch = %v, want the first dispatched", batch)
	}
}

func TestRouterUnsubscribeIdempotent(t *testing.T) {
	r := NewRouter(4)
	sub, err := r.Subscribe(1)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	r.Unsubscribe(sub)
	r.Unsubscribe(sub)
	r.Unsubscribe(nil)

	if _, ok := <-sub.Samples(); ok {
		t.Error("subscription channel not closed")
	}

	// no delivery after unsubscribe
	r.Dispatch([]Sample{{Channel: 1}})
	if got := r.Drops(1); got != 0 {
		t.Errorf("Drops() = %d after unsubscribe, want 0", got)
	}
}

func TestRouterClose(t *testing.T) {
	r := NewRouter(4)
	sub, err := r.Subscribe(0)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	r.Close()
	r.Close()

	if _, ok := <-sub.Samples(); ok {
		t.Error("subscription channel not closed on router close")
	}
	if _, err := r.Subscribe(0); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Subscribe() after close error = %v, want ErrSessionClosed", err)
	}
	r.Dispatch([]Sample{{Channel: 0}}) // must be a no-op
	r.Unsubscribe(sub)
}
