package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPlayerRunsSequentially(t *testing.T) {
	var (
		mu    sync.Mutex
		calls [][]string
		done  = make(chan struct{}, 3)
	)
	run := func(_ context.Context, argv []string) error {
		mu.Lock()
		calls = append(calls, argv)
		mu.Unlock()
		done <- struct{}{}
		if argv[len(argv)-1] == "bad.mp3" {
			return errors.New("no such file")
		}
		return nil
	}
	p := NewPlayer("ffplay -nodisp", run)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Play("a.mp3")
	p.Play("bad.mp3")
	p.Play("b.mp3")
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("sound not played")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"a.mp3", "bad.mp3", "b.mp3"}
	for i, argv := range calls {
		if len(argv) != 3 || argv[0] != "ffplay" || argv[2] != want[i] {
			t.Errorf("call %d argv = %v", i, argv)
		}
	}
}

func TestPlayerDisabledWithoutCommand(t *testing.T) {
	p := NewPlayer("", func(context.Context, []string) error {
		t.Error("runner must not be called")
		return nil
	})
	p.Play("a.mp3")
	if len(p.queue) != 0 {
		t.Errorf("queue length = %d, want 0", len(p.queue))
	}
}
