package flow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_DeliversByKind(t *testing.T) {
	bus := NewBus()

	var failed, all []Kind
	bus.Subscribe(KindLoginFailed, func(_ context.Context, e Event) {
		failed = append(failed, e.Kind())
	})
	bus.SubscribeAll(func(_ context.Context, e Event) {
		all = append(all, e.Kind())
	})

	ctx := context.Background()
	bus.Publish(ctx, LinkBuilt{Provider: "facebook"})
	bus.Publish(ctx, LoginFailed{Provider: "facebook", Reason: ReasonInvalidToken})
	bus.Publish(ctx, LoginSucceeded{Provider: "facebook"})

	assert.Equal(t, []Kind{KindLoginFailed}, failed)
	assert.Equal(t, []Kind{KindLinkBuilt, KindLoginFailed, KindLoginSucceeded}, all)
}

func TestBus_NilIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), LoginSucceeded{})
	})
}

func TestBus_ConcurrentPublishSubscribe(t *testing.T) {
	bus := NewBus()

	var (
		mu    sync.Mutex
		count int
	)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.SubscribeAll(func(context.Context, Event) {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), LinkBuilt{})
		}()
	}
	wg.Wait()

	count = 0
	bus.Publish(context.Background(), LinkBuilt{})
	assert.Equal(t, 20, count)
}
