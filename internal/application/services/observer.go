package services

import (
	"sync"

	"github.com/bimakw/walletsync/internal/domain/entities"
)

// Observer receives updates from the refresh scheduler. OnUpdate is called
// serially and must not call Stop on the scheduler.
type Observer interface {
	OnUpdate(update entities.WalletUpdate)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(update entities.WalletUpdate)

// OnUpdate implements Observer
func (f ObserverFunc) OnUpdate(update entities.WalletUpdate) {
	f(update)
}

// MultiObserver fans an update out to several observers in order
type MultiObserver []Observer

// OnUpdate implements Observer
func (m MultiObserver) OnUpdate(update entities.WalletUpdate) {
	for _, o := range m {
		o.OnUpdate(update)
	}
}

// ChannelObserver hands updates to a single consumer. When the consumer falls
// behind, the buffered update is replaced by the newest one.
type ChannelObserver struct {
	mu sync.Mutex
	ch chan entities.WalletUpdate
}

// NewChannelObserver creates a latest-wins channel observer
func NewChannelObserver() *ChannelObserver {
	return &ChannelObserver{ch: make(chan entities.WalletUpdate, 1)}
}

// OnUpdate implements Observer; it never blocks
func (o *ChannelObserver) OnUpdate(update entities.WalletUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()

	select {
	case <-o.ch:
	default:
	}
	o.ch <- update
}

// Updates returns the receive side of the observer
func (o *ChannelObserver) Updates() <-chan entities.WalletUpdate {
	return o.ch
}
