package chat

import (
	"context"
	"sync"
)

// Delivery is the pending result of one send. It settles exactly once with
// either the durable message id or an error.
type Delivery struct {
	tempID int64
	once   sync.Once
	done   chan struct{}
	id     int64
	err    error
}

func newDelivery(tempID int64) *Delivery {
	return &Delivery{tempID: tempID, done: make(chan struct{})}
}

func failedDelivery(err error) *Delivery {
	d := newDelivery(0)
	d.settle(0, err)
	return d
}

// ProvisionalID is the client-minted id; 0 when the send was refused before
// one was assigned.
func (d *Delivery) ProvisionalID() int64 { return d.tempID }

func (d *Delivery) Done() <-chan struct{} { return d.done }

// Result returns the outcome; valid only after Done is closed.
func (d *Delivery) Result() (int64, error) {
	<-d.done
	return d.id, d.err
}

// Wait blocks until the delivery settles or ctx ends. A ctx error does not
// settle the delivery.
func (d *Delivery) Wait(ctx context.Context) (int64, error) {
	select {
	case <-d.done:
		return d.id, d.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// settle reports whether this call was the one that settled d.
func (d *Delivery) settle(id int64, err error) bool {
	settled := false
	d.once.Do(func() {
		d.id, d.err = id, err
		close(d.done)
		settled = true
	})
	return settled
}
