package broker

import (
	"context"
	"errors"
)

// Disposition tells the driver what to do with a delivery once the handler returns.
type Disposition int

const (
	// Ack removes the delivery from the queue.
	Ack Disposition = iota
	// Requeue returns the delivery for redelivery.
	Requeue
	// Reject drops the delivery, dead-lettering it when the driver has somewhere to put it.
	Reject
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

type Message struct {
	RoutingKey string
	MessageID  string
	Body       []byte
	Headers    map[string]string
}

type Handler func(ctx context.Context, msg Message) Disposition

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type Consumer interface {
	// Run blocks until ctx is cancelled or the connection is lost for good.
	Run(ctx context.Context) error
	Close() error
}

var ErrClosed = errors.New("broker connection closed")

// Route binds a queue, or topic for log based drivers, to the handler that processes it.
type Route struct {
	Queue      string
	RoutingKey string
	Handler    Handler
}
