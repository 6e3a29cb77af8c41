package chat

import "time"

// Status is the per-recipient delivery state. It only moves forward.
type Status int

const (
	StatusSent Status = iota
	StatusDelivered
	StatusRead
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "sent"
	}
}

// Receipt holds the delivery and read times recorded by one recipient.
type Receipt struct {
	DeliveredAt *time.Time
	ReadAt      *time.Time
}

func (r Receipt) Status() Status {
	switch {
	case r.ReadAt != nil:
		return StatusRead
	case r.DeliveredAt != nil:
		return StatusDelivered
	default:
		return StatusSent
	}
}

// Deliver returns the receipt after a delivery event at `at`.
// The second result is false when the receipt already recorded a delivery.
func (r Receipt) Deliver(at time.Time) (Receipt, bool) {
	if r.DeliveredAt != nil {
		return r, false
	}
	r.DeliveredAt = &at
	return r, true
}

// Read returns the receipt after a read event at `at`.
// A read without a prior delivery also records the delivery at the same time.
func (r Receipt) Read(at time.Time) (Receipt, bool) {
	if r.ReadAt != nil {
		return r, false
	}
	r.ReadAt = &at
	if r.DeliveredAt == nil {
		r.DeliveredAt = &at
	}
	return r, true
}
