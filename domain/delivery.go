package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus transitions only forward:
// pending -> delivered, or pending -> failed -> dead.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryDead      DeliveryStatus = "dead"
)

// DeliveryLog is one outbound delivery unit: a single activity addressed to a
// single remote inbox. Attempts only ever increase.
type DeliveryLog struct {
	Id           uuid.UUID
	ActivityId   string // the activity's id URI, shared across fan-out rows
	ActivityJSON string
	TargetInbox  string
	ActorId      uuid.UUID // the signing local actor
	Status       DeliveryStatus
	Attempts     int
	LastError    string
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

// DestinationKey groups deliveries that must stay causally ordered:
// same local actor, same remote host.
func (d *DeliveryLog) DestinationKey() string {
	host, err := hostOf(d.TargetInbox)
	if err != nil || host == "" {
		host = d.TargetInbox
	}
	return d.ActorId.String() + "|" + host
}
