package entity

import "time"

type DistributionMessageType string

const (
	DistributionMessageTick      DistributionMessageType = "tick"
	DistributionMessageHeartbeat DistributionMessageType = "heartbeat"
)

// DistributionMessage is what travels on the internal distribution channel:
// either a priced tick or a bare heartbeat signal.
type DistributionMessage struct {
	Type   DistributionMessageType `json:"type"`
	Tick   *PricedTick             `json:"tick,omitempty"`
	SentAt time.Time               `json:"sent_at"`
}

func NewTickMessage(tick PricedTick) DistributionMessage {
	return DistributionMessage{Type: DistributionMessageTick, Tick: &tick, SentAt: time.Now().UTC()}
}

func NewHeartbeatMessage() DistributionMessage {
	return DistributionMessage{Type: DistributionMessageHeartbeat, SentAt: time.Now().UTC()}
}

func (m DistributionMessage) IsTick() bool {
	return m.Type == DistributionMessageTick && m.Tick != nil
}
