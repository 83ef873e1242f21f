package entity

const (
	UpstreamFrameTypeTrade = "trade"
	UpstreamFrameTypePing  = "ping"
	UpstreamFrameTypeError = "error"

	UpstreamControlSubscribe   = "subscribe"
	UpstreamControlUnsubscribe = "unsubscribe"
)

// UpstreamControlFrame is sent to the quote provider to change the live subscription set.
type UpstreamControlFrame struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// UpstreamFrame is any frame received from the quote provider.
type UpstreamFrame struct {
	Type string          `json:"type"`
	Data []UpstreamTrade `json:"data,omitempty"`
	Msg  string          `json:"msg,omitempty"`
}

type UpstreamTrade struct {
	Symbol    string  `json:"s"`
	Price     Price   `json:"p"`
	Timestamp int64   `json:"t,omitempty"`
	Volume    float64 `json:"v,omitempty"`
}
