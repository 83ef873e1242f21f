package entity

// StockPriceUpdate is the broadcast group event for one ticker.
type StockPriceUpdate struct {
	Type  string `json:"type"`
	Stock string `json:"stock"`
	Price string `json:"price"`
}

// ClientPriceFrame is the text frame written to a subscribed client socket.
type ClientPriceFrame struct {
	Stock string `json:"stock"`
	Price string `json:"price"`
}

type User struct {
	ID        string
	Name      string
	Anonymous bool
}

var AnonymousUser = User{Anonymous: true}
