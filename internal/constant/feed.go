package constant

import "strings"

const (
	DistributionSubjectTickPrefix = "quote.tick."
	DistributionSubjectHeartbeat  = "quote.heartbeat"

	GroupChannelPrefix = "quote:group:"

	RedisKeyUpstreamLease = "quote:upstream:lease"
	RedisKeyHeartbeat     = "quote:heartbeat:"
	RedisKeyRunID         = "quote:run:"
	RedisKeyLastPrice     = "quote:price:"

	MessageTypeStockPriceUpdate = "stock_price_update"
)

var subjectTokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// GetDistributionTickSubject maps a ticker suffix onto a single nats subject token.
// Suffixes like "BRK.B" would otherwise span two tokens.
func GetDistributionTickSubject(suffix string) string {
	return DistributionSubjectTickPrefix + subjectTokenReplacer.Replace(suffix)
}

func GetGroupChannel(group string) string {
	return GroupChannelPrefix + group
}

func GetHeartbeatKey(component string) string {
	return RedisKeyHeartbeat + component
}

func GetRunIDKey(component string) string {
	return RedisKeyRunID + component
}

func GetLastPriceKey(suffix string) string {
	return RedisKeyLastPrice + suffix
}
