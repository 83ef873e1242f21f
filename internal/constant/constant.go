package constant

const (
	DevelopmentEnvironment = "development"
	ProductionEnvironment  = "production"
)

const (
	DatabaseQuoteStream = "quote_stream"

	RedisFeed  = "feed"
	RedisGroup = "group"

	PortHTTP = "http"
	PortGRPC = "grpc"
)
