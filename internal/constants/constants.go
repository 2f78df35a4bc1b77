package constants

import "time"

// Pub/Sub channels
const (
	ChannelTokenActions = "token-actions"
	ChannelBuys         = "buys"
	ChannelInfo         = "info"
	ChannelErrors       = "errors"
)

// Control actions
const (
	ActionCreate = "create"
	ActionDelete = "delete"
)

// Event signatures
const (
	// Transfer(address,address,uint256)
	TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	// Swap(address,address,int256,int256,uint160,uint128,int24)
	SwapV3Topic = "0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67"
)

// Trade tags
const (
	ProtocolVersion = "v3"
	DefaultChain    = "base"
)

// Formatting
const (
	TokenAmountPlaces = 3
	CostPlaces        = 4
	DefaultDecimals   = 18
	UnpricedMarker    = "NaN"
)

// Timing
const (
	DefaultProbeTimeout      = 5 * time.Second
	DefaultCallTimeout       = 15 * time.Second
	DefaultKeepalive         = 10 * time.Second
	DefaultLogPollInterval   = 2 * time.Second
	DefaultThrottleWindow    = 3 * time.Hour
	DefaultStaleThreshold    = 72 * time.Hour
	DefaultStaleScanInterval = 6 * time.Hour

	BackoffBase = 1 * time.Second
	BackoffMax  = 30 * time.Second
)

// Log polling
const (
	// MaxPollBlockRange bounds a single eth_getLogs window.
	MaxPollBlockRange = 500
)
