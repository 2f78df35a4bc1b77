package server

// ErrorResponse represents a standardized error response format
type ErrorResponse struct {
	Error   string `json:"error"`             // Human-readable error message
	Code    int    `json:"code"`              // HTTP status code
	Details any    `json:"details,omitempty"` // Additional error details (dev mode only)
}

// HealthResponse reports bus reachability and the number of watched pairs
type HealthResponse struct {
	OK          bool   `json:"ok"`
	Bus         string `json:"bus"`
	ActivePairs int    `json:"activePairs"`
}

// PairStatus is one active pair as returned by /v1/pairs
type PairStatus struct {
	Pair              string `json:"pair"`
	MemeTokenAddress  string `json:"memeTokenAddress"`
	BaseTokenAddress  string `json:"baseTokenAddress"`
	MemeTokenDecimals uint8  `json:"memeTokenDecimals"`
	BaseTokenDecimals uint8  `json:"baseTokenDecimals"`
	LastBoughtAt      int64  `json:"lastBoughtAt"`
	Ordering          int    `json:"ordering"` // Meme token slot: 0 = token0, 1 = token1
}

// PairsResponse wraps the active pair list
type PairsResponse struct {
	Count int          `json:"count"`
	Items []PairStatus `json:"items"`
}
