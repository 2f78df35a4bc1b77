// ============================================================================
// models/pair.go
// ============================================================================
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TrackedPair is one watched pool as persisted in the pair store.
type TrackedPair struct {
	Pair              string `json:"pair"`
	MemeTokenAddress  string `json:"memeTokenAddress"`
	BaseTokenAddress  string `json:"baseTokenAddress"`
	MemeTokenDecimals uint8  `json:"memeTokenDecimals"`
	BaseTokenDecimals uint8  `json:"baseTokenDecimals"`
	LastBoughtAt      int64  `json:"lastBoughtAt"` // epoch milliseconds
}

// Decimals decodes a token decimal count sent either as a JSON number or as
// a numeric string. A nil *Decimals means the field was absent.
type Decimals uint8

func (d *Decimals) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		return nil
	}
	s = strings.TrimSpace(strings.Trim(s, `"`))
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return fmt.Errorf("invalid decimals %s: %w", string(b), err)
	}
	*d = Decimals(n)
	return nil
}

func (d Decimals) MarshalJSON() ([]byte, error) {
	return json.Marshal(uint8(d))
}

// Or returns the decoded value, or def when the field was absent.
func (d *Decimals) Or(def uint8) uint8 {
	if d == nil {
		return def
	}
	return uint8(*d)
}
