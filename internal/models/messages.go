// ============================================================================
// models/messages.go - bus payloads
// ============================================================================
package models

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ControlMessage is an inbound command on the token-actions channel.
type ControlMessage struct {
	Action            string    `json:"action"`
	Pair              string    `json:"pair"`
	MemeTokenAddress  string    `json:"memeTokenAddress"`
	BaseTokenAddress  string    `json:"baseTokenAddress,omitempty"`
	MemeTokenDecimals *Decimals `json:"memeTokenDecimals,omitempty"`
	BaseTokenDecimals *Decimals `json:"baseTokenDecimals,omitempty"`
}

// UnmarshalJSON treats empty-string or null decimals as absent so they fall
// back to the default.
func (m *ControlMessage) UnmarshalJSON(b []byte) error {
	type alias ControlMessage
	aux := struct {
		*alias
		MemeTokenDecimals json.RawMessage `json:"memeTokenDecimals"`
		BaseTokenDecimals json.RawMessage `json:"baseTokenDecimals"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	var err error
	if m.MemeTokenDecimals, err = parseDecimals(aux.MemeTokenDecimals); err != nil {
		return err
	}
	m.BaseTokenDecimals, err = parseDecimals(aux.BaseTokenDecimals)
	return err
}

func parseDecimals(raw json.RawMessage) (*Decimals, error) {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 || string(v) == "null" || len(bytes.TrimSpace(bytes.Trim(v, `"`))) == 0 {
		return nil, nil
	}
	d := new(Decimals)
	if err := d.UnmarshalJSON(v); err != nil {
		return nil, err
	}
	return d, nil
}

// TrackedPair converts a create command into a pair record, defaulting
// missing decimals to def.
func (m ControlMessage) TrackedPair(def uint8) TrackedPair {
	return TrackedPair{
		Pair:              m.Pair,
		MemeTokenAddress:  m.MemeTokenAddress,
		BaseTokenAddress:  m.BaseTokenAddress,
		MemeTokenDecimals: m.MemeTokenDecimals.Or(def),
		BaseTokenDecimals: m.BaseTokenDecimals.Or(def),
	}
}

// ErrorReport is published on the errors channel.
type ErrorReport struct {
	ID      string    `json:"id"`
	Error   string    `json:"error"`
	Pair    string    `json:"pair,omitempty"`
	Context string    `json:"context,omitempty"`
	TxHash  string    `json:"txHash,omitempty"`
	Buyer   string    `json:"buyer,omitempty"`
	Time    time.Time `json:"time"`
}

// NewErrorReport builds a report from err and optional metadata keys
// (context, txHash, buyer).
func NewErrorReport(err error, pair string, meta map[string]string) ErrorReport {
	r := ErrorReport{
		ID:   uuid.NewString(),
		Pair: pair,
		Time: time.Now().UTC(),
	}
	if err != nil {
		r.Error = err.Error()
	}
	r.Context = meta["context"]
	r.TxHash = meta["txHash"]
	r.Buyer = meta["buyer"]
	return r
}

// InfoMessage is published on the info channel.
type InfoMessage struct {
	ID      string        `json:"id"`
	Message string        `json:"message"`
	Pairs   []TrackedPair `json:"pairs,omitempty"`
	Time    time.Time     `json:"time"`
}

func NewInfoMessage(msg string, pairs ...TrackedPair) InfoMessage {
	return InfoMessage{
		ID:      uuid.NewString(),
		Message: msg,
		Pairs:   pairs,
		Time:    time.Now().UTC(),
	}
}

func (r ErrorReport) PartitionKey() string { return r.Pair }
