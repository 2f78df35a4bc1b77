package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlMessage_Decimals(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantMeme uint8
		wantBase uint8
		wantErr  bool
	}{
		{"numbers", `{"memeTokenDecimals":9,"baseTokenDecimals":6}`, 9, 6, false},
		{"numeric strings", `{"memeTokenDecimals":"9","baseTokenDecimals":" 6 "}`, 9, 6, false},
		{"absent", `{}`, 18, 18, false},
		{"null", `{"memeTokenDecimals":null}`, 18, 18, false},
		{"empty string", `{"memeTokenDecimals":"","baseTokenDecimals":"  "}`, 18, 18, false},
		{"zero is kept", `{"memeTokenDecimals":0}`, 0, 18, false},
		{"not a number", `{"memeTokenDecimals":"nine"}`, 0, 0, true},
		{"out of range", `{"memeTokenDecimals":256}`, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg ControlMessage
			err := json.Unmarshal([]byte(tt.payload), &msg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			p := msg.TrackedPair(18)
			assert.Equal(t, tt.wantMeme, p.MemeTokenDecimals)
			assert.Equal(t, tt.wantBase, p.BaseTokenDecimals)
		})
	}
}

func TestNewErrorReport(t *testing.T) {
	r := NewErrorReport(errors.New("receipt not found"), "0xpool", map[string]string{
		"context": "getTransactionReceipt",
		"txHash":  "0xabc",
	})

	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "receipt not found", r.Error)
	assert.Equal(t, "0xpool", r.Pair)
	assert.Equal(t, "getTransactionReceipt", r.Context)
	assert.Equal(t, "0xabc", r.TxHash)
	assert.Empty(t, r.Buyer)
	assert.Equal(t, "0xpool", r.PartitionKey())

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "buyer", "empty optional fields are omitted")
}

func TestTradeResult_JSONKeys(t *testing.T) {
	b, err := json.Marshal(TradeResult{Pair: "0xpool", Version: "v3", Chain: "base"})
	require.NoError(t, err)

	var keys map[string]any
	require.NoError(t, json.Unmarshal(b, &keys))
	for _, k := range []string{
		"totalTokensPurchased", "amountReceived", "cost", "userBalance", "tokenPrice",
		"pair", "tokenContract", "sender", "txnHash", "version", "chain",
	} {
		assert.Contains(t, keys, k)
	}
	assert.Len(t, keys, 11)
}
