package feed

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeTrades_MissingFields(t *testing.T) {
	payload := json.RawMessage(`{"data":{"Solana":{"DEXTrades":[
		{"Transaction":{"Signature":"sig"},"Trade":{"Buy":{"Currency":{"MintAddress":"TARGET"}},"Sell":{"Amount":null}}}
	]}}}`)

	events, skipped, err := DecodeTrades(payload)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, events, 1)

	ev := events[0]
	assert.False(t, ev.SellAmount.Valid)
	assert.False(t, ev.BuyAmount.Valid)
	assert.True(t, ev.BlockTime.IsZero())
	assert.ElementsMatch(t, []string{"buyer", "sell_mint", "sell_amount"}, ev.MissingFields())
}

func TestDecodeTrades_SkipsUndecodable(t *testing.T) {
	payload := json.RawMessage(`{"data":{"Solana":{"DEXTrades":[
		{"Trade":{"Sell":{"Amount":"not-a-number"}}},
		{"Trade":{"Buy":{"Account":{"Address":"W1"}}}}
	]}}}`)

	events, skipped, err := DecodeTrades(payload)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, events, 1)
	assert.Equal(t, "W1", events[0].Buyer)
}

func TestDecodeTrades_GraphQLErrors(t *testing.T) {
	payload := json.RawMessage(`{"errors":[{"message":"limit exceeded"},{"message":"try later"}]}`)

	_, _, err := DecodeTrades(payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit exceeded; try later")
}

func TestSubscriptionQuery(t *testing.T) {
	q := SubscriptionQuery("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8")
	assert.Contains(t, q, `ProgramAddress: {is: "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"}`)
	assert.Contains(t, q, "Sell { Amount Currency { MintAddress } }")
}
