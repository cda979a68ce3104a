package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"solana-refunder/internal/domain"
)

// Subprotocol is the websocket subprotocol spoken by the trade stream.
const Subprotocol = "graphql-ws"

// Message kinds of the graphql-ws protocol.
const (
	KindConnectionInit  = "connection_init"
	KindConnectionAck   = "connection_ack"
	KindConnectionError = "connection_error"
	KindKeepAlive       = "ka"
	KindStart           = "start"
	KindStop            = "stop"
	KindData            = "data"
	KindError           = "error"
	KindComplete        = "complete"
	KindTerminate       = "connection_terminate"
)

// message is one graphql-ws frame in either direction.
type message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type initPayload struct {
	Headers map[string]string `json:"headers,omitempty"`
}

type startPayload struct {
	Query string `json:"query"`
}

const tradesSubscription = `subscription {
  Solana {
    DEXTrades(where: {Trade: {Dex: {ProgramAddress: {is: %q}}}}) {
      Block { Time }
      Transaction { Signature }
      Trade {
        Dex { ProgramAddress }
        Buy { Amount Account { Address } Currency { MintAddress } }
        Sell { Amount Currency { MintAddress } }
      }
    }
  }
}`

// SubscriptionQuery builds the DEX trade subscription for one program address.
func SubscriptionQuery(program string) string {
	return fmt.Sprintf(tradesSubscription, program)
}

// dataPayload is the payload of a data message.
type dataPayload struct {
	Data struct {
		Solana struct {
			DEXTrades []json.RawMessage `json:"DEXTrades"`
		} `json:"Solana"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type wireTrade struct {
	Block struct {
		Time string `json:"Time"`
	} `json:"Block"`
	Transaction struct {
		Signature string `json:"Signature"`
	} `json:"Transaction"`
	Trade struct {
		Dex struct {
			ProgramAddress string `json:"ProgramAddress"`
		} `json:"Dex"`
		Buy struct {
			Amount  decimal.NullDecimal `json:"Amount"`
			Account struct {
				Address string `json:"Address"`
			} `json:"Account"`
			Currency struct {
				MintAddress string `json:"MintAddress"`
			} `json:"Currency"`
		} `json:"Buy"`
		Sell struct {
			Amount   decimal.NullDecimal `json:"Amount"`
			Currency struct {
				MintAddress string `json:"MintAddress"`
			} `json:"Currency"`
		} `json:"Sell"`
	} `json:"Trade"`
}

// DecodeTrades decodes the trades of one data payload. Trades that cannot be
// decoded at all are counted in skipped; trades with missing fields are
// returned as-is for the consumer to reject.
func DecodeTrades(payload json.RawMessage) (events []domain.TradeEvent, skipped int, err error) {
	var p dataPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, 0, fmt.Errorf("decode data payload: %w", err)
	}
	if len(p.Errors) > 0 {
		msgs := make([]string, len(p.Errors))
		for i, e := range p.Errors {
			msgs[i] = e.Message
		}
		return nil, 0, fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
	}

	for _, raw := range p.Data.Solana.DEXTrades {
		var t wireTrade
		if err := json.Unmarshal(raw, &t); err != nil {
			skipped++
			continue
		}
		events = append(events, t.event())
	}
	return events, skipped, nil
}

func (t *wireTrade) event() domain.TradeEvent {
	ev := domain.TradeEvent{
		Signature:  t.Transaction.Signature,
		Program:    t.Trade.Dex.ProgramAddress,
		Buyer:      t.Trade.Buy.Account.Address,
		BuyMint:    t.Trade.Buy.Currency.MintAddress,
		BuyAmount:  t.Trade.Buy.Amount,
		SellMint:   t.Trade.Sell.Currency.MintAddress,
		SellAmount: t.Trade.Sell.Amount,
	}
	if t.Block.Time != "" {
		if ts, err := time.Parse(time.RFC3339Nano, t.Block.Time); err == nil {
			ev.BlockTime = ts
		}
	}
	return ev
}
