package normalize

import (
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/shopspring/decimal"
)

func TestEventMapsCanonicalFields(t *testing.T) {
	raw := []byte(`{"type":"INCOMING_NATIVE_TX"}`)
	data := map[string]any{
		"address":       "0xabc",
		"amount":        "1.5",
		"txId":          "0xdead",
		"confirmations": float64(15),
		"chain":         "ethereum",
		"from":          "0xfeed",
		"blockNumber":   float64(120033),
	}

	event, err := Event("INCOMING_NATIVE_TX", data, raw)
	if err != nil {
		t.Fatalf("normalize event: %v", err)
	}
	if event.Address != "0xabc" {
		t.Fatalf("expected address 0xabc, got %q", event.Address)
	}
	if event.TransactionHash != "0xdead" {
		t.Fatalf("expected tx hash 0xdead, got %q", event.TransactionHash)
	}
	if !event.Amount.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("expected amount 1.5, got %s", event.Amount)
	}
	if event.RawAmount != "1.5" {
		t.Fatalf("expected raw amount 1.5, got %q", event.RawAmount)
	}
	if event.Confirmations != 15 {
		t.Fatalf("expected 15 confirmations, got %d", event.Confirmations)
	}
	if event.Chain != "ethereum" {
		t.Fatalf("expected chain ethereum, got %q", event.Chain)
	}
	if event.BlockNumber != 120033 {
		t.Fatalf("expected block 120033, got %d", event.BlockNumber)
	}
	if string(event.Raw) != string(raw) {
		t.Fatalf("expected raw payload preserved")
	}
}

func TestEventFieldAliasOrder(t *testing.T) {
	data := map[string]any{
		"to":              "rAddr1",
		"hash":            "ABCDEF",
		"transactionHash": "should-not-win",
		"value":           "42",
		"destinationTag":  float64(12345),
	}

	event, err := Event("INCOMING_XRP_TX", data, nil)
	if err != nil {
		t.Fatalf("normalize event: %v", err)
	}
	if event.Address != "rAddr1" {
		t.Fatalf("expected alias address, got %q", event.Address)
	}
	if event.TransactionHash != "ABCDEF" {
		t.Fatalf("expected hash alias to win, got %q", event.TransactionHash)
	}
	if event.Memo != "12345" {
		t.Fatalf("expected numeric tag rendered as string, got %q", event.Memo)
	}
	if !event.Amount.Equal(decimal.RequireFromString("42")) {
		t.Fatalf("expected amount 42, got %s", event.Amount)
	}
}

func TestEventInfersChainFromType(t *testing.T) {
	cases := map[string]string{
		"INCOMING_BTC_TX":      "bitcoin",
		"INCOMING_ETH_TX":      "ethereum",
		"INCOMING_ERC20_TX":    "ethereum",
		"INCOMING_XRP_PAYMENT": "xrp",
		"TRON_TRANSFER":        "tron",
		"SOL_TRANSFER":         "solana",
		"UNKNOWN_EVENT":        "",
	}
	for eventType, want := range cases {
		event, err := Event(eventType, map[string]any{
			"address": "addr",
			"txId":    "tx",
		}, nil)
		if err != nil {
			t.Fatalf("normalize %s: %v", eventType, err)
		}
		if event.Chain != want {
			t.Fatalf("type %s: expected chain %q, got %q", eventType, want, event.Chain)
		}
	}
}

func TestEventMissingRequiredFields(t *testing.T) {
	cases := []map[string]any{
		nil,
		{"txId": "tx"},
		{"address": "addr"},
	}
	for i, data := range cases {
		_, err := Event("INCOMING_NATIVE_TX", data, nil)
		if err == nil {
			t.Fatalf("case %d: expected error for missing required field", i)
		}
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			t.Fatalf("case %d: expected categorized error, got %T", i, err)
		}
		if richErr.Category != goerrors.CategoryBadInput {
			t.Fatalf("case %d: expected bad input category, got %s", i, richErr.Category)
		}
	}
}

func TestEventMalformedValuesDegrade(t *testing.T) {
	event, err := Event("INCOMING_NATIVE_TX", map[string]any{
		"address":       "addr",
		"txId":          "tx",
		"amount":        "not-a-number",
		"confirmations": "banana",
	}, nil)
	if err != nil {
		t.Fatalf("normalize event: %v", err)
	}
	if !event.Amount.IsZero() {
		t.Fatalf("expected malformed amount to parse as zero, got %s", event.Amount)
	}
	if event.Confirmations != 0 {
		t.Fatalf("expected malformed confirmations to be 0, got %d", event.Confirmations)
	}
}

func TestEventOutOfRangeCountsDegrade(t *testing.T) {
	cases := []any{"1e30", float64(1e30), "-3", float64(-1)}
	for _, value := range cases {
		event, err := Event("INCOMING_NATIVE_TX", map[string]any{
			"address":       "addr",
			"txId":          "tx",
			"confirmations": value,
			"blockNumber":   value,
		}, nil)
		if err != nil {
			t.Fatalf("normalize event with %v: %v", value, err)
		}
		if event.Confirmations != 0 {
			t.Fatalf("value %v: expected confirmations 0, got %d", value, event.Confirmations)
		}
		if event.BlockNumber != 0 {
			t.Fatalf("value %v: expected block number 0, got %d", value, event.BlockNumber)
		}
	}
}
