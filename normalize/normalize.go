// Package normalize maps provider payload shapes into the canonical event the
// rest of the pipeline consumes. Mapping is pure; all I/O stays with callers.
package normalize

import (
	"fmt"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/shopspring/decimal"

	"github.com/coinhaven/depositd/core"
)

// Field candidates in priority order. Providers rename fields across event
// families, so each logical field carries an explicit alias list instead of
// ad hoc lookups scattered through the handler.
var (
	addressFields         = []string{"address", "to", "toAddress", "counterAddress"}
	transactionHashFields = []string{"txId", "hash", "transactionHash", "txHash"}
	amountFields          = []string{"amount", "value"}
	confirmationFields    = []string{"confirmations", "confirmationCount"}
	memoFields            = []string{"memo", "destinationTag", "tag", "message"}
	fromFields            = []string{"from", "fromAddress", "sender"}
	blockFields           = []string{"blockNumber", "blockHeight", "block"}
	assetFields           = []string{"asset", "currency", "tokenSymbol"}
	chainFields           = []string{"chain", "blockchain"}
	networkFields         = []string{"network"}
)

// chainMarkers infers a chain from the event type when the payload omits one,
// e.g. "INCOMING_BTC_TX" -> bitcoin. Checked in order.
var chainMarkers = []struct {
	marker string
	chain  string
}{
	{"BTC", "bitcoin"},
	{"BITCOIN", "bitcoin"},
	{"ETH", "ethereum"},
	{"ERC20", "ethereum"},
	{"XRP", "xrp"},
	{"RIPPLE", "xrp"},
	{"TRON", "tron"},
	{"TRX", "tron"},
	{"SOL", "solana"},
}

// Event builds a NormalizedEvent from a decoded payload body. The raw bytes
// travel with the event so failure capture can persist the original payload.
// Missing address or transaction hash is a permanent error; malformed
// amounts default to zero and are rejected downstream as non-positive.
func Event(eventType string, data map[string]any, raw []byte) (core.NormalizedEvent, error) {
	if data == nil {
		return core.NormalizedEvent{}, badPayload("payload data object is required")
	}

	address := firstString(data, addressFields)
	if address == "" {
		return core.NormalizedEvent{}, badPayload("payload address is required")
	}

	txHash := firstString(data, transactionHashFields)
	if txHash == "" {
		return core.NormalizedEvent{}, badPayload("payload transaction hash is required")
	}

	rawAmount := firstString(data, amountFields)
	if rawAmount == "" {
		rawAmount = "0"
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		amount = decimal.Zero
	}

	chain := strings.ToLower(firstString(data, chainFields))
	if chain == "" {
		chain = inferChain(eventType)
	}

	return core.NormalizedEvent{
		Address:         address,
		Chain:           chain,
		Network:         strings.ToLower(firstString(data, networkFields)),
		Asset:           strings.ToUpper(firstString(data, assetFields)),
		Amount:          amount,
		RawAmount:       rawAmount,
		TransactionHash: txHash,
		FromAddress:     firstString(data, fromFields),
		Memo:            firstString(data, memoFields),
		Confirmations:   firstCount(data, confirmationFields),
		BlockNumber:     firstInt64(data, blockFields),
		Raw:             raw,
	}, nil
}

func badPayload(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithTextCode(core.ErrorCodeBadInput)
}

func inferChain(eventType string) string {
	upper := strings.ToUpper(eventType)
	for _, candidate := range chainMarkers {
		if strings.Contains(upper, candidate.marker) {
			return candidate.chain
		}
	}
	return ""
}

// firstString returns the first candidate field that coerces to a non-empty
// string. Numeric values are rendered, so numeric tags and amounts survive
// JSON decoding as float64.
func firstString(data map[string]any, fields []string) string {
	for _, field := range fields {
		value, ok := data[field]
		if !ok || value == nil {
			continue
		}
		if s := coerceString(value); s != "" {
			return s
		}
	}
	return ""
}

func coerceString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// maxExactCount bounds parsed counters to float64's exact-integer range;
// int(parsed) is undefined past it and anything larger is garbage input.
const maxExactCount = float64(1 << 53)

// firstCount parses the first candidate as a non-negative integer. Malformed,
// negative, or out-of-range values count as zero confirmations rather than
// an error.
func firstCount(data map[string]any, fields []string) int {
	raw := firstString(data, fields)
	if raw == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed < 0 || parsed > maxExactCount {
		return 0
	}
	return int(parsed)
}

func firstInt64(data map[string]any, fields []string) int64 {
	raw := firstString(data, fields)
	if raw == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed < 0 || parsed > maxExactCount {
		return 0
	}
	return int64(parsed)
}
