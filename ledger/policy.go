package ledger

import "strings"

// DefaultRequired applies to chains missing from the table. High on
// purpose: an unknown chain waits rather than crediting early.
const DefaultRequired = 12

// ConfirmationPolicy is the static chain -> required confirmations table.
type ConfirmationPolicy struct {
	table map[string]int
}

func NewConfirmationPolicy(table map[string]int) *ConfirmationPolicy {
	normalized := make(map[string]int, len(table))
	for chain, required := range table {
		chain = strings.ToLower(strings.TrimSpace(chain))
		if chain == "" || required <= 0 {
			continue
		}
		normalized[chain] = required
	}
	return &ConfirmationPolicy{table: normalized}
}

func (p *ConfirmationPolicy) Required(chain string) int {
	if p == nil {
		return DefaultRequired
	}
	if required, ok := p.table[strings.ToLower(strings.TrimSpace(chain))]; ok {
		return required
	}
	return DefaultRequired
}

func (p *ConfirmationPolicy) IsConfirmed(chain string, confirmations int) bool {
	return confirmations >= p.Required(chain)
}
