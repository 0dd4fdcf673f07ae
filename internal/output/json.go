package output

import (
	"encoding/json"
	"fmt"

	"github.com/jbweber/anvil/internal/hypervisor"
	"github.com/jbweber/anvil/internal/reconcile"
)

// JSONFormatter formats results as JSON.
type JSONFormatter struct{}

// FormatOutcome formats a reconciliation outcome as JSON.
func (f *JSONFormatter) FormatOutcome(outcome reconcile.Outcome) (string, error) {
	data, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal outcome to JSON: %w", err)
	}

	return string(data) + "\n", nil
}

// FormatDomainList formats host domains as a JSON array.
func (f *JSONFormatter) FormatDomainList(domains []hypervisor.DomainSummary) (string, error) {
	if len(domains) == 0 {
		return "[]\n", nil
	}

	data, err := json.MarshalIndent(domains, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal domains to JSON: %w", err)
	}

	return string(data) + "\n", nil
}
