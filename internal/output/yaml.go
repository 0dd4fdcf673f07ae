package output

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/anvil/internal/hypervisor"
	"github.com/jbweber/anvil/internal/reconcile"
)

// YAMLFormatter formats results as YAML.
type YAMLFormatter struct{}

// FormatOutcome formats a reconciliation outcome as YAML.
func (f *YAMLFormatter) FormatOutcome(outcome reconcile.Outcome) (string, error) {
	data, err := yaml.Marshal(outcome)
	if err != nil {
		return "", fmt.Errorf("failed to marshal outcome to YAML: %w", err)
	}

	return string(data), nil
}

// FormatDomainList formats host domains as YAML.
func (f *YAMLFormatter) FormatDomainList(domains []hypervisor.DomainSummary) (string, error) {
	if len(domains) == 0 {
		return "", nil
	}

	data, err := yaml.Marshal(domains)
	if err != nil {
		return "", fmt.Errorf("failed to marshal domains to YAML: %w", err)
	}

	return string(data), nil
}
