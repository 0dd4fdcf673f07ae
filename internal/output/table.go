package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/jbweber/anvil/internal/hypervisor"
	"github.com/jbweber/anvil/internal/reconcile"
)

// TableFormatter formats results as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatOutcome formats a reconciliation outcome as a table row.
func (f *TableFormatter) FormatOutcome(outcome reconcile.Outcome) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tDECLARED\tSTATE\tIP\tCHANGED")
	}

	declared := outcome.VM.DeclaredState
	if declared == "" {
		declared = "-"
	}
	state := string(outcome.VM.State)
	if state == "" {
		state = "-"
	}
	ip := outcome.VM.IPAddress
	if ip == "" {
		ip = "-"
	}

	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", outcome.VM.Name, declared, state, ip, outcome.Changed)
	_ = w.Flush()

	if outcome.Failure != nil {
		fmt.Fprintf(&buf, "Error: %s\n", outcome.Failure.Error())
	}

	return buf.String(), nil
}

// FormatDomainList formats host domains as a table.
func (f *TableFormatter) FormatDomainList(domains []hypervisor.DomainSummary) (string, error) {
	if len(domains) == 0 {
		return "No VMs found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tSTATE\tCPUs\tMEMORY")
	}

	for _, domain := range domains {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d MiB\n",
			domain.Name, domain.State, domain.CPUs, domain.MemoryMB)
	}

	_ = w.Flush()
	return buf.String(), nil
}
