package core

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MadGoatHaz/goatd-kernel/src/goatd/internal/auditor"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the running kernel's scheduler, HZ, preemption, LTO, MGLRU, and loaded modules (hardening posture is not inspected)",
	RunE:  runAudit,
}

func runAudit(cmd *cobra.Command, args []string) error {
	report, err := auditor.New().Audit()
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal audit report: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
