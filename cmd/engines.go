package cmd

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/takopi-dev/takopi/internal/runner"
)

func enginesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "List registered backend engines",
		Run: func(cmd *cobra.Command, args []string) {
			for _, backend := range runner.List() {
				status := "available"
				if _, err := exec.LookPath(backend.Command); err != nil {
					status = "missing (" + backend.InstallHint + ")"
				}
				fmt.Printf("%-8s %-8s %s\n", backend.ID, backend.Command, status)
			}
		},
	}
}
