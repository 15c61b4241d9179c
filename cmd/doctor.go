package cmd

import (
	"fmt"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/takopi-dev/takopi/internal/config"
	"github.com/takopi-dev/takopi/internal/runner"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check environment, config, and backend CLI availability",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("takopi doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  Config:   MISSING\n    %s\n", err)
	} else {
		fmt.Printf("  Config:   %s (OK)\n", cfg.Path)
		if cfg.Telegram.Token == "" {
			fmt.Println("    telegram.token is not set; run `takopi onboard`")
		}
	}
	fmt.Println()

	fmt.Println("  Engines:")
	for _, backend := range runner.List() {
		path, lookErr := exec.LookPath(backend.Command)
		if lookErr != nil {
			fmt.Printf("    %-8s NOT FOUND (%s)\n", backend.ID, backend.InstallHint)
			continue
		}
		fmt.Printf("    %-8s %s\n", backend.ID, path)
	}
}
