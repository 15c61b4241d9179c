package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/takopi-dev/takopi/internal/runner"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup: write ~/.takopi/takopi.toml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnboard()
		},
	}
}

func runOnboard() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	target := filepath.Join(home, ".takopi", "takopi.toml")

	if _, statErr := os.Stat(target); statErr == nil {
		overwrite := false
		confirm := huh.NewConfirm().
			Title(target + " already exists. Overwrite?").
			Value(&overwrite)
		if err := huh.NewForm(huh.NewGroup(confirm)).Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println("Keeping the existing config.")
			return nil
		}
	}

	engineIDs := runner.IDs()
	options := make([]huh.Option[string], 0, len(engineIDs))
	for _, id := range engineIDs {
		options = append(options, huh.NewOption(string(id), string(id)))
	}

	var (
		token         string
		chatIDStr     string
		defaultEngine string
		smartRouting  = true
	)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram bot token").
				Description("From @BotFather").
				Value(&token).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("token is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Telegram chat id").
				Description("The chat takopi listens to; 0 accepts any chat").
				Value(&chatIDStr).
				Validate(func(s string) error {
					if s == "" {
						return nil
					}
					_, convErr := strconv.ParseInt(s, 10, 64)
					return convErr
				}),
			huh.NewSelect[string]().
				Title("Default engine").
				Options(options...).
				Value(&defaultEngine),
			huh.NewConfirm().
				Title("Enable smart routing to the liaison for multi-agent prompts?").
				Value(&smartRouting),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	chatID := int64(0)
	if chatIDStr != "" {
		chatID, _ = strconv.ParseInt(chatIDStr, 10, 64)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "default_engine = %q\n\n", defaultEngine)
	fmt.Fprintf(&b, "[telegram]\ntoken = %q\nchat_id = %d\n\n", strings.TrimSpace(token), chatID)
	fmt.Fprintf(&b, "[router]\nenabled = %t\nsuggest_only = true\n", smartRouting)

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	// The token is a credential; keep the file private.
	if err := os.WriteFile(target, []byte(b.String()), 0o600); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", target)
	fmt.Println("Run `takopi doctor` to check backend CLIs, then `takopi` to start.")
	return nil
}
