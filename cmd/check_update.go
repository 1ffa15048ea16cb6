package main

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/satriahrh/arunika/device/adapters/ota"
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Width(10)

	availableStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	upToDateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)
)

var checkUpdateCmd = &cobra.Command{
	Use:   "check-update",
	Short: "Ask the update service for the latest firmware once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		newChecker := updateCheckerFactory(cfg, log)
		if newChecker == nil {
			return errors.New("ota.url is not configured")
		}
		checker, err := newChecker(cfg.Identity())
		if err != nil {
			return err
		}

		current := cfg.Device.FirmwareVersion
		info, err := checker.Check(cmd.Context(), current)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, labelStyle.Render("current")+current)
		fmt.Fprintln(out, labelStyle.Render("latest")+info.Version)
		fmt.Fprintln(out, labelStyle.Render("url")+info.URL)
		if ota.UpdateAvailable(current, info) {
			fmt.Fprintln(out, availableStyle.Render("update available"))
		} else {
			fmt.Fprintln(out, upToDateStyle.Render("up to date"))
		}
		return nil
	},
}
