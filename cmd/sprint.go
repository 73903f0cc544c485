package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/pr-metrics/internal/config"
	"github.com/naka-gawa/pr-metrics/internal/sprint"
)

var sprintCmd = &cobra.Command{
	Use:   "sprint",
	Short: "Prints the sprint label of the current week",
	RunE: func(cmd *cobra.Command, args []string) error {
		startStr, _ := cmd.Flags().GetString("start")
		dateStr, _ := cmd.Flags().GetString("date")

		if startStr == "" {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			startStr = cfg.Sprint.StartDate
		}
		start, err := time.Parse(time.DateOnly, startStr)
		if err != nil {
			return fmt.Errorf("invalid --start date format, please use YYYY-MM-DD: %w", err)
		}

		calendar := sprint.New(start, time.Now)
		if dateStr == "" {
			fmt.Fprintln(cmd.OutOrStdout(), calendar.CurrentSprintID())
			return nil
		}
		date, err := time.Parse(time.DateOnly, dateStr)
		if err != nil {
			return fmt.Errorf("invalid --date format, please use YYYY-MM-DD: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), calendar.Lookup(date))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sprintCmd)
	sprintCmd.Flags().String("start", "", "Sprint calendar start date (YYYY-MM-DD); read from the config when empty")
	sprintCmd.Flags().String("date", "", "Look up the sprint of this date (YYYY-MM-DD) instead of today")
}
