package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fmuoria/cv-shortlist-agent/internal/gui"
)

var guiCmd = &cobra.Command{
	Use:   "gui",
	Short: "Open the desktop application",
	RunE: func(cmd *cobra.Command, _ []string) error {
		log, err := newLogger()
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		defer log.Sync()

		cfg, err := getConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		shortlistAgent := newAgent(ctx, cfg, log)
		defer shortlistAgent.Close()

		gui.NewApp(cfg, shortlistAgent, log).Run()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(guiCmd)
}
