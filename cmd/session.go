package cmd

import (
	"errors"
	"fmt"

	"github.com/bnema/devsession/internal/domain"
	"github.com/spf13/cobra"
)

func newSaveCmd(app *app) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "save",
		Short: "Capture the open editors into the project session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			coordinator, err := app.commandCoordinator(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer coordinator.Close()

			_, err = coordinator.CaptureNow(cmd.Context(), note)
			return err
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Free-form note stored with the session")
	return cmd
}

func newRestoreCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Reopen every file of the project session at its cursor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			coordinator, err := app.commandCoordinator(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer coordinator.Close()

			report, err := runRestoreWithSpinner(cmd.Context(), cmd.ErrOrStderr(), coordinator.RestoreNow)
			if errors.Is(err, domain.ErrSessionNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			for _, path := range report.Failed {
				if _, err := fmt.Fprintf(cmd.OutOrStdout(), "  could not reopen %s\n", path); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newSyncCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Restore the session when another device wrote it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			coordinator, err := app.commandCoordinator(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer coordinator.Close()

			restored, err := coordinator.SyncIfStale(cmd.Context())
			if err != nil {
				return err
			}
			if !restored {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "Nothing to sync")
			}
			return err
		},
	}
}
