package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "devsession",
		Short:         "Save and restore the editor files open in a project",
		Long:          "devsession records which files are open in a project, and where the cursor sits in each, into .devsession/session.json so the session can be restored later or on another machine.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	var rootDir string
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", ".", "Project root directory")

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}
	app.rootDir = &rootDir

	rootCmd.AddCommand(
		newVersionCmd(),
		newSaveCmd(app),
		newRestoreCmd(app),
		newSyncCmd(app),
		newShowCmd(app),
		newDeviceCmd(app),
		newWatchCmd(app),
		newServeCmd(app),
	)

	return rootCmd
}
