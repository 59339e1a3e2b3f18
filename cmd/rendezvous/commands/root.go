package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

func Execute() error {
	root := &cobra.Command{
		Use:           "rendezvous",
		Short:         "Signaling and presence server for peer-to-peer messengers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env file is fine; the environment may already be set.
			_ = godotenv.Load()
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(serveCmd(), checkConfigCmd())
	return root.Execute()
}
