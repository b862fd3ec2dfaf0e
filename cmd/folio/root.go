package main

import (
	"errors"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/AlexKimmel/folio/internal/config"
)

const defaultConfigPath = "./config.yaml"

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:          "folio",
		Short:        "Portfolio contact relay",
		Long:         "folio serves the portfolio contact endpoint and relays submissions to email.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to the YAML config file")

	load := func(cmd *cobra.Command) (*config.Root, error) {
		cfg, err := config.Load(cfgPath)
		// The default file is optional; environment and defaults suffice.
		if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
			return config.Load("")
		}
		return cfg, err
	}

	root.AddCommand(
		newServeCmd(load),
		newMailCmd(load),
		newVersionCmd(),
	)
	return root
}

type loadFunc func(cmd *cobra.Command) (*config.Root, error)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(version)
		},
	}
}
