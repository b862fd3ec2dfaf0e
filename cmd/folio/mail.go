package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AlexKimmel/folio/internal/mail"
	"github.com/AlexKimmel/folio/internal/obs"
)

func newMailCmd(load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mail",
		Short: "Mail transport utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Connect and authenticate to the SMTP server without sending",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger := obs.SetupLogger(cfg.Observability.LogLevel)
			ctx = logger.WithContext(ctx)
			out := mail.NewSMTP(cfg.Mail).Verify(ctx)
			if !out.Delivered() {
				return fmt.Errorf("smtp check failed (%s): %s", out.Kind, out.Message)
			}
			cmd.Printf("smtp ok: %s:%d\n", cfg.Mail.Host, cfg.Mail.Port)
			return nil
		},
	})
	return cmd
}
