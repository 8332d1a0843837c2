package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/chapter-crawler/internal/crawler"
)

func newDownloadCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "download <work id or url>...",
		Short: "Download works and track them for later updates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := crawler.ParseWorkRef(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return cc.withService(cmd, func(ctx context.Context, svc Service) error {
				results, err := svc.Download(ctx, ids, false)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderResults(results))
				return incompleteError(results)
			})
		},
	}
}

func newUpdateCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Re-download every tracked work, dropping completed and missing ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cc.withService(cmd, func(ctx context.Context, svc Service) error {
				results, err := svc.Update(ctx)
				if err != nil {
					return err
				}
				if len(results) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tracked works.")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderResults(results))
				return incompleteError(results)
			})
		},
	}
}

func newServeCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP control plane and download workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cc.withService(cmd, func(ctx context.Context, svc Service) error {
				return svc.Serve(ctx)
			})
		},
	}
}

func newSessionCommand(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Validate the stored session, acquiring a new one if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cc.withService(cmd, func(ctx context.Context, svc Service) error {
				token, err := svc.Bootstrap(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
}
