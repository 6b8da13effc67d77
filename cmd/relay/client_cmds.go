package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memohai/assetrelay/internal/assets"
)

func newUploadCmd(opts *rootOptions) *cobra.Command {
	var push bool

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload assets_A.bin or assets_B.bin to a running relay",
		Long: `Upload a local asset image. The file's base name must be assets_A.bin or
assets_B.bin. With --push the returned URL is announced to devices right away.

Examples:
  relay upload ./build/assets_A.bin
  relay upload --push --api http://relay.lan:8080 assets_B.bin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			res, err := c.Upload(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s\n%s\n", res.Filename, res.URL)
			if !push {
				return nil
			}

			var slot string
			if s, err := assets.ParseFilename(res.Filename); err == nil {
				slot = string(s)
			}
			pushed, err := c.Push(cmd.Context(), res.URL, slot)
			if err != nil {
				return fmt.Errorf("push: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published to %s\n", pushed.Topic)
			return nil
		},
	}
	cmd.Flags().BoolVar(&push, "push", false, "publish an asset update for the uploaded file")
	return cmd
}

func newPushCmd(opts *rootOptions) *cobra.Command {
	var slot string

	cmd := &cobra.Command{
		Use:   "push <url>",
		Short: "Tell devices to fetch a new asset image",
		Long: `Publish an asset_update notification through a running relay.

Examples:
  relay push http://relay.lan:8080/assets/assets_B.bin --slot B`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if slot != "" {
				if _, ok := assets.ParseSlot(slot); !ok {
					return fmt.Errorf("slot must be A or B, got %q", slot)
				}
			}
			c, err := opts.client()
			if err != nil {
				return err
			}
			res, err := c.Push(cmd.Context(), args[0], slot)
			if err != nil {
				return fmt.Errorf("push: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published to %s: %s\n", res.Topic, res.Payload.URL)
			return nil
		},
	}
	cmd.Flags().StringVar(&slot, "slot", "", "target slot (A or B)")
	return cmd
}
