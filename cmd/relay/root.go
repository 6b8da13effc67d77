package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memohai/assetrelay/internal/client"
	"github.com/memohai/assetrelay/internal/config"
	"github.com/memohai/assetrelay/internal/version"
)

type rootOptions struct {
	configPath string
	apiURL     string
	timeout    time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "relay",
		Short: "Asset relay for device firmware assets",
		Long: `relay stores uploaded asset images (assets_A.bin / assets_B.bin), serves
them over HTTP, and tells devices to fetch a new image by publishing to MQTT.

Running relay without a subcommand starts the server.`,
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			return runServe(opts)
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config.toml (default $CONFIG_PATH or ./config.toml)")
	root.PersistentFlags().StringVar(&opts.apiURL, "api", "", "relay base URL for client commands (default derived from config)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", client.DefaultTimeout, "request timeout for client commands")

	root.AddCommand(
		newServeCmd(opts),
		newUploadCmd(opts),
		newPushCmd(opts),
		newVersionCmd(),
	)
	return root
}

func (o *rootOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	return os.Getenv("CONFIG_PATH")
}

// client builds an API client from --api, falling back to the configured listen address.
func (o *rootOptions) client() (*client.Client, error) {
	base := strings.TrimSpace(o.apiURL)
	if base == "" {
		cfg, err := config.Load(o.resolveConfigPath())
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		base = defaultAPIBaseURL(cfg)
	}
	c := client.New(base)
	c.HTTP.Timeout = o.timeout
	return c, nil
}

func defaultAPIBaseURL(cfg config.Config) string {
	if base := strings.TrimSpace(cfg.Server.PublicBaseURL); base != "" {
		return base
	}
	addr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if addr == "" {
		if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
			addr = ":" + port
		}
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}
	if addr == "" {
		addr = config.DefaultHTTPAddr
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "relay %s\n", info)
			if info.BuildTime != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", info.BuildTime)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", info.GoVersion)
		},
	}
}
