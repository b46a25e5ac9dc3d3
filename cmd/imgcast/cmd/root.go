package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/imgcast/internal/config"
	"github.com/oshokin/imgcast/internal/service/distribute"
	"github.com/oshokin/imgcast/internal/version"
)

var (
	// options collects the flag values.
	options distribute.Options

	// rootCmd represents the base command for broadcasting images.
	rootCmd = &cobra.Command{
		Use:   "imgcast [flags] <file-or-dir>",
		Short: "Broadcast disk images to a group of hosts.",
		Long: `Broadcasts one image, or every image in a directory, to all hosts of an inventory group.

For every image imgcast starts udp-receiver on each reachable host over ssh,
runs a single local udp-sender once enough receivers are confirmed, compares
the received file sizes with the source and stops every receiver afterwards,
including on failure or interrupt. Images are sent one after another, each on
its own port pair.

Settings are read from imgcast-settings.yaml when present; flags override them.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling; receivers are still stopped on interrupt.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options.Source = args[0]

			return distribute.Run(ctx, &options)
		},
	}
)

// Execute runs the imgcast CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.Flags()

	flags.StringVarP(&options.Inventory, "inventory", "i", "", "inventory source (default "+config.DefaultInventory+")")
	flags.StringVarP(&options.Group, "group", "g", "", "inventory group of target hosts")
	flags.IntVarP(&options.PortBase, "port", "p", 0, "UDP port base of the first image (default 9000)")
	flags.StringVarP(&options.Bandwidth, "bandwidth", "b", "", "sender bitrate ceiling, e.g. 900m (default "+config.DefaultBandwidth+")")
	flags.StringVarP(&options.Compression, "compression", "c", "", "compress in transit: zstd, gzip, lz4 or none; -c alone means zstd")
	flags.Lookup("compression").NoOptDefVal = "zstd"
	flags.BoolVarP(&options.DryRun, "dry-run", "d", false, "log commands without running them")
	flags.DurationVarP(&options.ConnectTimeout, "timeout", "t", 0, "remote connect timeout (default 10s)")
	flags.StringVarP(&options.LogDir, "log-dir", "l", "", "local directory for logs and session reports")
	flags.BoolVarP(&options.Verbose, "verbose", "v", false, "enable debug logging")

	flags.StringVar(&options.ConfigPath, "config", "", "path to settings file (default "+config.DefaultConfigFilename+" if present)")
	flags.StringVar(&options.DestinationDir, "dest-dir", "", "remote destination directory (default "+config.DefaultDestinationDir+")")
	flags.IntVar(&options.Quorum, "quorum", 0, "minimum number of running receivers (default 1)")
	flags.DurationVar(&options.TransferTimeout, "transfer-timeout", 0, "upper bound for one broadcast (default 4h)")
	flags.StringVar(&options.StatusAddress, "status-addr", "", "listen address of the gRPC health endpoint, e.g. :9090")
}
