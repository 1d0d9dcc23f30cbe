// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-imgtransform.
//
// go-imgtransform is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-imgtransform/pkg/cli"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
	"github.com/jeremyhahn/go-imgtransform/pkg/version"
)

var (
	cfgFile      string
	envFile      string
	viperConfig  *viper.Viper
	globalConfig *cli.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "imgtransform",
	Short: "Generate and index transformed images",
	Long: `imgtransform resizes, crops and re-encodes images stored on a volume,
keeping an index of every derived image so each transform is generated once.

Supported Volumes:
  - local      : Local filesystem
  - memory     : In-process (testing)
  - s3         : AWS S3
  - minio      : MinIO (S3-compatible)
  - gcs        : Google Cloud Storage
  - azure      : Azure Blob Storage

Supported Index Drivers:
  - leveldb    : Embedded LevelDB database (default)
  - postgres   : PostgreSQL
  - memory     : In-process (lost on exit)

Configuration can be provided via:
  - Command-line flags (highest priority)
  - Environment variables (IMGTRANSFORM_*)
  - Configuration file (~/.imgtransform.yaml or ./.imgtransform.yaml)
  - Default values (lowest priority)`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := cli.LoadEnv(envFile); err != nil {
				return err
			}
		} else if err := cli.LoadEnv(); err != nil {
			return err
		}

		var err error
		viperConfig, err = cli.InitConfig(cfgFile)
		if err != nil {
			return err
		}

		if err := viperConfig.BindPFlags(cmd.Flags()); err != nil {
			return fmt.Errorf("failed to bind flags: %w", err)
		}

		globalConfig, err = cli.GetConfig(viperConfig)
		return err
	},
}

func outputFormat() cli.OutputFormat {
	return cli.OutputFormat(globalConfig.OutputFormat)
}

// commandContext opens the configured volume and index, printing failures in
// the selected output format.
func commandContext(cmd *cobra.Command) (*cli.CommandContext, error) {
	cc, err := cli.NewCommandContext(cmd.Context(), globalConfig)
	if err != nil {
		fmt.Fprint(os.Stderr, cli.FormatError(err, outputFormat()))
		return nil, err
	}
	return cc, nil
}

// commander is commandContext for the commands that can also run against a
// server given with --server.
func commander(cmd *cobra.Command) (cli.Commander, error) {
	c, err := cli.NewCommander(cmd.Context(), globalConfig)
	if err != nil {
		fmt.Fprint(os.Stderr, cli.FormatError(err, outputFormat()))
		return nil, err
	}
	return c, nil
}

func fail(err error) error {
	fmt.Fprint(os.Stderr, cli.FormatError(err, outputFormat()))
	return err
}

// transformFlags reads --transform, or builds parameters from the geometry
// flags when it is absent.
func transformFlags(cmd *cobra.Command) (transform.Parameters, error) {
	name, _ := cmd.Flags().GetString("transform") //nolint:errcheck // flags are validated by cobra
	if name != "" {
		if globalConfig.Server != "" && !strings.HasPrefix(name, "_") {
			return transform.Parameters{Handle: name}, nil
		}
		return cli.ParseTransform(name, globalConfig.Transforms)
	}
	width, _ := cmd.Flags().GetInt("width")          //nolint:errcheck // flags are validated by cobra
	height, _ := cmd.Flags().GetInt("height")        //nolint:errcheck // flags are validated by cobra
	mode, _ := cmd.Flags().GetString("mode")         //nolint:errcheck // flags are validated by cobra
	position, _ := cmd.Flags().GetString("position") //nolint:errcheck // flags are validated by cobra
	format, _ := cmd.Flags().GetString("format")     //nolint:errcheck // flags are validated by cobra
	quality, _ := cmd.Flags().GetInt("quality")      //nolint:errcheck // flags are validated by cobra
	if width == 0 && height == 0 {
		return transform.Parameters{}, cli.ErrNoTransform
	}
	p := transform.Parameters{
		Width:    width,
		Height:   height,
		Mode:     transform.Mode(mode),
		Position: transform.Position(position),
		Format:   format,
		Quality:  quality,
	}
	if cmd.Flags().Changed("upscale") {
		up, _ := cmd.Flags().GetBool("upscale") //nolint:errcheck // flags are validated by cobra
		p.Upscale = &up
	}
	return p, p.Validate()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the transform REST API",
	Long: `Register every image on the volume and serve the transform API until
interrupted. Abandoned generations are swept periodically and, for local
volumes, edits to source files invalidate their transforms.`,
	Example: `  imgtransform serve                                  # Serve ./assets on :8080
  imgtransform serve --volume s3 --volume-bucket img --volume-region us-east-1
  imgtransform serve --index-driver postgres --index-dsn postgres://localhost/images`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := commandContext(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = cc.Close() }()
		if err := cc.ServeCommand(cmd.Context()); err != nil {
			return fail(err)
		}
		return nil
	},
}

var transformCmd = &cobra.Command{
	Use:   "transform <path>",
	Short: "Generate one transform of an image and print its URL",
	Example: `  imgtransform transform photos/cat.jpg --transform thumb
  imgtransform transform photos/cat.jpg --transform _300xAUTO_fit_center-center
  imgtransform transform photos/cat.jpg --width 640 --height 480 --mode crop --format png
  imgtransform transform photos/cat.jpg --transform thumb --server http://localhost:8080`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := transformFlags(cmd)
		if err != nil {
			return fail(err)
		}
		cc, err := commander(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = cc.Close() }()

		res, err := cc.TransformCommand(cmd.Context(), args[0], params)
		if err != nil {
			return fail(err)
		}
		fmt.Print(cli.FormatTransformResults([]cli.TransformResult{*res}, outputFormat()))
		return nil
	},
}

var warmCmd = &cobra.Command{
	Use:   "warm [prefix]",
	Short: "Pre-generate named transforms for every image under a prefix",
	Example: `  imgtransform warm                                   # Every named transform, whole volume
  imgtransform warm photos/ --transforms thumb,hero --concurrency 8`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) > 0 {
			prefix = args[0]
		}
		names, _ := cmd.Flags().GetStringSlice("transforms") //nolint:errcheck // flags are validated by cobra
		concurrency, _ := cmd.Flags().GetInt("concurrency")  //nolint:errcheck // flags are validated by cobra
		if len(names) == 0 {
			names = globalConfig.Transforms.Handles()
		}
		params := make([]transform.Parameters, 0, len(names))
		for _, n := range names {
			p, err := cli.ParseTransform(n, globalConfig.Transforms)
			if err != nil {
				return fail(err)
			}
			params = append(params, p)
		}

		cc, err := commandContext(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = cc.Close() }()

		results, err := cc.WarmCommand(cmd.Context(), prefix, params, concurrency)
		if err != nil {
			return fail(err)
		}
		fmt.Print(cli.FormatTransformResults(results, outputFormat()))
		return nil
	},
}

var presetsCmd = &cobra.Command{
	Use:     "transforms",
	Aliases: []string{"presets"},
	Short:   "List the named transforms and their keys",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := globalConfig.Transforms.Validate(); err != nil {
			return fail(err)
		}
		fmt.Print(cli.FormatPresets(globalConfig.Transforms, outputFormat()))
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect and repair the transform index",
}

var indexListCmd = &cobra.Command{
	Use:     "list <path>",
	Short:   "List the index records of an image",
	Example: `  imgtransform index list photos/cat.jpg -o table`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := commander(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = cc.Close() }()

		assetID, records, err := cc.IndexListCommand(cmd.Context(), args[0])
		if err != nil {
			return fail(err)
		}
		fmt.Print(cli.FormatRecords(assetID, records, outputFormat()))
		return nil
	},
}

var reindexCmd = &cobra.Command{
	Use:   "reindex <path>",
	Short: "Reconcile an image's records with the derived files on its volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := commander(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = cc.Close() }()

		res, err := cc.ReindexCommand(cmd.Context(), args[0])
		if err != nil {
			return fail(err)
		}
		fmt.Print(cli.FormatOperationResult(&cli.OperationResult{
			Success: true,
			Message: fmt.Sprintf("Checked %d record(s), fixed %d", res.Checked, res.Fixed),
			Data:    res,
		}, outputFormat()))
		return nil
	},
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate <path>",
	Short: "Delete every derived image and record of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := commander(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = cc.Close() }()

		n, err := cc.InvalidateCommand(cmd.Context(), args[0])
		if err != nil {
			return fail(err)
		}
		fmt.Print(cli.FormatOperationResult(&cli.OperationResult{
			Success: true,
			Message: fmt.Sprintf("Invalidated %d transform(s) of '%s'", n, args[0]),
			Data:    map[string]any{"path": args[0], "deleted": n},
		}, outputFormat()))
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Release generations whose heartbeat has stopped",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := commandContext(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = cc.Close() }()

		n, err := cc.SweepCommand(cmd.Context())
		if err != nil {
			return fail(err)
		}
		fmt.Print(cli.FormatOperationResult(&cli.OperationResult{
			Success: true,
			Message: fmt.Sprintf("Recovered %d abandoned transform(s)", n),
			Data:    map[string]any{"recovered": n},
		}, outputFormat()))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display current configuration",
	Long:  `Display the current configuration including all settings from flags, environment variables, and config file.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Print(cli.DisplayConfig(globalConfig, outputFormat()))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Get())
	},
}

func init() {
	// Set custom usage template to always show examples (even on errors)
	usageTemplate := `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}

Available Commands:{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`
	rootCmd.SetUsageTemplate(usageTemplate)

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.imgtransform.yaml)")
	pf.StringVar(&envFile, "env-file", "", "dotenv file loaded before configuration (default is ./.env)")
	pf.String("volume", "local", "volume type (local, memory, s3, minio, gcs, azure)")
	pf.String("volume-name", "default", "name assets on the volume are registered under")
	pf.String("volume-path", "./assets", "root directory of a local volume")
	pf.String("volume-bucket", "", "bucket or container of a cloud volume")
	pf.String("volume-region", "", "region of an s3 volume")
	pf.String("volume-key", "", "access key or account key of a cloud volume")
	pf.String("volume-secret", "", "secret key of an s3 or minio volume")
	pf.String("volume-url", "", "custom endpoint URL of a cloud volume")
	pf.String("volume-account", "", "azure storage account name")
	pf.String("volume-prefix", "", "key prefix applied to every path on the volume")
	pf.String("base-url", "", "public URL the volume is served from")
	pf.String("index-driver", cli.IndexLevelDB, "index driver (leveldb, postgres, memory)")
	pf.String("index-path", "./.imgtransform/index", "leveldb index directory")
	pf.String("index-dsn", "", "postgres connection string")
	pf.Bool("allow-upscale", true, "allow transforms to enlarge images")
	pf.Int("max-dimension", transform.DefaultMaxDimension, "largest width or height a transform may request (0 for no limit)")
	pf.String("temp-dir", "", "directory for encoded images before commit")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "json", "log format (json, text)")
	pf.String("logger", "slog", "logger backend (slog, zerolog)")
	pf.StringP("output-format", "o", "text", "output format (text, json, table)")
	pf.String("server", "", "transform API to send transform, index and invalidate commands to")

	serveCmd.Flags().String("host", "0.0.0.0", "address to listen on")
	serveCmd.Flags().Int("port", 8080, "port to listen on")
	serveCmd.Flags().Float64("rate-limit", 0, "per-client requests per second, 0 disables")
	serveCmd.Flags().Bool("watch", true, "invalidate transforms when local sources change")
	serveCmd.Flags().Bool("audit", false, "log index mutations made through the API")
	serveCmd.Flags().Bool("audit-reads", false, "also audit transform requests")
	serveCmd.Flags().Duration("stale-after", 0, "heartbeat age after which a generation is abandoned")

	sweepCmd.Flags().Duration("stale-after", 0, "heartbeat age after which a generation is abandoned")

	transformCmd.Flags().String("transform", "", "named transform handle or transform key")
	transformCmd.Flags().Int("width", 0, "target width in pixels, 0 for auto")
	transformCmd.Flags().Int("height", 0, "target height in pixels, 0 for auto")
	transformCmd.Flags().String("mode", "", "crop, fit or stretch (default crop)")
	transformCmd.Flags().String("position", "", "crop anchor, e.g. top-left or center-center")
	transformCmd.Flags().String("format", "", "output format (jpg, png, gif, bmp, tif)")
	transformCmd.Flags().Int("quality", 0, "encoder quality 1-100")
	transformCmd.Flags().Bool("upscale", true, "allow enlarging this transform")

	warmCmd.Flags().StringSlice("transforms", nil, "named transforms or keys to generate (default all named)")
	warmCmd.Flags().Int("concurrency", cli.DefaultConcurrency, "maximum parallel generations")

	indexCmd.AddCommand(indexListCmd)
	indexCmd.AddCommand(reindexCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(transformCmd)
	rootCmd.AddCommand(warmCmd)
	rootCmd.AddCommand(presetsCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(invalidateCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
