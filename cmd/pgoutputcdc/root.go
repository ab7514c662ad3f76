package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cdcstream/pgoutputcdc/internal/config"
)

var (
	cfgFile string
	cfg     config.Config
	logger  zerolog.Logger

	flagSlot       string
	flagPub        string
	flagEventSink  string
	flagHTTPURL    string
	flagWebhookURL string
	flagWebhookID  string
	flagWebhookTok string
)

var rootCmd = &cobra.Command{
	Use:   "pgoutputcdc [connection-url]",
	Short: "Stream PostgreSQL logical changes from a pgoutput replication slot",
	Long: `pgoutputcdc connects to a PostgreSQL replication slot created against a
pgoutput publication, decodes the wire-format change stream, and hands each
decoded event to a configurable sink (stdout, a generic HTTP endpoint, or a
webhook service). The replication slot and publication must already exist;
pgoutputcdc only validates and consumes them.

The optional trailing argument overrides DATABASE_URL.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		if len(args) == 1 {
			cfg.DatabaseURL = args[0]
		}
		if cmd.Flags().Changed("slot") {
			cfg.SlotName = flagSlot
		}
		if cmd.Flags().Changed("publication") {
			cfg.PublicationName = flagPub
		}
		if cmd.Flags().Changed("event-sink") {
			cfg.EventSink = config.SinkKind(flagEventSink)
		}
		if cmd.Flags().Changed("http-endpoint") {
			cfg.HTTPEndpoint = flagHTTPURL
		}
		if cmd.Flags().Changed("webhook-api-url") {
			cfg.WebhookAPIURL = flagWebhookURL
		}
		if cmd.Flags().Changed("webhook-application-id") {
			cfg.WebhookApplicationIDRaw = flagWebhookID
			id, err := uuid.Parse(flagWebhookID)
			if err != nil {
				return fmt.Errorf("invalid --webhook-application-id: %w", err)
			}
			cfg.WebhookApplicationID = id
		}
		if cmd.Flags().Changed("webhook-api-token") {
			cfg.WebhookAPIToken = flagWebhookTok
		}

		var out io.Writer
		switch cfg.LogFormat {
		case "json":
			out = os.Stdout
		default:
			out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		}
		logger = zerolog.New(out).With().Timestamp().Logger()

		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			level = zerolog.InfoLevel
		}
		logger = logger.Level(level)

		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "Path to a TOML config file (optional; environment variables always override it)")
	f.StringVar(&flagSlot, "slot", "", "Replication slot name (overrides SLOT_NAME)")
	f.StringVar(&flagPub, "publication", "", "Publication name (overrides PUB_NAME)")
	f.StringVar(&flagEventSink, "event-sink", "", "Event sink: stdout, http, or webhook (overrides EVENT_SINK)")
	f.StringVar(&flagHTTPURL, "http-endpoint", "", "HTTP sink endpoint URL")
	f.StringVar(&flagWebhookURL, "webhook-api-url", "", "Webhook sink API base URL")
	f.StringVar(&flagWebhookID, "webhook-application-id", "", "Webhook sink application id (UUID)")
	f.StringVar(&flagWebhookTok, "webhook-api-token", "", "Webhook sink bearer token")
}
