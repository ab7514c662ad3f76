package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pglogrepl"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cdcstream/pgoutputcdc/internal/config"
	"github.com/cdcstream/pgoutputcdc/internal/metrics"
	"github.com/cdcstream/pgoutputcdc/internal/notify"
	"github.com/cdcstream/pgoutputcdc/internal/server"
	"github.com/cdcstream/pgoutputcdc/internal/session"
	"github.com/cdcstream/pgoutputcdc/internal/sink"
	"github.com/cdcstream/pgoutputcdc/internal/tui"
)

var (
	runStartLSN string
	runAPIPort  int
	runTUI      bool
)

func init() {
	rootCmd.Flags().StringVar(&runStartLSN, "start-lsn", "", "LSN to start streaming from (e.g. 0/1234ABC); empty starts from the slot's confirmed position")
	rootCmd.Flags().IntVar(&runAPIPort, "api-port", 0, "Enable the status HTTP API and /metrics endpoint on this port (0 = disabled)")
	rootCmd.Flags().BoolVar(&runTUI, "tui", false, "Show a terminal dashboard while streaming")
	rootCmd.RunE = runStream
}

func runStream(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	var startLSN pglogrepl.LSN
	if runStartLSN != "" {
		var err error
		startLSN, err = pglogrepl.ParseLSN(runStartLSN)
		if err != nil {
			return err
		}
	}

	collector := metrics.NewCollector(logger)
	defer collector.Close()
	logger = logger.Hook(logToCollectorHook{collector: collector})

	snk, err := buildSink(cfg, collector, logger)
	if err != nil {
		return err
	}
	defer snk.Close()

	sess := session.New(cfg, snk, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runAPIPort > 0 {
		srv := server.New(collector, &cfg, logger)
		srv.StartBackground(ctx, runAPIPort)
	}

	go watchState(ctx, sess, collector)

	if runTUI {
		errCh := make(chan error, 1)
		go func() { errCh <- stream(ctx, sess, startLSN) }()
		if err := tui.Run(collector); err != nil {
			return err
		}
		err = <-errCh
	} else {
		err = stream(ctx, sess, startLSN)
	}

	if err != nil {
		collector.RecordError(err)
		notifyFailure(cfg, err)
	}
	return err
}

func stream(ctx context.Context, sess *session.Session, startLSN pglogrepl.LSN) error {
	if err := sess.Connect(ctx); err != nil {
		return err
	}
	if _, err := sess.IdentifySystem(ctx); err != nil {
		return err
	}
	if err := sess.Validate(ctx); err != nil {
		return err
	}
	if err := sess.StartReplication(ctx, startLSN); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		sess.RequestShutdown()
	}()

	// Run observes shutdown through the flag set above; handing it the
	// cancellable ctx would make it fail on cancellation instead of draining.
	return sess.Run(context.WithoutCancel(ctx))
}

// watchState polls the session's lifecycle state and LSN watermarks into
// the collector every 500ms. The session has no
// subscription mechanism of its own (it is a single cooperatively
// scheduled task), so this loop is a lightweight external
// observer rather than a callback the core invokes.
func watchState(ctx context.Context, sess *session.Session, collector *metrics.Collector) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			collector.SetState(sess.State().String())
			rep := sess.ReplicationState()
			collector.RecordReceivedLSN(pglogrepl.LSN(rep.ReceivedLSN()))
			collector.RecordAppliedLSN(pglogrepl.LSN(rep.AppliedLSN()))
			collector.RecordLatestLSN(pglogrepl.LSN(rep.ReceivedLSN()))
		}
	}
}

func buildSink(cfg config.Config, collector *metrics.Collector, logger zerolog.Logger) (sink.Sink, error) {
	policy := sink.RetryPolicy{
		MaxAttempts:           cfg.Retry.MaxAttempts,
		BaseDelay:             cfg.Retry.BaseDelay,
		Cap:                   cfg.Retry.Cap,
		Multiplier:            cfg.Retry.Multiplier,
		ContinueOnRetryExceed: cfg.Retry.ContinueOnRetryExceed,
	}

	var underlying sink.Sink
	switch cfg.EventSink {
	case config.SinkStdout:
		underlying = sink.NewStdoutSink(os.Stdout)
	case config.SinkHTTP:
		underlying = sink.NewHTTPSink(cfg.HTTPEndpoint, policy, logger.Hook(retryCountingHook{collector: collector, kind: "http"}))
	case config.SinkWebhook:
		appID, _ := uuid.Parse(cfg.WebhookApplicationIDRaw)
		if appID == uuid.Nil {
			appID = cfg.WebhookApplicationID
		}
		underlying = sink.NewWebhookSink(sink.WebhookConfig{
			APIURL:        cfg.WebhookAPIURL,
			ApplicationID: appID,
			APIToken:      cfg.WebhookAPIToken,
			Policy:        policy,
			Notifier:      buildNotifier(cfg),
		}, logger.Hook(retryCountingHook{collector: collector, kind: "webhook"}))
	}

	return &meteredSink{inner: underlying, collector: collector, kind: string(cfg.EventSink)}, nil
}

func buildNotifier(cfg config.Config) notify.Notifier {
	if !cfg.Email.Enabled() {
		return notify.NopNotifier{}
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
		To:       cfg.Email.To,
	})
}

func notifyFailure(cfg config.Config, err error) {
	if !cfg.Email.Enabled() {
		return
	}
	n := buildNotifier(cfg)
	_ = n.Notify(context.Background(), "pgoutputcdc replication session failed", err.Error())
}

// meteredSink wraps a sink.Sink, feeding per-message-kind event counts and
// terminal sink errors into the metrics collector.
type meteredSink struct {
	inner     sink.Sink
	collector *metrics.Collector
	kind      string
}

func (m *meteredSink) SendEvent(ctx context.Context, ev sink.Event) error {
	err := m.inner.SendEvent(ctx, ev)
	if err != nil {
		m.collector.RecordSinkError(m.kind)
		return err
	}
	m.collector.RecordEvent(strings.ToLower(ev.Message.Kind().String()))
	return nil
}

func (m *meteredSink) Close() error { return m.inner.Close() }

var _ sink.Sink = (*meteredSink)(nil)

// retryCountingHook increments the sink-retry counter whenever the wrapped
// sink logs a retry-attempt warning, without requiring internal/sink to
// import internal/metrics.
type retryCountingHook struct {
	collector *metrics.Collector
	kind      string
}

func (h retryCountingHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if level == zerolog.WarnLevel && strings.Contains(msg, "retrying") {
		h.collector.RecordSinkRetry(h.kind)
	}
}

// logToCollectorHook mirrors every logged event into the collector's log
// ring buffer, so the status API and TUI see the same log stream as stderr.
type logToCollectorHook struct {
	collector *metrics.Collector
}

func (h logToCollectorHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	h.collector.AddLog(metrics.LogEntry{
		Time:    time.Now(),
		Level:   level.String(),
		Message: msg,
	})
}
