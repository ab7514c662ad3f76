// Package session implements the replication session state machine
// (component G): connect, identify, validate, start replication, and the
// inner receive loop that multiplexes keepalive and WAL-data frames to the
// pgoutput decoder and the configured sink.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/rs/zerolog"

	"github.com/cdcstream/pgoutputcdc/internal/config"
	"github.com/cdcstream/pgoutputcdc/internal/pgoutput"
	"github.com/cdcstream/pgoutputcdc/internal/replstate"
	"github.com/cdcstream/pgoutputcdc/internal/sink"
	"github.com/cdcstream/pgoutputcdc/internal/typedvalue"
	"github.com/cdcstream/pgoutputcdc/internal/wireproto"
)

// State is the session's position in the New→Closed lifecycle, with Failed
// as a terminal branch off Identified (failed validation), Validated (failed
// START_REPLICATION) or Streaming.
type State int

const (
	StateNew State = iota
	StateConnected
	StateIdentified
	StateValidated
	StateStreaming
	StateDraining
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnected:
		return "connected"
	case StateIdentified:
		return "identified"
	case StateValidated:
		return "validated"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session drives one replication connection end to end. The driver
// connection (pgconn) is exclusively owned by the session; relation cache,
// LSN watermarks, and feedback timing live in replstate.State, also
// exclusively owned here.
type Session struct {
	cfg    config.Config
	logger zerolog.Logger

	conn  *pgconn.PgConn
	state State

	rep     *replstate.State
	typed   *typedvalue.Decoder
	sink    sink.Sink

	shutdown atomic.Bool
	lastErr  error
}

// New creates a Session that will deliver decoded events to snk.
func New(cfg config.Config, snk sink.Sink, logger zerolog.Logger) *Session {
	l := logger.With().Str("component", "session").Logger()
	return &Session{
		cfg:    cfg,
		logger: l,
		state:  StateNew,
		rep:    replstate.New(),
		typed:  typedvalue.NewDecoder(l),
		sink:   snk,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// ReplicationState exposes the LSN watermarks and relation cache for
// observability consumers (metrics, status API, TUI).
func (s *Session) ReplicationState() *replstate.State { return s.rep }

// RequestShutdown sets the cooperative shutdown flag observed at loop top
// and after each WAL dispatch. Safe to call from a signal-handling goroutine.
func (s *Session) RequestShutdown() { s.shutdown.Store(true) }

func (s *Session) shutdownRequested() bool { return s.shutdown.Load() }

// replicationConnString appends replication=database to cfg.DatabaseURL so
// pgconn negotiates the replication protocol instead of a normal query
// connection.
func replicationConnString(dsn string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&replication=database"
	}
	return dsn + "?replication=database"
}

// Connect establishes the driver connection (New→Connected).
func (s *Session) Connect(ctx context.Context) error {
	conn, err := pgconn.Connect(ctx, replicationConnString(s.cfg.DatabaseURL))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	s.conn = conn
	s.state = StateConnected
	return nil
}

// IdentifySystem performs IDENTIFY_SYSTEM (Connected→Identified).
func (s *Session) IdentifySystem(ctx context.Context) (pglogrepl.IdentifySystemResult, error) {
	ident, err := pglogrepl.IdentifySystem(ctx, s.conn)
	if err != nil {
		return ident, fmt.Errorf("identify system: %w", err)
	}
	s.state = StateIdentified
	s.logger.Info().
		Str("system_id", ident.SystemID).
		Int32("timeline", ident.Timeline).
		Stringer("xlog_pos", ident.XLogPos).
		Str("dbname", ident.DBName).
		Msg("identified replication source")
	return ident, nil
}

// Validate checks wal_level, the named slot, and the named publication
// (Identified→Validated). Any failure transitions to Failed and returns an
// error naming the exact SQL the operator must run.
func (s *Session) Validate(ctx context.Context) error {
	walLevel, err := querySingleValue(ctx, s.conn, "SHOW wal_level")
	if err != nil {
		return s.fail(fmt.Errorf("check wal_level: %w", err))
	}
	if walLevel != "logical" {
		return s.fail(fmt.Errorf(
			"wal_level is %q, not \"logical\"; run: ALTER SYSTEM SET wal_level = 'logical'; -- then restart the server",
			walLevel))
	}

	slotExists, err := querySingleValueExists(ctx, s.conn, fmt.Sprintf(
		"SELECT 1 FROM pg_replication_slots WHERE slot_name = '%s'", escapeLiteral(s.cfg.SlotName)))
	if err != nil {
		return s.fail(fmt.Errorf("check replication slot: %w", err))
	}
	if !slotExists {
		return s.fail(fmt.Errorf(
			"replication slot %q does not exist; run: CREATE_REPLICATION_SLOT \"%s\" LOGICAL pgoutput NOEXPORT_SNAPSHOT;",
			s.cfg.SlotName, s.cfg.SlotName))
	}

	pubExists, err := querySingleValueExists(ctx, s.conn, fmt.Sprintf(
		"SELECT 1 FROM pg_publication WHERE pubname = '%s'", escapeLiteral(s.cfg.PublicationName)))
	if err != nil {
		return s.fail(fmt.Errorf("check publication: %w", err))
	}
	if !pubExists {
		return s.fail(fmt.Errorf(
			"publication %q does not exist; run: CREATE PUBLICATION \"%s\" FOR ALL TABLES;",
			s.cfg.PublicationName, s.cfg.PublicationName))
	}

	s.state = StateValidated
	return nil
}

// StartReplication issues START_REPLICATION with proto_version 2 and
// streaming 'on' (Validated→Streaming).
func (s *Session) StartReplication(ctx context.Context, startLSN pglogrepl.LSN) error {
	err := pglogrepl.StartReplication(ctx, s.conn, s.cfg.SlotName, startLSN, pglogrepl.StartReplicationOptions{
		PluginArgs: []string{
			"proto_version '2'",
			fmt.Sprintf("publication_names '%s'", s.cfg.PublicationName),
			"streaming 'on'",
		},
	})
	if err != nil {
		return s.fail(fmt.Errorf("start replication: %w", err))
	}
	s.state = StateStreaming
	s.logger.Info().
		Str("slot", s.cfg.SlotName).
		Str("publication", s.cfg.PublicationName).
		Stringer("start_lsn", startLSN).
		Msg("streaming started")
	return nil
}

// Run executes the receive loop until shutdown is requested or a fatal
// error occurs. It returns nil on clean shutdown (Closed) and a non-nil
// error on Failed.
func (s *Session) Run(ctx context.Context) error {
	for {
		if s.shutdownRequested() {
			return s.drain(ctx)
		}

		if s.rep.SinceLastFeedback() >= s.cfg.FeedbackInterval {
			if err := s.sendFeedback(ctx, false); err != nil {
				s.logger.Warn().Err(err).Msg("failed to send standby status")
			}
		}

		recvCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		rawMsg, err := s.conn.ReceiveMessage(recvCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return s.fail(fmt.Errorf("context done: %w", ctx.Err()))
			}
			if pgconn.Timeout(err) {
				continue
			}
			return s.fail(fmt.Errorf("receive message: %w", err))
		}

		if errResp, ok := rawMsg.(*pgproto3.ErrorResponse); ok {
			return s.fail(fmt.Errorf("server error: %s: %s (SQLSTATE %s)", errResp.Severity, errResp.Message, errResp.Code))
		}

		copyData, ok := rawMsg.(*pgproto3.CopyData)
		if !ok || len(copyData.Data) == 0 {
			continue
		}

		tag, payload, err := wireproto.DispatchFrame(copyData.Data)
		if err != nil {
			s.logger.Warn().Err(err).Msg("malformed frame")
			continue
		}

		switch tag {
		case wireproto.TagKeepalive:
			if err := s.handleKeepalive(ctx, payload); err != nil {
				s.logger.Warn().Err(err).Msg("keepalive handling failed")
			}
		case wireproto.TagXLogData:
			if err := s.handleWAL(ctx, payload); err != nil {
				return s.fail(err)
			}
		default:
			s.logger.Debug().Str("tag", string(tag)).Msg("ignoring unrecognized frame tag")
		}

		if s.shutdownRequested() {
			return s.drain(ctx)
		}
	}
}

func (s *Session) handleKeepalive(ctx context.Context, payload []byte) error {
	ka, err := wireproto.ParseKeepalive(payload)
	if err != nil {
		return err
	}
	if ka.ReplyRequested {
		return s.sendFeedback(ctx, false)
	}
	return nil
}

func (s *Session) handleWAL(ctx context.Context, payload []byte) error {
	xld, err := wireproto.ParseXLogData(payload)
	if err != nil {
		return fmt.Errorf("parse xlogdata: %w", err)
	}
	if xld.DataStart > 0 {
		s.rep.UpdateReceived(replstate.LSN(xld.DataStart))
	}

	msg, err := pgoutput.Decode(xld.Payload, s.rep)
	if err != nil {
		return fmt.Errorf("decode pgoutput message: %w", err)
	}

	if rel, ok := msg.(*pgoutput.Relation); ok {
		s.rep.AddRelation(rel.Info)
		s.typed.HandleRelation(rel)
	}

	row, ok, err := s.typed.DecodeRow(msg)
	if err != nil {
		return fmt.Errorf("decode typed row: %w", err)
	}
	ev := sink.Event{Message: msg}
	if ok {
		ev.TypedRow = row
	}

	if err := s.sink.SendEvent(ctx, ev); err != nil {
		return fmt.Errorf("sink delivery: %w", err)
	}
	s.rep.UpdateApplied(replstate.LSN(xld.DataStart))
	return nil
}

func (s *Session) sendFeedback(ctx context.Context, replyRequested bool) error {
	ssu := &wireproto.StandbyStatusUpdate{
		LastLSN:        uint64(s.rep.ReceivedLSN()),
		FlushLSN:       uint64(s.rep.ReceivedLSN()),
		ApplyLSN:       uint64(s.rep.AppliedLSN()),
		SendTime:       wireproto.ToPGTimestamp(time.Now()),
		ReplyRequested: replyRequested,
	}
	if err := s.sendCopyData(ssu.Encode()); err != nil {
		return err
	}
	s.rep.MarkFeedbackSent()
	return nil
}

func (s *Session) sendCopyData(frame []byte) error {
	fe := s.conn.Frontend()
	fe.Send(&pgproto3.CopyData{Data: frame})
	return fe.Flush()
}

// drain sends a final feedback frame carrying the latest watermarks, flushes
// the driver's output buffer, and transitions to Closed. A failed final
// flush is logged at warning; it does not block Closed.
func (s *Session) drain(ctx context.Context) error {
	s.state = StateDraining
	if err := s.sendFeedback(ctx, false); err != nil {
		s.logger.Warn().Err(err).Msg("final feedback send failed during drain")
	}
	if s.conn != nil {
		if err := s.conn.Close(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("connection close failed during drain")
		}
	}
	s.state = StateClosed
	return nil
}

func (s *Session) fail(err error) error {
	s.state = StateFailed
	s.lastErr = err
	s.logger.Error().Err(err).Msg("session failed")
	return err
}

// LastError returns the error that caused a Failed transition, if any.
func (s *Session) LastError() error { return s.lastErr }

// Close releases the driver connection directly, without the drain
// sequence. Used when closing a session that never reached Streaming.
func (s *Session) Close(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close(ctx)
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func querySingleValue(ctx context.Context, conn *pgconn.PgConn, sql string) (string, error) {
	results, err := conn.Exec(ctx, sql).ReadAll()
	if err != nil {
		return "", err
	}
	if len(results) == 0 || len(results[0].Rows) == 0 {
		return "", errors.New("query returned no rows")
	}
	return string(results[0].Rows[0][0]), nil
}

func querySingleValueExists(ctx context.Context, conn *pgconn.PgConn, sql string) (bool, error) {
	results, err := conn.Exec(ctx, sql).ReadAll()
	if err != nil {
		return false, err
	}
	return len(results) > 0 && len(results[0].Rows) > 0, nil
}
