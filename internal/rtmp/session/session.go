// Package session drives a single publish connection through its full
// lifecycle: DNS resolution, TCP/TLS dial, the RTMP handshake, and the AMF0
// command dialog (connect -> releaseStream -> FCPublish -> createStream ->
// publish) that ends with the connection in the Ready state. It owns the
// State/DisconnectReason bookkeeping described by fsm.go and hands the
// resulting mux.Mux to the publish layer once Ready.
package session

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashgrove/rtmp-publish/internal/errors"
	"github.com/ashgrove/rtmp-publish/internal/logger"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/chunk"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/handshake"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/mux"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/rpc"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/transport"
)

const (
	commandTimeout     = 8 * time.Second
	deferQueueCapacity = 8

	// publisherChunkSize is the outbound chunk size a publishing client
	// negotiates immediately after the handshake, ahead of the command
	// dialog. 128 (the handshake default) fragments media payloads too
	// finely once framed video/audio chunks start flowing.
	publisherChunkSize = 256
)

// Options configures a Session beyond the bare target URL.
type Options struct {
	Dialer       transport.Dialer // defaults to transport.NewStdDialer
	DialTimeout  time.Duration    // defaults to 10s
	TLSConfig    *tls.Config      // used for rtmps:// targets; ServerName defaults to the target host
	Log          *slog.Logger
	IdleTimeout  time.Duration // forwarded to mux.Options.IdleTimeout
	FlashVer     string
	SwfURL       string
}

// Session is a single publish connection's lifecycle state machine. Safe for
// concurrent use: State/LastReason are guarded by mu, and the deferred
// disconnect queue lets callbacks invoked from the mux's read goroutine
// (onStatus, onIdle) request a disconnect without calling back into Session
// while the mux itself is mid-dispatch.
type Session struct {
	mu         sync.Mutex
	state      State
	lastReason DisconnectReason
	lastErr    error

	id     string
	target *Target
	opts   Options
	log    *slog.Logger

	conn net.Conn
	m    *mux.Mux
	disp *rpc.ResponseDispatcher

	streamMsgID uint32
	txSeq       float64

	deferCh chan func()
	done    chan struct{}
	closed  bool
}

// New parses rawURL and prepares a Session. Connect must be called to
// actually bring the connection up; New performs no I/O.
func New(rawURL string, opts Options) (*Session, error) {
	target, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	if opts.Dialer == nil {
		opts.Dialer = transport.NewStdDialer(opts.DialTimeout)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	id := uuid.NewString()
	lg := opts.Log
	if lg == nil {
		lg = logger.Logger()
	}
	lg = lg.With("session_id", id)
	if safe, err := AnonymizeURL(rawURL); err == nil {
		lg = lg.With("target", safe)
	}
	return &Session{
		state:   StateIdle,
		id:      id,
		target:  target,
		opts:    opts,
		log:     lg,
		disp:    rpc.NewResponseDispatcher(),
		deferCh: make(chan func(), deferQueueCapacity),
		done:    make(chan struct{}),
	}, nil
}

// ID returns the session's unique correlation id, useful for tying together
// log lines across the connect lifecycle and any external metrics/alerting
// that key off a stable per-connection identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastReason returns the reason recorded for the most recent disconnect, or
// ReasonUnknown if the session has never disconnected.
func (s *Session) LastReason() DisconnectReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReason
}

// Target returns the parsed publish destination.
func (s *Session) Target() *Target { return s.target }

// StreamMessageID returns the message stream id allocated by createStream,
// valid once State() is Ready.
func (s *Session) StreamMessageID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamMsgID
}

// Mux returns the underlying chunk multiplexer, valid once State() is Ready.
// The publish layer sends media through this.
func (s *Session) Mux() *mux.Mux {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.log.Debug("session: state transition", "state", st.String())
}

func (s *Session) nextTxID() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txSeq++
	return s.txSeq
}

// Connect drives the session from Idle through to Ready: DNS resolution, TCP
// (or TLS) dial, RTMP handshake, and the connect/releaseStream/FCPublish/
// createStream/publish command dialog. On any failure the session moves to
// Disconnected with a classified reason and the error is returned.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.resolveAndDial(ctx); err != nil {
		return s.fail(ReasonNetworkError, err)
	}
	s.setState(StateWaitS0)
	if err := handshake.ClientHandshake(s.conn); err != nil {
		return s.fail(ReasonNetworkError, errors.NewHandshakeError("session.handshake", err))
	}
	s.setState(StateWaitS2) // handshake.ClientHandshake only returns once S2 has been consumed

	s.m = mux.New(s.conn, mux.Options{
		Log:       s.log,
		OnCommand: s.handleCommand,
		OnIdle:    s.handleIdle,
		IdleTimeout: s.opts.IdleTimeout,
	})
	s.m.Start()

	if err := s.m.AnnounceWindowAckSize(mux.DefaultWindowAckSize); err != nil {
		s.m.Close()
		return s.fail(ReasonNetworkError, errors.NewProtocolError("session.announce_window_ack", err))
	}
	if err := s.m.SetWriteChunkSize(publisherChunkSize); err != nil {
		s.m.Close()
		return s.fail(ReasonNetworkError, errors.NewProtocolError("session.set_chunk_size", err))
	}

	s.setState(StateWaitFMS)
	if err := s.runCommandDialog(ctx); err != nil {
		s.m.Close()
		return s.fail(classifyFromError(err), err)
	}

	s.setState(StateReady)
	go s.runDeferLoop()
	return nil
}

func (s *Session) resolveAndDial(ctx context.Context) error {
	s.setState(StateWaitDNS)
	addrs, err := s.opts.Dialer.LookupHost(ctx, s.target.Host)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", s.target.Host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("resolve %q: no addresses", s.target.Host)
	}

	var tlsConfig *tls.Config
	if s.target.TLS {
		tlsConfig = s.opts.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		}
		if tlsConfig.ServerName == "" {
			tlsConfig = tlsConfig.Clone()
			tlsConfig.ServerName = s.target.Host
		}
	}

	s.setState(StateWaitTCP)
	addr := net.JoinHostPort(addrs[0], s.target.Port)
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	defer cancel()
	conn, err := s.opts.Dialer.DialContext(dialCtx, addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	s.conn = conn
	return nil
}

// runCommandDialog sends connect, releaseStream, FCPublish, createStream and
// publish in order, waiting for each response that expects one (connect and
// createStream carry a _result; releaseStream/FCPublish are fire-and-forget
// per FMLE convention; publish's outcome arrives as an onStatus event).
func (s *Session) runCommandDialog(ctx context.Context) error {
	connectTx := s.nextTxID()
	connectMsg, err := rpc.BuildConnect(connectTx, rpc.ConnectParams{
		App:      s.target.App,
		TcURL:    s.target.TcURL,
		FlashVer: s.opts.FlashVer,
		SwfURL:   s.opts.SwfURL,
	})
	if err != nil {
		return err
	}
	if err := s.sendAndAwait(ctx, connectMsg, connectTx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	releaseTx := s.nextTxID()
	releaseMsg, err := rpc.BuildReleaseStream(releaseTx, s.target.StreamKey)
	if err != nil {
		return err
	}
	if err := s.send(releaseMsg); err != nil {
		return fmt.Errorf("releaseStream: %w", err)
	}

	fcTx := s.nextTxID()
	fcMsg, err := rpc.BuildFCPublish(fcTx, s.target.StreamKey)
	if err != nil {
		return err
	}
	if err := s.send(fcMsg); err != nil {
		return fmt.Errorf("FCPublish: %w", err)
	}

	createTx := s.nextTxID()
	createMsg, err := rpc.BuildCreateStream(createTx)
	if err != nil {
		return err
	}
	createResp, err := s.sendAndAwaitResponse(ctx, createMsg, createTx)
	if err != nil {
		return fmt.Errorf("createStream: %w", err)
	}
	streamID, ok := createResp.Info.(float64)
	if !ok {
		return errors.NewProtocolError("session.create_stream", fmt.Errorf("unexpected createStream result shape: %#v", createResp.Info))
	}
	s.mu.Lock()
	s.streamMsgID = uint32(streamID)
	s.mu.Unlock()

	publishTx := s.nextTxID()
	publishMsg, err := rpc.BuildPublish(publishTx, s.target.StreamKey, s.streamMsgID)
	if err != nil {
		return err
	}
	return s.send(publishMsg)
}

func (s *Session) send(msg *chunk.Message) error {
	_, err := s.m.SendMessage(msg.CSID, msg.TypeID, msg.MessageStreamID, msg.Timestamp, msg.Payload)
	return err
}

// sendAndAwait sends msg and waits for a _result/_error on txID, returning
// only whether it succeeded (discarding the payload), used for the connect
// step where the command object itself is not needed afterward.
func (s *Session) sendAndAwait(ctx context.Context, msg *chunk.Message, txID float64) error {
	_, err := s.sendAndAwaitResponse(ctx, msg, txID)
	return err
}

func (s *Session) sendAndAwaitResponse(ctx context.Context, msg *chunk.Message, txID float64) (rpc.Response, error) {
	ch := s.disp.Await(txID)
	if err := s.send(msg); err != nil {
		s.disp.Cancel(txID)
		return rpc.Response{}, err
	}
	timer := time.NewTimer(commandTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.IsError() {
			return resp, errors.NewProtocolError("session.command", &commandRejectedError{code: statusCode(resp.Info), description: statusDescription(resp.Info), info: resp.Info})
		}
		return resp, nil
	case <-ctx.Done():
		s.disp.Cancel(txID)
		return rpc.Response{}, ctx.Err()
	case <-timer.C:
		s.disp.Cancel(txID)
		return rpc.Response{}, errors.NewTimeoutError("session.command", commandTimeout, fmt.Errorf("no response within %s", commandTimeout))
	}
}

func (s *Session) handleCommand(msg *chunk.Message) {
	if err := s.disp.Dispatch(msg); err != nil {
		s.log.Warn("session: failed to dispatch command", "error", err)
	}
}

func (s *Session) handleIdle() {
	s.deferDisconnect(func() {
		s.log.Warn("session: idle timeout, disconnecting")
		s.teardown(ReasonTimeout, errors.NewTimeoutError("session.idle", s.opts.IdleTimeout, fmt.Errorf("no traffic within idle timeout")))
	})
}

// deferDisconnect queues fn to run on the defer-loop goroutine rather than
// inline, so callbacks invoked from the mux's own read goroutine never call
// back into Session synchronously (which would otherwise risk the read
// goroutine blocking on its own Close/wg.Wait()).
func (s *Session) deferDisconnect(fn func()) {
	select {
	case s.deferCh <- fn:
	default:
		s.log.Warn("session: defer queue full, dropping disconnect request")
	}
}

func (s *Session) runDeferLoop() {
	for {
		select {
		case fn := <-s.deferCh:
			fn()
		case <-s.done:
			return
		}
	}
}

// Disconnect performs a graceful client-initiated shutdown: it sends
// deleteStream (best-effort), tears down the mux, and marks the session
// Disconnected with ReasonClientRequest.
func (s *Session) Disconnect() error {
	if streamMsgID := s.StreamMessageID(); s.m != nil && streamMsgID != 0 {
		if msg, err := rpc.BuildDeleteStream(s.nextTxID(), streamMsgID); err == nil {
			_ = s.send(msg)
			_ = s.m.Flush(context.Background())
		}
	}
	s.teardown(ReasonClientRequest, nil)
	return nil
}

func (s *Session) teardown(reason DisconnectReason, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateDisconnected
	s.lastReason = reason
	s.lastErr = err
	s.mu.Unlock()

	close(s.done)
	if s.m != nil {
		_ = s.m.Close()
	}
}

func (s *Session) fail(reason DisconnectReason, err error) error {
	s.mu.Lock()
	s.state = StateDisconnected
	s.lastReason = reason
	s.lastErr = err
	s.mu.Unlock()
	s.log.Error("session: connect failed", "reason", reason.String(), "error", err)
	return err
}

// commandRejectedError carries the status code from a server-rejected
// command (_error response or a rejecting onStatus) so the caller can
// classify the disconnect reason from it.
type commandRejectedError struct {
	code        string
	description string
	info        interface{}
}

func (e *commandRejectedError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("server rejected command: %s", e.code)
	}
	return fmt.Sprintf("server rejected command: %#v", e.info)
}

// statusCode pulls the conventional "code" property (e.g.
// "NetConnection.Connect.Rejected") out of an onStatus/_error information
// object, which publishers always shape as a flat string-keyed map.
func statusCode(info interface{}) string {
	m, ok := info.(map[string]interface{})
	if !ok {
		return ""
	}
	code, _ := m["code"].(string)
	return code
}

// statusDescription pulls the conventional "description" property out of an
// onStatus/_error information object, mirroring statusCode.
func statusDescription(info interface{}) string {
	m, ok := info.(map[string]interface{})
	if !ok {
		return ""
	}
	description, _ := m["description"].(string)
	return description
}

// classifyFromError extracts a server-reported status code/description (if
// any) from a session.command failure and maps it through
// classifyServerError; it falls back to ReasonNetworkError when neither can
// be recovered (e.g. a transport-level failure instead of a rejection).
func classifyFromError(err error) DisconnectReason {
	var rejected *commandRejectedError
	if stderrors.As(err, &rejected) {
		return classifyServerError(rejected.code, rejected.description)
	}
	var timeoutErr *errors.TimeoutError
	if stderrors.As(err, &timeoutErr) {
		return ReasonTimeout
	}
	return ReasonNetworkError
}
