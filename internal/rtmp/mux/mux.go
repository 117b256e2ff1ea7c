// Package mux implements the chunk multiplexer that sits between the
// connection FSM and the raw chunk codec: it owns the outbound send queue,
// the inbound reassembly/control dispatch loop, and the ack/bandwidth
// bookkeeping that the RTMP protocol layers on top of chunking.
//
// It generalizes the accept-side outboundQueue/startReadLoop/startWriteLoop
// wiring of conn.Connection into a connection-direction-agnostic component
// usable by an outbound (publishing) client.
package mux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	protoerr "github.com/ashgrove/rtmp-publish/internal/errors"
	"github.com/ashgrove/rtmp-publish/internal/logger"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/chunk"
	"github.com/ashgrove/rtmp-publish/internal/rtmp/control"
)

// Default protocol tuning values, mirrored from the server-side control burst
// constants but owned here since the multiplexer is the component that now
// negotiates them from the client side.
const (
	DefaultWindowAckSize uint32 = 2_500_000
	DefaultPeerBandwidth uint32 = 2_500_000
	DefaultChunkSize     uint32 = 128

	// txChannelCapacity bounds each chunk stream's outbound queue. Submission
	// beyond this depth returns a CapacityError immediately rather than
	// blocking; callers retry at their own pace instead of the mux picking a
	// block timeout for them.
	txChannelCapacity  = 10
	defaultIdleTimeout = 60 * time.Second
)

// Peer bandwidth limit types (mirrors control.SetPeerBandwidth.LimitType lattice).
const (
	LimitHard    uint8 = 0
	LimitSoft    uint8 = 1
	LimitDynamic uint8 = 2
	limitUnknown uint8 = 255
)

// CommandHandler is invoked for every fully reassembled command (AMF0, type
// 20) or metadata (type 18) message. The multiplexer does not interpret AMF
// itself; that is the rpc/session layer's job.
type CommandHandler func(msg *chunk.Message)

// IdleHandler is invoked once when no message has been read for longer than
// the configured idle timeout. It fires at most once per Mux; callers that
// want to keep watching re-arm is handled internally per read.
type IdleHandler func()

// txChannel is one chunk stream's outbound ring: a bounded FIFO queue plus
// the csid it serves, so the drain loop can report which stream a message
// belongs to without threading the csid through separately.
type txChannel struct {
	csid uint32
	ch   chan *chunk.Message
}

// Mux owns a single RTMP connection's chunk stream multiplexing: a bounded
// per-csid send ring plus round-robin drain goroutine, and the inbound
// reassembly + control-message dispatch goroutine.
type Mux struct {
	conn net.Conn
	log  *slog.Logger

	reader *chunk.Reader
	writer *chunk.Writer

	readChunkSize  uint32
	writeChunkSize uint32

	// Self-announced and peer-announced protocol parameters.
	selfWindowAckSize uint32
	peerWindowAckSize uint32
	peerBandwidth     uint32
	peerLimitType     uint8

	bytesReceived   uint64
	bytesAcked      uint64
	lastPeerAckSeen uint32

	cachedAudioHeaderByte byte
	haveCachedAudioHeader bool

	// txMu guards txChans/txOrder/drainIdx: the set of live chunk streams
	// and the round-robin position grow/change as new csids are used.
	txMu     sync.Mutex
	txChans  map[uint32]*txChannel
	txOrder  []uint32
	drainIdx int
	doorbell chan struct{} // rung on every successful enqueue to wake the drain loop

	onCommand CommandHandler
	onMedia   func(msg *chunk.Message)
	onIdle    IdleHandler

	idleTimeout time.Duration
	idleTimer   *time.Timer
	idleOnce    sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Options configures a new Mux.
type Options struct {
	Log            *slog.Logger
	ReadChunkSize  uint32
	WriteChunkSize uint32
	WindowAckSize  uint32
	IdleTimeout    time.Duration
	OnCommand      CommandHandler
	OnMedia        func(msg *chunk.Message)
	OnIdle         IdleHandler
}

// New builds a Mux around an already-handshaken net.Conn. It does not start
// any goroutines; call Start to begin draining/reading.
func New(conn net.Conn, opts Options) *Mux {
	if opts.ReadChunkSize == 0 {
		opts.ReadChunkSize = DefaultChunkSize
	}
	if opts.WriteChunkSize == 0 {
		opts.WriteChunkSize = DefaultChunkSize
	}
	if opts.WindowAckSize == 0 {
		opts.WindowAckSize = DefaultWindowAckSize
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	lg := opts.Log
	if lg == nil {
		lg = logger.Logger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Mux{
		conn:              conn,
		log:               lg,
		reader:            chunk.NewReader(conn, opts.ReadChunkSize),
		writer:            chunk.NewWriter(conn, opts.WriteChunkSize),
		readChunkSize:     opts.ReadChunkSize,
		writeChunkSize:    opts.WriteChunkSize,
		selfWindowAckSize: opts.WindowAckSize,
		peerLimitType:     limitUnknown,
		txChans:           make(map[uint32]*txChannel),
		doorbell:          make(chan struct{}, 1),
		onCommand:         opts.OnCommand,
		onMedia:           opts.OnMedia,
		onIdle:            opts.OnIdle,
		idleTimeout:       opts.IdleTimeout,
		ctx:               ctx,
		cancel:            cancel,
	}
}

// Start launches the drain (write) goroutine and the reassembly (read)
// goroutine. Safe to call once.
func (m *Mux) Start() {
	m.wg.Add(2)
	go m.drainLoop()
	go m.readLoop()
}

// SendMessage enqueues a message on its csid's bounded ring. It returns the
// ring's depth immediately before this message was inserted, so callers can
// observe backpressure building before they hit it; if the ring is already
// at capacity the message is rejected (not blocked on) with a
// *errors.CapacityError and the caller is expected to retry.
func (m *Mux) SendMessage(csid uint32, typeID uint8, msid uint32, timestamp uint32, payload []byte) (int, error) {
	if m == nil {
		return 0, protoerr.NewStateError("mux.send", errors.New("mux not initialized"))
	}
	msg := &chunk.Message{
		CSID:            csid,
		Timestamp:       timestamp,
		MessageLength:   uint32(len(payload)),
		TypeID:          typeID,
		MessageStreamID: msid,
		Payload:         payload,
	}
	return m.enqueue(msg)
}

// sendControl enqueues a pre-built protocol control message (CSID 2, MSID 0)
// bypassing the public SendMessage signature (control.Encode* already builds
// a *chunk.Message).
func (m *Mux) sendControl(msg *chunk.Message) error {
	_, err := m.enqueue(msg)
	return err
}

// enqueue is the shared backpressure-aware insert path for both SendMessage
// and sendControl: it looks up (or lazily creates) msg.CSID's ring, reports
// its depth before the insert, and either enqueues or fails immediately.
func (m *Mux) enqueue(msg *chunk.Message) (int, error) {
	select {
	case <-m.ctx.Done():
		return 0, protoerr.NewStateError("mux.send", errors.New("mux closed"))
	default:
	}

	tc := m.channelFor(msg.CSID)
	depth := len(tc.ch)
	select {
	case tc.ch <- msg:
		select {
		case m.doorbell <- struct{}{}:
		default:
		}
		return depth, nil
	default:
		return depth, protoerr.NewCapacityError("mux.send", fmt.Errorf("csid %d send queue full (cap=%d)", msg.CSID, txChannelCapacity))
	}
}

// channelFor returns the ring for csid, creating it (and registering it in
// the round-robin order) on first use.
func (m *Mux) channelFor(csid uint32) *txChannel {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	tc, ok := m.txChans[csid]
	if !ok {
		tc = &txChannel{csid: csid, ch: make(chan *chunk.Message, txChannelCapacity)}
		m.txChans[csid] = tc
		m.txOrder = append(m.txOrder, csid)
	}
	return tc
}

// SetWriteChunkSize updates the outbound chunk size and informs the peer via
// a Set Chunk Size control message.
func (m *Mux) SetWriteChunkSize(size uint32) error {
	if size == 0 || size > 65536 {
		return protoerr.NewArgumentError("mux.set_write_chunk_size", fmt.Errorf("size %d out of range", size))
	}
	if err := m.sendControl(control.EncodeSetChunkSize(size)); err != nil {
		return err
	}
	m.writeChunkSize = size
	m.writer.SetChunkSize(size)
	return nil
}

// AnnounceWindowAckSize sends our Window Acknowledgement Size to the peer.
func (m *Mux) AnnounceWindowAckSize(size uint32) error {
	m.selfWindowAckSize = size
	return m.sendControl(control.EncodeWindowAcknowledgementSize(size))
}

// CachedAudioHeader returns the last AAC AudioSpecificConfig-derived RTMP
// audio header byte sent, and whether one has been cached yet. The publish
// layer uses this to detect when a fresh sequence header must be (re)sent
// because the codec configuration changed.
func (m *Mux) CachedAudioHeader() (byte, bool) {
	return m.cachedAudioHeaderByte, m.haveCachedAudioHeader
}

// SetCachedAudioHeader records the most recently sent audio header byte.
func (m *Mux) SetCachedAudioHeader(b byte) {
	m.cachedAudioHeaderByte = b
	m.haveCachedAudioHeader = true
}

// PeerBandwidth returns the last Set Peer Bandwidth announcement received
// (bandwidth, limit type). limitType is limitUnknown (255) until one arrives.
func (m *Mux) PeerBandwidth() (uint32, uint8) {
	return m.peerBandwidth, m.peerLimitType
}

// Depth reports the combined depth across every chunk stream's outbound
// ring, for callers that want a coarse backpressure signal without tracking
// individual csids.
func (m *Mux) Depth() int {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	total := 0
	for _, tc := range m.txChans {
		total += len(tc.ch)
	}
	return total
}

// Flush blocks until every chunk stream's ring has drained to empty or the
// context is cancelled. Best-effort; new sends racing with Flush are not
// accounted for.
func (m *Mux) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if m.Depth() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Close cancels the mux's goroutines and closes the underlying connection.
func (m *Mux) Close() error {
	m.closeOnce.Do(func() {
		m.cancel()
		m.closeErr = m.conn.Close()
		m.wg.Wait()
		if m.idleTimer != nil {
			m.idleTimer.Stop()
		}
	})
	return m.closeErr
}

// drainLoop writes queued messages in round-robin order across chunk
// streams, with an affinity exception: after taking a message from a ring
// that still has more queued, the next pick stays on that same ring instead
// of advancing, so one stream's backlog drains fully before another is
// considered. This preserves chunk-boundary integrity the way a partially
// written chunk would under a true non-blocking writer.
func (m *Mux) drainLoop() {
	defer m.wg.Done()
	for {
		msg := m.nextMessage()
		if msg == nil {
			select {
			case <-m.ctx.Done():
				return
			case <-m.doorbell:
				continue
			}
		}
		if err := m.writer.WriteMessage(msg); err != nil {
			if !isClosedErr(err) {
				m.log.Error("mux: write failed", "error", err, "type_id", msg.TypeID, "csid", msg.CSID)
			}
			return
		}
	}
}

// nextMessage picks the next message to write per the round-robin-with-
// affinity policy described on drainLoop. Returns nil if no ring currently
// has anything queued.
func (m *Mux) nextMessage() *chunk.Message {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	n := len(m.txOrder)
	if n == 0 {
		return nil
	}
	start := m.drainIdx
	if start < 0 || start >= n {
		start = 0
	}
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		tc := m.txChans[m.txOrder[idx]]
		select {
		case msg := <-tc.ch:
			if len(tc.ch) > 0 {
				m.drainIdx = idx // affinity: keep draining this ring next
			} else {
				m.drainIdx = (idx + 1) % n
			}
			return msg
		default:
		}
	}
	return nil
}

func (m *Mux) readLoop() {
	defer m.wg.Done()
	m.armIdleTimer()
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}
		msg, err := m.reader.ReadMessage()
		if err != nil {
			if isClosedErr(err) || errors.Is(err, io.EOF) {
				m.log.Debug("mux: read loop closed", "error", err)
			} else {
				m.log.Error("mux: read loop error", "error", err)
			}
			return
		}
		m.resetIdleTimer()
		m.bytesReceived += uint64(len(msg.Payload)) + uint64(headerOverheadEstimate)
		m.maybeAck()

		switch {
		case msg.TypeID >= 1 && msg.TypeID <= 6:
			m.handleControl(msg)
		case msg.TypeID == 20 || msg.TypeID == 17: // AMF0 / AMF3 command
			if m.onCommand != nil {
				m.onCommand(msg)
			}
		case msg.TypeID == 18 || msg.TypeID == 15: // AMF0 / AMF3 data (onMetaData et al)
			if m.onCommand != nil {
				m.onCommand(msg)
			}
		case msg.TypeID == 8, msg.TypeID == 9: // audio / video
			if m.onMedia != nil {
				m.onMedia(msg)
			}
		default:
			m.log.Debug("mux: unhandled message type", "type_id", msg.TypeID)
		}
	}
}

// headerOverheadEstimate is a coarse per-message accounting fudge factor for
// the ack byte counter; RTMP acks count transport bytes, not payload bytes,
// but the reader does not expose raw chunk byte counts, so payload length is
// the best available signal for the window-size threshold crossing.
const headerOverheadEstimate = 0

func (m *Mux) handleControl(msg *chunk.Message) {
	ctx := &control.Context{
		ReadChunkSize: &m.readChunkSize,
		WindowAckSize: &m.peerWindowAckSize,
		PeerBandwidth: &m.peerBandwidth,
		LimitType:     &m.peerLimitType,
		LastPeerAck:   &m.lastPeerAckSeen,
		Log:           m.log,
		Send:          m.sendControl,
	}
	if err := control.Handle(ctx, msg); err != nil {
		m.log.Warn("mux: control handler error", "error", err, "type_id", msg.TypeID)
		return
	}
	if msg.TypeID == 1 { // Set Chunk Size: peer tells us its new inbound chunk size applies to our reader
		m.reader.SetChunkSize(m.readChunkSize)
	}
}

// maybeAck sends an Acknowledgement once received bytes cross half of our
// announced window ack size, matching common RTMP client ack cadence.
func (m *Mux) maybeAck() {
	if m.selfWindowAckSize == 0 {
		return
	}
	threshold := uint64(m.selfWindowAckSize / 2)
	if threshold == 0 {
		threshold = 1
	}
	if m.bytesReceived-m.bytesAcked < threshold {
		return
	}
	m.bytesAcked = m.bytesReceived
	seq := uint32(m.bytesReceived & 0xFFFFFFFF)
	if err := m.sendControl(control.EncodeAcknowledgement(seq)); err != nil {
		m.log.Warn("mux: failed to send acknowledgement", "error", err)
	}
}

func (m *Mux) armIdleTimer() {
	if m.idleTimeout <= 0 {
		return
	}
	m.idleTimer = time.AfterFunc(m.idleTimeout, func() {
		m.idleOnce.Do(func() {
			if m.onIdle != nil {
				m.onIdle()
			}
		})
	})
}

func (m *Mux) resetIdleTimer() {
	if m.idleTimer == nil {
		return
	}
	if !m.idleTimer.Stop() {
		select {
		case <-m.idleTimer.C:
		default:
		}
	}
	m.idleTimer.Reset(m.idleTimeout)
}

func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
