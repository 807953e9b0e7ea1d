// Package modem composes the engine processes, framing layer and key
// controller into a full-duplex, message-oriented soft modem.
//
// A running modem owns two independent engine processes: the
// demodulator, read continuously for the modem's whole lifetime, and
// the modulator, written on demand by Send. The receive pipeline
// applies confidence-based squelch and optional sync-byte gating
// before reassembling payloads; the transmit pipeline serializes
// bursts and keys the transmitter around each one.
package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kb1gnu/fskmodem/internal/engine"
	"github.com/kb1gnu/fskmodem/internal/framing"
	"github.com/kb1gnu/fskmodem/internal/ptt"
)

// Consumer receives one reconstructed payload per invocation. It runs
// on a dedicated delivery goroutine: a slow consumer never stalls the
// receive loop, but payloads beyond the delivery queue are shed,
// oldest first.
type Consumer func(payload []byte)

// Engine is the capability interface over one external engine
// process, satisfied by *engine.Handle
type Engine interface {
	io.Reader
	io.Writer
	Events() <-chan engine.Event
	Done() <-chan struct{}
	Stop() error
}

// Errors surfaced by the public contract
var (
	ErrNotRunning = errors.New("modem: not running")
	ErrBusy       = errors.New("modem: a transmit burst is already in flight")

	// ErrUnkey reports that un-keying the transmitter failed after
	// the payload was fully handed to the engine. The payload is
	// considered sent.
	ErrUnkey = errors.New("modem: failed to unkey transmitter")
)

// Defaults applied by New
const (
	DefaultQueueSize    = 32
	DefaultTxTrailDelay = 500 * time.Millisecond
)

// Config is the immutable modem configuration, shared read-only by
// all components once the modem is constructed
type Config struct {
	Command string // engine executable, default "minimodem"
	Baud    string // baud rate or mode keyword

	RxDevice string // ALSA capture device selector, empty for default
	TxDevice string // ALSA playback device selector, empty for default

	MarkHz  float64
	SpaceHz float64

	ConfidenceThreshold float64 // squelch opens at or above this
	SyncByte            *byte   // payload gate, nil when disabled

	Framing framing.Options

	ReadyLine    string // engine ready-line marker, empty disables the gate
	StartTimeout time.Duration
	StopGrace    time.Duration

	EagerTx        bool // start the modulator at Start instead of first Send
	RespawnOnCrash bool // one respawn attempt for a crashed demodulator

	TxTrailDelay time.Duration // pause after writing so the engine flushes
	SendBusyFail bool          // Send fails fast instead of queueing behind a burst

	PTT             ptt.Config
	PTTFrequency    uint64 // fixed operating frequency in Hz, 0 to leave alone
	PTTAbortOnError bool   // a key-on failure aborts the burst

	QueueSize int // delivery queue bound

	Logger *log.Logger
	Debug  bool
}

// Stats is a snapshot of modem counters
type Stats struct {
	Delivered      uint64 // payloads handed to the consumer
	Sent           uint64 // transmit bursts completed
	BytesRx        uint64 // demodulated bytes read
	BytesTx        uint64 // modulation bytes written
	IntegrityDrops uint64 // frames discarded by the deframer
	SquelchAborts  uint64 // accumulations aborted by carrier/confidence loss
	QueueDrops     uint64 // payloads shed by the delivery queue
	Respawns       uint64 // demodulator respawns after a crash
}

// Modem is the public control surface over the engine pair
type Modem struct {
	cfg    Config
	key    ptt.KeyController
	framer framing.Framer

	// engine constructors, replaceable in tests
	newRxEngine func() (Engine, error)
	newTxEngine func() (Engine, error)

	mu      sync.RWMutex
	running bool
	crashed bool
	rx      Engine
	tx      Engine
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	txMu sync.Mutex // serializes transmit bursts

	consumerMu sync.RWMutex
	consumer   Consumer

	queue chan []byte

	delivered      atomic.Uint64
	sent           atomic.Uint64
	bytesRx        atomic.Uint64
	bytesTx        atomic.Uint64
	integrityDrops atomic.Uint64
	squelchAborts  atomic.Uint64
	queueDrops     atomic.Uint64
	respawns       atomic.Uint64
}

// New validates the configuration and constructs a stopped modem.
// The key controller is opened here so that a missing or broken
// keying device fails at construction, not at first transmit.
func New(cfg Config) (*Modem, error) {
	if cfg.Command == "" {
		cfg.Command = "minimodem"
	}
	if cfg.Baud == "" {
		return nil, fmt.Errorf("modem: baud/mode is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.TxTrailDelay == 0 {
		cfg.TxTrailDelay = DefaultTxTrailDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	framer, err := framing.NewFramer(cfg.Framing)
	if err != nil {
		return nil, fmt.Errorf("modem: %v", err)
	}
	// Validate the receive side of the framing options up front
	if _, err := framing.NewDeframer(cfg.Framing); err != nil {
		return nil, fmt.Errorf("modem: %v", err)
	}

	key, err := ptt.New(cfg.PTT)
	if err != nil {
		return nil, fmt.Errorf("modem: %v", err)
	}

	m := &Modem{
		cfg:    cfg,
		key:    key,
		framer: framer,
	}

	rxParams := engine.Params{
		Baud:       cfg.Baud,
		Device:     cfg.RxDevice,
		MarkHz:     cfg.MarkHz,
		SpaceHz:    cfg.SpaceHz,
		SyncByte:   cfg.SyncByte,
		Confidence: cfg.ConfidenceThreshold,
	}
	txParams := engine.Params{
		Baud:    cfg.Baud,
		Device:  cfg.TxDevice,
		MarkHz:  cfg.MarkHz,
		SpaceHz: cfg.SpaceHz,
	}

	m.newRxEngine = func() (Engine, error) {
		return engine.Start(engine.Config{
			Command:      cfg.Command,
			Args:         engine.RxArgs(rxParams),
			ReadyLine:    cfg.ReadyLine,
			StartTimeout: cfg.StartTimeout,
			StopGrace:    cfg.StopGrace,
			Logger:       cfg.Logger,
			Debug:        cfg.Debug,
		})
	}
	m.newTxEngine = func() (Engine, error) {
		return engine.Start(engine.Config{
			Command:      cfg.Command,
			Args:         engine.TxArgs(txParams),
			StartTimeout: cfg.StartTimeout,
			StopGrace:    cfg.StopGrace,
			Logger:       cfg.Logger,
			Debug:        cfg.Debug,
		})
	}

	return m, nil
}

// SetReceiveConsumer registers the callback invoked with each
// reconstructed payload. It may be called before Start or while
// running; a nil consumer discards deliveries.
func (m *Modem) SetReceiveConsumer(c Consumer) {
	m.consumerMu.Lock()
	m.consumer = c
	m.consumerMu.Unlock()
}

// Start spawns the demodulator (and, when configured for eager
// transmit, the modulator) and begins the receive pipeline
func (m *Modem) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("modem: already running")
	}

	rx, err := m.newRxEngine()
	if err != nil {
		return fmt.Errorf("failed to start demodulator: %v", err)
	}

	var tx Engine
	if m.cfg.EagerTx {
		if tx, err = m.newTxEngine(); err != nil {
			_ = rx.Stop()
			return fmt.Errorf("failed to start modulator: %v", err)
		}
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.queue = make(chan []byte, m.cfg.QueueSize)
	m.rx = rx
	m.tx = tx
	m.running = true
	m.crashed = false

	m.wg.Add(2)
	go m.receiveLoop(rx)
	go m.deliverLoop()

	m.cfg.Logger.Printf("modem started: %s %s baud, framing %s",
		m.cfg.Command, m.cfg.Baud, m.cfg.Framing.Mode)
	return nil
}

// Stop terminates both engine handles, releases the key controller
// and waits for the pipelines to exit. It is idempotent and safe to
// call after a crash.
func (m *Modem) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	rx, tx := m.rx, m.tx
	m.rx, m.tx = nil, nil
	m.cancel()
	m.mu.Unlock()

	if rx != nil {
		_ = rx.Stop()
	}
	if tx != nil {
		_ = tx.Stop()
	}

	grace := m.cfg.StopGrace
	if grace == 0 {
		grace = engine.DefaultStopGrace
	}
	if !waitTimeout(&m.wg, grace) {
		m.cfg.Logger.Printf("modem: pipelines did not exit within %v", grace)
	}

	if err := m.key.Close(); err != nil {
		return fmt.Errorf("failed to release key controller: %v", err)
	}

	m.cfg.Logger.Printf("modem stopped")
	return nil
}

// Online reports whether the modem is running with a live demodulator
func (m *Modem) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running && !m.crashed
}

// Crashed reports whether the demodulator died and was not respawned
func (m *Modem) Crashed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.crashed
}

// Config returns a copy of the modem configuration
func (m *Modem) Config() Config {
	return m.cfg
}

// Stats returns a snapshot of the modem counters
func (m *Modem) Stats() Stats {
	return Stats{
		Delivered:      m.delivered.Load(),
		Sent:           m.sent.Load(),
		BytesRx:        m.bytesRx.Load(),
		BytesTx:        m.bytesTx.Load(),
		IntegrityDrops: m.integrityDrops.Load(),
		SquelchAborts:  m.squelchAborts.Load(),
		QueueDrops:     m.queueDrops.Load(),
		Respawns:       m.respawns.Load(),
	}
}

// deliverLoop drains the delivery queue into the consumer callback
func (m *Modem) deliverLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case payload := <-m.queue:
			m.consumerMu.RLock()
			consumer := m.consumer
			m.consumerMu.RUnlock()

			if consumer != nil {
				consumer(payload)
			}
			m.delivered.Add(1)
		}
	}
}

// enqueue hands a payload to the delivery queue, shedding the oldest
// entry when the consumer has fallen behind
func (m *Modem) enqueue(payload []byte) {
	select {
	case m.queue <- payload:
		return
	default:
	}
	select {
	case <-m.queue:
		m.queueDrops.Add(1)
		m.cfg.Logger.Printf("modem: delivery queue full, dropping oldest payload")
	default:
	}
	select {
	case m.queue <- payload:
	default:
		m.queueDrops.Add(1)
	}
}

// waitTimeout waits on wg, giving up after the duration
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
