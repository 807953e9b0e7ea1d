package modem

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kb1gnu/fskmodem/internal/engine"
	"github.com/kb1gnu/fskmodem/internal/framing"
)

// fakeEngine stands in for an external engine process. The test
// feeds demodulated bytes and diagnostic events; writes are recorded
// per call so interleaving would be visible.
type fakeEngine struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	events chan engine.Event
	done   chan struct{}

	mu     sync.Mutex
	writes [][]byte

	blockWrites chan struct{} // when non-nil, Write waits on it

	stopOnce sync.Once
}

func newFakeEngine() *fakeEngine {
	r, w := io.Pipe()
	return &fakeEngine{
		r:      r,
		w:      w,
		events: make(chan engine.Event, 16),
		done:   make(chan struct{}),
	}
}

func (f *fakeEngine) Read(p []byte) (int, error) { return f.r.Read(p) }

func (f *fakeEngine) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	f.mu.Unlock()
	if f.blockWrites != nil {
		<-f.blockWrites
	}
	return len(p), nil
}

func (f *fakeEngine) Events() <-chan engine.Event { return f.events }
func (f *fakeEngine) Done() <-chan struct{}       { return f.done }

func (f *fakeEngine) Stop() error {
	f.stopOnce.Do(func() {
		f.w.Close()
		f.r.Close()
		close(f.done)
	})
	return nil
}

// crash simulates the external process dying: the data pipe hits EOF
func (f *fakeEngine) crash() {
	f.stopOnce.Do(func() {
		f.w.Close()
		close(f.done)
	})
}

func (f *fakeEngine) feed(t *testing.T, data []byte) {
	t.Helper()
	if _, err := f.w.Write(data); err != nil {
		t.Fatalf("feed failed: %v", err)
	}
}

// confidence emits a confidence report and waits for the receive
// loop to drain it, so bytes fed afterwards see the updated squelch
func (f *fakeEngine) confidence(t *testing.T, c float64) {
	t.Helper()
	f.events <- engine.Event{Kind: engine.EventConfidence, Confidence: c}
	deadline := time.Now().Add(5 * time.Second)
	for len(f.events) > 0 {
		if time.Now().After(deadline) {
			t.Fatal("confidence event never consumed")
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeEngine) recorded() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// fakeKey records the keying sequence and can fail on demand
type fakeKey struct {
	mu        sync.Mutex
	sequence  []string
	freqs     []uint64
	keyOnErr  error
	keyOffErr error
}

func (k *fakeKey) KeyOn(freq uint64) error {
	k.mu.Lock()
	k.sequence = append(k.sequence, "on")
	k.freqs = append(k.freqs, freq)
	k.mu.Unlock()
	return k.keyOnErr
}

func (k *fakeKey) KeyOff() error {
	k.mu.Lock()
	k.sequence = append(k.sequence, "off")
	k.mu.Unlock()
	return k.keyOffErr
}

func (k *fakeKey) Close() error { return nil }

func (k *fakeKey) recorded() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.sequence...)
}

// newTestModem builds a modem wired to fake engines
func newTestModem(t *testing.T, cfg Config) (*Modem, *fakeEngine, *fakeEngine, *fakeKey) {
	t.Helper()

	if cfg.Baud == "" {
		cfg.Baud = "300"
	}
	cfg.TxTrailDelay = time.Millisecond

	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	rx := newFakeEngine()
	tx := newFakeEngine()
	key := &fakeKey{}
	m.newRxEngine = func() (Engine, error) { return rx, nil }
	m.newTxEngine = func() (Engine, error) { return tx, nil }
	m.key = key

	return m, rx, tx, key
}

// collectPayloads registers a consumer feeding a channel
func collectPayloads(m *Modem) chan []byte {
	out := make(chan []byte, 16)
	m.SetReceiveConsumer(func(payload []byte) {
		out <- payload
	})
	return out
}

// waitBytesRx waits until the receive pipeline has consumed n bytes,
// so a subsequent event cannot overtake data already fed
func waitBytesRx(t *testing.T, m *Modem, n uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for m.Stats().BytesRx < n {
		if time.Now().After(deadline) {
			t.Fatalf("receive pipeline consumed %d bytes, want %d", m.Stats().BytesRx, n)
		}
		time.Sleep(time.Millisecond)
	}
}

func expectPayload(t *testing.T, out chan []byte, want []byte) {
	t.Helper()
	select {
	case got := <-out:
		if !bytes.Equal(got, want) {
			t.Fatalf("delivered %x, want %x", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("payload %x never delivered", want)
	}
}

func expectNoPayload(t *testing.T, out chan []byte) {
	t.Helper()
	select {
	case got := <-out:
		t.Fatalf("unexpected delivery %x", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHDLCRoundTripDelivery(t *testing.T) {
	m, rx, _, _ := newTestModem(t, Config{
		Framing:             framing.Options{Mode: framing.ModeHDLC},
		ConfidenceThreshold: 1.5,
	})

	out := collectPayloads(m)
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	rx.confidence(t, 2.0)

	framer, _ := framing.NewFramer(framing.Options{Mode: framing.ModeHDLC})
	wire, _ := framer.Wrap([]byte("hi"))
	rx.feed(t, wire)

	expectPayload(t, out, []byte("hi"))
	expectNoPayload(t, out)

	if got := m.Stats().Delivered; got != 1 {
		t.Errorf("Stats().Delivered = %d, want 1", got)
	}
}

func TestCorruptedFrameNotDelivered(t *testing.T) {
	m, rx, _, _ := newTestModem(t, Config{
		Framing: framing.Options{Mode: framing.ModeHDLC},
	})

	out := collectPayloads(m)
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	rx.confidence(t, 2.0)

	framer, _ := framing.NewFramer(framing.Options{Mode: framing.ModeHDLC})
	wire, _ := framer.Wrap([]byte("payload"))
	wire[3] ^= 0xFF
	rx.feed(t, wire)

	waitBytesRx(t, m, uint64(len(wire)))
	expectNoPayload(t, out)

	if got := m.Stats().IntegrityDrops; got != 1 {
		t.Errorf("Stats().IntegrityDrops = %d, want 1", got)
	}
}

// The squelch scenario: sync byte 0xC9, threshold 1.5, raw framing
// with a two byte end-of-message. The sync byte demodulated below
// threshold arms accumulation, low-confidence bytes are discarded,
// and exactly the high-confidence payload comes through. Sync
// re-arms after every delivered unit.
func TestSquelchSyncScenario(t *testing.T) {
	sync := byte(0xC9)
	m, rx, _, _ := newTestModem(t, Config{
		ConfidenceThreshold: 1.5,
		SyncByte:            &sync,
		Framing: framing.Options{
			Mode: framing.ModeRaw,
			EOM:  []byte{0x44, 0x44},
		},
	})

	out := collectPayloads(m)
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	rx.confidence(t, 0.9)
	rx.feed(t, []byte{0xC9, 0x41, 0x42})
	waitBytesRx(t, m, 3)

	rx.confidence(t, 2.0)
	rx.feed(t, []byte{0x43})
	waitBytesRx(t, m, 4)

	rx.confidence(t, 2.0)
	rx.feed(t, []byte{0x44, 0x44})

	expectPayload(t, out, []byte{0x43})
	expectNoPayload(t, out)

	// Sync has re-armed: payload bytes without a fresh sync marker
	// must be discarded even at high confidence
	rx.feed(t, []byte{0x45, 0x44, 0x44})
	waitBytesRx(t, m, 9)
	expectNoPayload(t, out)

	// A fresh sync marker opens the next message
	rx.feed(t, []byte{0xC9, 0x46, 0x44, 0x44})
	expectPayload(t, out, []byte{0x46})
}

func TestConfidenceDropAbortsAccumulation(t *testing.T) {
	m, rx, _, _ := newTestModem(t, Config{
		ConfidenceThreshold: 1.5,
		Framing:             framing.Options{Mode: framing.ModeHDLC},
	})

	out := collectPayloads(m)
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	framer, _ := framing.NewFramer(framing.Options{Mode: framing.ModeHDLC})
	wire, _ := framer.Wrap([]byte("doomed"))

	rx.confidence(t, 2.0)
	// Feed all but the closing flag, then lose the carrier
	rx.feed(t, wire[:len(wire)-1])
	waitBytesRx(t, m, uint64(len(wire)-1))

	rx.confidence(t, 0.3)

	// Back above threshold: the leftover half frame must not pollute
	// the next complete one
	rx.confidence(t, 2.0)
	good, _ := framer.Wrap([]byte("survivor"))
	rx.feed(t, good)

	expectPayload(t, out, []byte("survivor"))
	expectNoPayload(t, out)

	if got := m.Stats().SquelchAborts; got != 1 {
		t.Errorf("Stats().SquelchAborts = %d, want 1", got)
	}
}

func TestConcurrentSendsDoNotInterleave(t *testing.T) {
	m, _, tx, _ := newTestModem(t, Config{
		Framing: framing.Options{Mode: framing.ModeHDLC},
	})

	if err := m.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	first := bytes.Repeat([]byte{0xA1}, 200)
	second := bytes.Repeat([]byte{0xB2}, 200)

	var wg sync.WaitGroup
	wg.Add(2)
	var err1, err2 error
	go func() { defer wg.Done(); err1 = m.Send(first) }()
	go func() { defer wg.Done(); err2 = m.Send(second) }()
	wg.Wait()

	if err1 != nil || err2 != nil {
		t.Fatalf("Send() errors: %v, %v", err1, err2)
	}

	framer, _ := framing.NewFramer(framing.Options{Mode: framing.ModeHDLC})
	wireFirst, _ := framer.Wrap(first)
	wireSecond, _ := framer.Wrap(second)

	writes := tx.recorded()
	if len(writes) != 2 {
		t.Fatalf("modulator saw %d writes, want 2", len(writes))
	}

	// Each burst must arrive whole; order between the two concurrent
	// callers is unspecified
	if bytes.Equal(writes[0], wireFirst) {
		if !bytes.Equal(writes[1], wireSecond) {
			t.Errorf("second burst corrupted")
		}
	} else if bytes.Equal(writes[0], wireSecond) {
		if !bytes.Equal(writes[1], wireFirst) {
			t.Errorf("second burst corrupted")
		}
	} else {
		t.Errorf("first burst matches neither payload: %x", writes[0])
	}
}

func TestSendKeysAroundBurst(t *testing.T) {
	m, _, tx, key := newTestModem(t, Config{
		Framing:      framing.Options{Mode: framing.ModeHDLC},
		PTTFrequency: 14078000,
	})

	if err := m.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	if err := m.Send([]byte("cq cq")); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	seq := key.recorded()
	if len(seq) != 2 || seq[0] != "on" || seq[1] != "off" {
		t.Fatalf("keying sequence = %v, want [on off]", seq)
	}
	if key.freqs[0] != 14078000 {
		t.Errorf("KeyOn frequency = %d, want 14078000", key.freqs[0])
	}
	if len(tx.recorded()) != 1 {
		t.Errorf("modulator saw %d writes, want 1", len(tx.recorded()))
	}
}

func TestUnkeyFailureStillSends(t *testing.T) {
	m, _, tx, key := newTestModem(t, Config{
		Framing: framing.Options{Mode: framing.ModeHDLC},
	})
	key.keyOffErr = errors.New("stuck relay")

	if err := m.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	err := m.Send([]byte("sent anyway"))
	if !errors.Is(err, ErrUnkey) {
		t.Fatalf("Send() error = %v, want ErrUnkey", err)
	}
	if len(tx.recorded()) != 1 {
		t.Errorf("payload was not written despite unkey-only failure")
	}
	if got := m.Stats().Sent; got != 1 {
		t.Errorf("Stats().Sent = %d, want 1", got)
	}
}

func TestKeyOnFailurePolicies(t *testing.T) {
	t.Run("report and continue", func(t *testing.T) {
		m, _, tx, key := newTestModem(t, Config{
			Framing: framing.Options{Mode: framing.ModeHDLC},
		})
		key.keyOnErr = errors.New("no rig")

		if err := m.Start(); err != nil {
			t.Fatalf("Start() error: %v", err)
		}
		defer m.Stop()

		if err := m.Send([]byte("vox will do")); err != nil {
			t.Fatalf("Send() error: %v", err)
		}
		if len(tx.recorded()) != 1 {
			t.Errorf("payload was not transmitted under report-and-continue policy")
		}
	})

	t.Run("abort", func(t *testing.T) {
		m, _, tx, key := newTestModem(t, Config{
			Framing:         framing.Options{Mode: framing.ModeHDLC},
			PTTAbortOnError: true,
		})
		key.keyOnErr = errors.New("no rig")

		if err := m.Start(); err != nil {
			t.Fatalf("Start() error: %v", err)
		}
		defer m.Stop()

		if err := m.Send([]byte("never airs")); err == nil {
			t.Fatalf("Send() expected error under abort policy")
		}
		if len(tx.recorded()) != 0 {
			t.Errorf("payload transmitted despite aborted key-on")
		}
	})
}

func TestSendBusyFail(t *testing.T) {
	m, _, tx, _ := newTestModem(t, Config{
		Framing:      framing.Options{Mode: framing.ModeHDLC},
		SendBusyFail: true,
	})
	tx.blockWrites = make(chan struct{})

	if err := m.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	finished := make(chan error, 1)
	go func() {
		finished <- m.Send([]byte("slow burst"))
	}()

	// Wait for the first burst to reach the modulator, which proves
	// it holds the transmit lock
	deadline := time.Now().Add(2 * time.Second)
	for len(tx.recorded()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first burst never reached the modulator")
		}
		time.Sleep(time.Millisecond)
	}

	if err := m.Send([]byte("rejected")); err != ErrBusy {
		t.Errorf("concurrent Send() error = %v, want ErrBusy", err)
	}

	close(tx.blockWrites)
	if err := <-finished; err != nil {
		t.Fatalf("first Send() error: %v", err)
	}
}

func TestLazyModulatorStart(t *testing.T) {
	m, _, _, _ := newTestModem(t, Config{
		Framing: framing.Options{Mode: framing.ModeHDLC},
	})

	var starts int
	tx := newFakeEngine()
	m.newTxEngine = func() (Engine, error) {
		starts++
		return tx, nil
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	if starts != 0 {
		t.Fatalf("modulator started eagerly, want lazy")
	}

	if err := m.Send([]byte("one")); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if err := m.Send([]byte("two")); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if starts != 1 {
		t.Errorf("modulator started %d times, want 1", starts)
	}
}

func TestCrashMarksModemAndStopIsIdempotent(t *testing.T) {
	m, rx, _, _ := newTestModem(t, Config{
		Framing: framing.Options{Mode: framing.ModeHDLC},
	})

	if err := m.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	rx.crash()

	deadline := time.Now().Add(5 * time.Second)
	for !m.Crashed() {
		if time.Now().After(deadline) {
			t.Fatal("modem never observed the demodulator crash")
		}
		time.Sleep(time.Millisecond)
	}

	if m.Online() {
		t.Errorf("Online() = true after crash")
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() after crash error: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("second Stop() error: %v", err)
	}
}

func TestRespawnAfterCrash(t *testing.T) {
	m, rx, _, _ := newTestModem(t, Config{
		Framing:        framing.Options{Mode: framing.ModeHDLC},
		RespawnOnCrash: true,
	})

	replacement := newFakeEngine()
	engines := []*fakeEngine{rx, replacement}
	m.newRxEngine = func() (Engine, error) {
		e := engines[0]
		engines = engines[1:]
		return e, nil
	}

	out := collectPayloads(m)
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	rx.crash()

	deadline := time.Now().Add(5 * time.Second)
	for m.Stats().Respawns != 1 {
		if time.Now().After(deadline) {
			t.Fatal("demodulator never respawned")
		}
		time.Sleep(time.Millisecond)
	}

	if !m.Online() {
		t.Fatalf("Online() = false after successful respawn")
	}

	// The replacement engine must feed the same pipeline
	replacement.confidence(t, 2.0)
	framer, _ := framing.NewFramer(framing.Options{Mode: framing.ModeHDLC})
	wire, _ := framer.Wrap([]byte("back on air"))
	replacement.feed(t, wire)

	expectPayload(t, out, []byte("back on air"))
}

func TestSendWhenStopped(t *testing.T) {
	m, _, _, _ := newTestModem(t, Config{
		Framing: framing.Options{Mode: framing.ModeHDLC},
	})

	if err := m.Send([]byte("nope")); err != ErrNotRunning {
		t.Errorf("Send() error = %v, want ErrNotRunning", err)
	}
}

func TestStopUnblocksReceive(t *testing.T) {
	m, _, _, _ := newTestModem(t, Config{
		Framing:   framing.Options{Mode: framing.ModeHDLC},
		StopGrace: 2 * time.Second,
	})

	if err := m.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// The receive loop is blocked on an empty pipe; Stop must return
	// within the grace period anyway
	done := make(chan error, 1)
	go func() { done <- m.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Stop() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() hung on a blocked receive loop")
	}
}
