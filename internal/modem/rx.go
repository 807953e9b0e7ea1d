package modem

import (
	"github.com/kb1gnu/fskmodem/internal/engine"
	"github.com/kb1gnu/fskmodem/internal/framing"
)

// rxState is the receive pipeline state. It is owned exclusively by
// the receive loop goroutine and reset whenever squelch closes or a
// payload completes.
type rxState struct {
	deframer    framing.Deframer
	squelchOpen bool
	syncNeeded  bool // waiting for the sync byte before accumulating
	accumulated bool // content bytes consumed since squelch opened
}

// receiveLoop reads demodulated bytes and diagnostic events from the
// demodulator until shutdown or crash. On a crash it attempts one
// respawn when configured, otherwise it marks the modem crashed.
func (m *Modem) receiveLoop(rx Engine) {
	defer m.wg.Done()

	deframer, err := framing.NewDeframer(m.cfg.Framing)
	if err != nil {
		// Options were validated at construction
		m.cfg.Logger.Printf("modem: %v", err)
		return
	}

	st := &rxState{deframer: deframer}
	st.rearm(m.cfg.SyncByte)

	for {
		chunks := m.startReader(rx)
		crashed := m.processStream(rx, chunks, st)
		if !crashed {
			return
		}

		rx, err = m.respawn(rx)
		if err != nil {
			return
		}

		// A respawned engine starts a fresh burst
		st.close(m)
	}
}

// startReader pumps demodulated bytes from the engine into a channel
// so the processing loop can select across data, events and shutdown
func (m *Modem) startReader(rx Engine) <-chan []byte {
	chunks := make(chan []byte, 16)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(chunks)

		buf := make([]byte, 1024)
		for {
			n, err := rx.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-m.ctx.Done():
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return chunks
}

// processStream drives the squelch state machine until shutdown or
// engine exit. It reports true when the engine died unexpectedly.
func (m *Modem) processStream(rx Engine, chunks <-chan []byte, st *rxState) bool {
	events := rx.Events()

	for {
		select {
		case <-m.ctx.Done():
			return false

		case ev := <-events:
			st.handleEvent(m, ev)

		case chunk, ok := <-chunks:
			if !ok {
				// Demodulator pipe EOF: clean shutdown or crash
				select {
				case <-m.ctx.Done():
					return false
				default:
					return true
				}
			}
			m.bytesRx.Add(uint64(len(chunk)))
			for _, b := range chunk {
				st.handleByte(m, b)
			}
		}
	}
}

// respawn attempts the configured single demodulator restart. On
// failure (or when respawning is disabled) the modem is marked
// crashed and the receive pipeline ends.
func (m *Modem) respawn(dead Engine) (Engine, error) {
	_ = dead.Stop()

	if !m.cfg.RespawnOnCrash || m.respawns.Load() > 0 {
		m.markCrashed()
		return nil, ErrNotRunning
	}

	m.cfg.Logger.Printf("modem: demodulator crashed, respawning")
	rx, err := m.newRxEngine()
	if err != nil {
		m.cfg.Logger.Printf("modem: respawn failed: %v", err)
		m.markCrashed()
		return nil, err
	}
	m.respawns.Add(1)

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		_ = rx.Stop()
		return nil, ErrNotRunning
	}
	m.rx = rx
	m.mu.Unlock()

	return rx, nil
}

func (m *Modem) markCrashed() {
	m.mu.Lock()
	m.crashed = true
	m.mu.Unlock()
	m.cfg.Logger.Printf("modem: demodulator lost, receive pipeline stopped")
}

// handleEvent applies a diagnostic event to the squelch gate
func (st *rxState) handleEvent(m *Modem, ev engine.Event) {
	switch ev.Kind {
	case engine.EventCarrier:
		if ev.Confidence >= 0 && ev.Confidence < m.cfg.ConfidenceThreshold {
			st.close(m)
			return
		}
		// Carrier reported without a confidence value: the engine
		// itself was configured with the threshold, trust its gate
		st.squelchOpen = true

	case engine.EventNoCarrier:
		st.close(m)

	case engine.EventConfidence:
		if ev.Confidence >= m.cfg.ConfidenceThreshold {
			st.squelchOpen = true
		} else {
			st.close(m)
		}
	}
}

// handleByte runs one demodulated byte through the sync and squelch
// gates and, when both pass, the deframer.
//
// The sync gate is evaluated on every byte regardless of squelch so a
// sync marker demodulated at low confidence still arms payload
// accumulation for the burst that follows it; squelch alone decides
// whether bytes become content.
func (st *rxState) handleByte(m *Modem, b byte) {
	if st.syncNeeded {
		if b == *m.cfg.SyncByte {
			st.syncNeeded = false
		}
		// The sync byte is a marker, not content; mismatches are noise
		return
	}

	if !st.squelchOpen {
		return
	}

	before := st.deframer.Drops()
	payload, ok := st.deframer.Push(b)
	st.accumulated = true

	if dropped := st.deframer.Drops() - before; dropped > 0 {
		m.integrityDrops.Add(dropped)
	}
	if ok {
		m.enqueue(payload)
		st.accumulated = false
		st.rearm(m.cfg.SyncByte)
	}
}

// close shuts the squelch gate, aborting any accumulation in
// progress. Partial payloads are never delivered.
func (st *rxState) close(m *Modem) {
	if st.squelchOpen && st.accumulated {
		m.squelchAborts.Add(1)
	}
	st.squelchOpen = false
	st.accumulated = false
	st.deframer.Reset()
	st.rearm(m.cfg.SyncByte)
}

// rearm resets the sync gate; it re-arms after every delivered unit
// and whenever squelch closes
func (st *rxState) rearm(sync *byte) {
	st.syncNeeded = sync != nil
}
