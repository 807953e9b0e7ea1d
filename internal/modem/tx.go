package modem

import (
	"fmt"
	"time"
)

// Send wraps the payload for the wire, keys the transmitter, writes
// the modulation bytes to the modulator engine and un-keys. It blocks
// until the payload has been fully handed to the engine, not until it
// is over the air.
//
// Bursts are serialized: a concurrent Send waits for the burst in
// flight (or fails fast with ErrBusy when SendBusyFail is set), so
// two payloads can never interleave on the audio channel. A failure
// to un-key is returned as ErrUnkey but the payload is considered
// sent.
func (m *Modem) Send(payload []byte) error {
	m.mu.RLock()
	running := m.running
	ctx := m.ctx
	m.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}

	wrapped, err := m.framer.Wrap(payload)
	if err != nil {
		return fmt.Errorf("modem: %v", err)
	}

	if m.cfg.SendBusyFail {
		if !m.txMu.TryLock() {
			return ErrBusy
		}
	} else {
		m.txMu.Lock()
	}
	defer m.txMu.Unlock()

	tx, err := m.txEngine()
	if err != nil {
		return fmt.Errorf("failed to start modulator: %v", err)
	}

	if err := m.key.KeyOn(m.cfg.PTTFrequency); err != nil {
		if m.cfg.PTTAbortOnError {
			_ = m.key.KeyOff()
			return fmt.Errorf("modem: key-on failed: %v", err)
		}
		// Collateral fault: report and transmit anyway
		m.cfg.Logger.Printf("modem: key-on failed, transmitting anyway: %v", err)
	}

	if _, err := tx.Write(wrapped); err != nil {
		_ = m.key.KeyOff()
		m.dropTxEngine(tx)
		return fmt.Errorf("failed to write to modulator: %v", err)
	}
	m.bytesTx.Add(uint64(len(wrapped)))

	// Hold the key until the engine has had time to modulate the
	// final bytes out of its buffer
	if m.cfg.TxTrailDelay > 0 {
		select {
		case <-time.After(m.cfg.TxTrailDelay):
		case <-ctx.Done():
		}
	}

	m.sent.Add(1)

	if err := m.key.KeyOff(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnkey, err)
	}
	return nil
}

// txEngine returns the modulator, starting it on first use when the
// modem was not configured for an eager start. Callers hold txMu.
func (m *Modem) txEngine() (Engine, error) {
	m.mu.RLock()
	tx := m.tx
	running := m.running
	m.mu.RUnlock()

	if !running {
		return nil, ErrNotRunning
	}
	if tx != nil {
		select {
		case <-tx.Done():
			// Modulator died since the last burst; replace it
		default:
			return tx, nil
		}
	}

	tx, err := m.newTxEngine()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		_ = tx.Stop()
		return nil, ErrNotRunning
	}
	m.tx = tx
	m.mu.Unlock()
	return tx, nil
}

// dropTxEngine discards a modulator whose pipe failed mid-burst so
// the next Send starts a fresh one
func (m *Modem) dropTxEngine(tx Engine) {
	_ = tx.Stop()
	m.mu.Lock()
	if m.tx == tx {
		m.tx = nil
	}
	m.mu.Unlock()
}
