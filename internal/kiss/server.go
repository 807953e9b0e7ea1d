package kiss

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// Sender is the transmit side a data frame is handed to
type Sender interface {
	Send(payload []byte) error
}

const writeTimeout = 5 * time.Second

// Config holds the TCP server settings
type Config struct {
	Address  string // listen address, e.g. "127.0.0.1:8001"
	MaxFrame int    // per-frame content bound, 0 for DefaultMaxFrame
	Logger   *log.Logger
	Debug    bool
}

// Server accepts KISS TNC clients over TCP. Data frames from any
// client are handed to the sender; payloads given to Broadcast are
// fanned out to every connected client as KISS data frames.
type Server struct {
	cfg    Config
	sender Sender

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	ln      net.Listener
	conns   map[net.Conn]struct{}
}

// NewServer creates a stopped server
func NewServer(cfg Config, sender Sender) (*Server, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("kiss: listen address is required")
	}
	if cfg.MaxFrame <= 0 {
		cfg.MaxFrame = DefaultMaxFrame
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if sender == nil {
		return nil, fmt.Errorf("kiss: sender is required")
	}
	return &Server{
		cfg:    cfg,
		sender: sender,
		conns:  make(map[net.Conn]struct{}),
	}, nil
}

// Start binds the listener and begins accepting clients
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %v", s.cfg.Address, err)
	}
	s.ln = ln
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.cfg.Logger.Printf("kiss: listening on %s", ln.Addr())

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listen address, nil when stopped
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Stop closes the listener and all client connections
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	ln := s.ln
	s.ln = nil
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	err := ln.Close()
	s.wg.Wait()
	return err
}

// Broadcast delivers a received payload to every connected client
func (s *Server) Broadcast(payload []byte) {
	wire := Encode(0, CmdData, payload)

	s.mu.Lock()
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := c.Write(wire); err != nil {
			s.cfg.Logger.Printf("kiss: dropping client %s: %v", c.RemoteAddr(), err)
			s.dropConn(c)
		}
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				s.cfg.Logger.Printf("kiss: accept failed: %v", err)
			}
			return
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.cfg.Logger.Printf("kiss: client connected from %s", conn.RemoteAddr())
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.dropConn(conn)

	dec := NewDecoder(s.cfg.MaxFrame)
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		for _, b := range buf[:n] {
			frame, ok := dec.Push(b)
			if ok {
				s.handleFrame(frame)
			}
		}
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				s.cfg.Logger.Printf("kiss: client %s disconnected", conn.RemoteAddr())
			}
			return
		}
	}
}

func (s *Server) handleFrame(frame Frame) {
	switch frame.Cmd {
	case CmdData:
		if err := s.sender.Send(frame.Data); err != nil {
			s.cfg.Logger.Printf("kiss: transmit failed: %v", err)
		}
	case CmdReturn:
		// Exit-KISS-mode, nothing to leave
	default:
		// TXDELAY and friends tune a real TNC's radio timing; the
		// engine owns those here
		if s.cfg.Debug {
			s.cfg.Logger.Printf("kiss: ignoring command %#02x", frame.Cmd)
		}
	}
}

func (s *Server) dropConn(conn net.Conn) {
	s.mu.Lock()
	_, present := s.conns[conn]
	delete(s.conns, conn)
	s.mu.Unlock()
	if present {
		conn.Close()
	}
}
