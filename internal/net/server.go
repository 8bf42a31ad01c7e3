package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"kestrel/internal/common"
	"kestrel/internal/engine"
	"kestrel/internal/utils"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	defaultNWorkers     = 10
	defaultPollTimeout  = time.Second
	defaultFrameTimeout = 5 * time.Second
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
	ErrOwnerInUse         = errors.New("owner is bound to another session")
)

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	conn      net.Conn
	writeLock sync.Mutex
}

func (session *ClientSession) write(payload []byte) error {
	session.writeLock.Lock()
	defer session.writeLock.Unlock()
	return WriteFrame(session.conn, payload)
}

// ClientMessage links a message to the client sending it.
type ClientMessage struct {
	clientAddress string
	message       Message
}

type Server struct {
	address string
	port    int
	engine  *engine.Engine
	pool    utils.WorkerPool
	cancel  context.CancelFunc

	listener net.Listener
	ready    chan struct{}

	clientSessions     map[string]*ClientSession
	owners             map[uint32]string // owner to the address of the session holding it
	clientSessionsLock sync.Mutex
	clientMessages     chan ClientMessage
}

func New(address string, port int, eng *engine.Engine, nWorkers uint) *Server {
	if nWorkers == 0 {
		nWorkers = defaultNWorkers
	}
	return &Server{
		address:        address,
		port:           port,
		engine:         eng,
		pool:           utils.NewWorkerPool(nWorkers),
		ready:          make(chan struct{}),
		clientSessions: make(map[string]*ClientSession),
		owners:         make(map[uint32]string),
		clientMessages: make(chan ClientMessage, 1),
	}
}

// Addr blocks until Run has bound its listener and returns its address, or nil
// if listening failed.
func (s *Server) Addr() net.Addr {
	<-s.ready
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Server) Run(ctx context.Context) error {
	// Setup a cancel on the context for future shutdown.
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.Shutdown()
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		close(s.ready)
		log.Error().Err(err).Msg("unable to start listener")
		return err
	}
	s.listener = listener
	close(s.ready)

	// Accept blocks regardless of ctx, so closing the listener is what stops
	// the accept loop.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
		s.closeClientSessions()
		return nil
	})

	// Start the worker pool.
	s.pool.Setup(t, s.handleConnection)

	// Start the session handler.
	t.Go(func() error {
		return s.sessionHandler(ctx, t)
	})

	log.Info().Str("address", listener.Addr().String()).Msg("server running")

	// Start accepting connections.
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-t.Dying():
				if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			default:
			}
			log.Error().Err(err).Msg("error accepting client")
			continue
		}

		log.Info().
			Str("address", conn.RemoteAddr().String()).
			Msg("new client added")
		// Add the client to client sessions we are tracking.
		// We expect to potentially maintain a long TCP session.
		s.addClientSession(conn)

		// Pass over the connection to be read from.
		s.pool.AddTask(conn)
	}
}

// ReportTrade sends an execution report to both parties of trade, for those
// with a live session.
func (s *Server) ReportTrade(trade common.Trade) error {
	takerReport, makerReport, err := generateWireTradeReports(trade)
	if err != nil {
		return err
	}

	return errors.Join(
		s.reportOwner(trade.Taker.Owner, takerReport),
		s.reportOwner(trade.Maker.Owner, makerReport),
	)
}

func (s *Server) reportOwner(owner uint32, report []byte) error {
	s.clientSessionsLock.Lock()
	address, ok := s.owners[owner]
	s.clientSessionsLock.Unlock()
	if !ok {
		// Nobody to tell.
		return nil
	}
	return s.report(address, report)
}

func (s *Server) report(clientAddress string, report []byte) error {
	s.clientSessionsLock.Lock()
	session, ok := s.clientSessions[clientAddress]
	s.clientSessionsLock.Unlock()
	if !ok {
		return ErrClientDoesNotExist
	}

	if err := session.write(report); err != nil {
		s.deleteClientSession(clientAddress)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

// sessionHandler reads off incoming messages from clients and handles high-level
// session logic. Messages are received from the pool of workers.
func (s *Server) sessionHandler(ctx context.Context, t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-s.clientMessages:
			if err := s.handleMessage(ctx, message); err != nil {
				log.Error().
					Err(err).
					Str("address", message.clientAddress).
					Msg("unable to reply to client")
			}
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, message ClientMessage) error {
	switch m := message.message.(type) {
	case NewOrderMessage:
		if err := s.bindOwner(m.Owner, message.clientAddress); err != nil {
			return s.reportError(message.clientAddress, 0, err)
		}

		order, _, err := s.engine.Submit(ctx, m.Order())
		if err != nil {
			return s.reportError(message.clientAddress, order.ID, err)
		}
		ack, err := generateWireAckReport(order)
		if err != nil {
			return err
		}
		return s.report(message.clientAddress, ack)

	case CancelOrderMessage:
		if err := s.bindOwner(m.Owner, message.clientAddress); err != nil {
			return s.reportError(message.clientAddress, m.OrderID, err)
		}

		order, err := s.engine.Cancel(ctx, m.Owner, m.OrderID)
		if err != nil {
			return s.reportError(message.clientAddress, m.OrderID, err)
		}
		ack, err := generateWireAckReport(order)
		if err != nil {
			return err
		}
		return s.report(message.clientAddress, ack)

	case BaseMessage:
		if m.TypeOf != QueryTop {
			return nil
		}
		top, err := s.engine.Top(ctx)
		if err != nil {
			return s.reportError(message.clientAddress, 0, err)
		}
		bid, err := generateWireTopReport(common.Bid, top.Bid)
		if err != nil {
			return err
		}
		ask, err := generateWireTopReport(common.Ask, top.Ask)
		if err != nil {
			return err
		}
		return errors.Join(
			s.report(message.clientAddress, bid),
			s.report(message.clientAddress, ask),
		)
	}
	return ErrInvalidMessageType
}

func (s *Server) reportError(clientAddress string, orderID uint64, err error) error {
	report, serializeErr := generateWireErrorReport(orderID, err)
	if serializeErr != nil {
		return serializeErr
	}
	return s.report(clientAddress, report)
}

// handleConnection is a short-lived worker method which reads the next message off the
// connection, parses and passes it forward to sessionHandler to handle it. Idle
// connections are handed back to the pool after a short poll so that workers
// are shared between clients. If the connection dies, the client session is
// cleaned up.
// Note, any error returned from here is fatal.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}
	address := conn.RemoteAddr().String()

	select {
	case <-t.Dying():
		return nil
	default:
	}

	// Poll for the start of a frame.
	if err := conn.SetReadDeadline(time.Now().Add(defaultPollTimeout)); err != nil {
		log.Error().Str("address", address).Err(err).Msg("failed setting deadline for connection")
		s.deleteClientSession(address)
		return nil
	}
	header := make([]byte, FrameHeaderLen)
	n, err := io.ReadFull(conn, header)
	if err != nil {
		var netErr net.Error
		if n == 0 && errors.As(err, &netErr) && netErr.Timeout() {
			s.pool.AddTask(conn)
			return nil
		}
		if !errors.Is(err, io.EOF) {
			log.Error().Err(err).Str("address", address).Msg("error reading from connection")
		}
		s.deleteClientSession(address)
		return nil
	}

	// A frame has started, give the rest of it longer to arrive.
	if err := conn.SetReadDeadline(time.Now().Add(defaultFrameTimeout)); err != nil {
		s.deleteClientSession(address)
		return nil
	}
	body, err := readFrameBody(conn, header)
	if err != nil {
		log.Error().Err(err).Str("address", address).Msg("error reading from connection")
		s.deleteClientSession(address)
		return nil
	}

	message, err := parseMessage(body)
	if err != nil {
		log.Error().Err(err).Str("address", address).Msg("error parsing message")
		if err := s.reportError(address, 0, err); err != nil {
			return nil
		}
		s.pool.AddTask(conn)
		return nil
	}

	// Pass over to the message handling buffer.
	select {
	case <-t.Dying():
		return nil
	case s.clientMessages <- ClientMessage{message: message, clientAddress: address}:
	}

	// Push the client connection back to handle the next message.
	s.pool.AddTask(conn)
	return nil
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	s.clientSessions[conn.RemoteAddr().String()] = &ClientSession{
		conn: conn,
	}
}

// bindOwner routes future trade reports for owner to the session at address.
// An owner stays with the first session that names it until that session is
// gone.
func (s *Server) bindOwner(owner uint32, address string) error {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	if bound, ok := s.owners[owner]; ok && bound != address {
		return ErrOwnerInUse
	}
	s.owners[owner] = address
	return nil
}

// deleteClientSession is an atomic map remove. It closes the connection.
func (s *Server) deleteClientSession(address string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	session, ok := s.clientSessions[address]
	if !ok {
		return
	}
	delete(s.clientSessions, address)
	for owner, ownerAddress := range s.owners {
		if ownerAddress == address {
			delete(s.owners, owner)
		}
	}
	if err := session.conn.Close(); err != nil {
		log.Debug().Str("address", address).Err(err).Msg("error closing connection")
	}
}

func (s *Server) closeClientSessions() {
	s.clientSessionsLock.Lock()
	addresses := make([]string, 0, len(s.clientSessions))
	for address := range s.clientSessions {
		addresses = append(addresses, address)
	}
	s.clientSessionsLock.Unlock()

	for _, address := range addresses {
		s.deleteClientSession(address)
	}
}
