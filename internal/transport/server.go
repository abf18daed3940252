package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/altianls/seatserver/internal/errs"
	"github.com/altianls/seatserver/internal/seatmanager"
)

// maxFrameSize bounds a single envelope, guarding against a misbehaving
// client sending an unbounded length prefix.
const maxFrameSize = 1 << 20

// Server is the framed TCP listener of spec.md §6: a worker pool dequeues
// one framed message at a time per connection and dispatches it to Seat
// Manager (spec.md §5 "A worker pool... dequeues framed messages from the
// transport and dispatches to Seat Manager").
type Server struct {
	addr       string
	manager    *seatmanager.Manager
	version    string
	webAddress func() string
	workers    int
	log        *slog.Logger

	listener net.Listener
	sem      chan struct{}
}

// New builds a Server. webAddress returns the current web status address
// (empty string if disabled), read lazily per request rather than baked
// in at construction.
func New(addr string, manager *seatmanager.Manager, version string, webAddress func() string, workers int, log *slog.Logger) *Server {
	if workers <= 0 {
		workers = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		addr:       addr,
		manager:    manager,
		version:    version,
		webAddress: webAddress,
		workers:    workers,
		log:        log,
		sem:        make(chan struct{}, workers),
	}
}

// ListenAndServe binds addr and serves connections until Close is called.
// Binding failure is fatal per spec.md §7 ("failure to bind the
// transport").
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bind transport: %w", err)
	}
	s.listener = ln
	s.log.Info("transport listening", "addr", s.addr, "workers", s.workers)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.listener == nil {
				return nil // Close was called; the accept error is expected.
			}
			s.log.Error("accept connection", "err", err)
			continue
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	ln := s.listener
	s.listener = nil
	if ln == nil {
		return nil
	}
	return ln.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		env, err := readEnvelope(conn)
		if err != nil {
			if err != io.EOF {
				s.log.Debug("read envelope", "err", err)
			}
			return
		}
		if env.Type == Kill {
			return
		}

		// The worker pool bounds concurrent in-flight dispatches across all
		// connections; a connection's next frame waits its turn like any
		// other, preserving per-client in-order effects (spec.md §5
		// "Ordering guarantees").
		s.sem <- struct{}{}
		reply := s.dispatch(env)
		<-s.sem

		if err := writeEnvelope(conn, reply); err != nil {
			s.log.Debug("write reply", "err", err)
			return
		}
	}
}

func (s *Server) dispatch(env Envelope) Envelope {
	correlationID := env.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := s.log.With("correlation_id", correlationID, "type", env.Type)

	payload, err := s.handle(env, log)
	if err != nil {
		log.Warn("request failed", "err", err)
		errPayload, _ := json.Marshal(ErrorResult{Code: errs.CodeOf(err), Message: err.Error()})
		return Envelope{Type: Reply, CorrelationID: correlationID, Payload: errPayload}
	}
	return Envelope{Type: Reply, CorrelationID: correlationID, Payload: payload}
}

func (s *Server) handle(env Envelope, log *slog.Logger) (json.RawMessage, error) {
	switch env.Type {
	case TakeSeat:
		var req TakeSeatRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, errs.NewArgumentError("payload")
		}
		ok, err := s.manager.TakeSeat(req.Product, req.IP, req.User, req.Host)
		if err != nil {
			return nil, err
		}
		return json.Marshal(BoolResult{Value: ok})

	case ReleaseSeat:
		var req ReleaseSeatRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, errs.NewArgumentError("payload")
		}
		ok, err := s.manager.ReleaseSeat(req.Product, req.IP, req.User)
		if err != nil {
			return nil, err
		}
		return json.Marshal(BoolResult{Value: ok})

	case RefreshSeat:
		var req RefreshSeatRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, errs.NewArgumentError("payload")
		}
		if err := s.manager.RefreshSeat(req.Product, req.IP, req.User, req.Host); err != nil {
			return nil, err
		}
		return nil, nil

	case QueryConnections:
		var req ProductRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, errs.NewArgumentError("payload")
		}
		conns, err := s.manager.GetConnections(req.Product)
		if err != nil {
			return nil, err
		}
		out := make([]ConnectionView, len(conns))
		for i, c := range conns {
			out[i] = ConnectionView{
				User:       c.User,
				Host:       c.Host,
				IP:         c.IP,
				LogonTime:  c.LogonTime.Format(time.RFC3339),
				UpdateTime: c.UpdateTime.Format(time.RFC3339),
			}
		}
		return json.Marshal(out)

	case NumberOfSeats:
		var req ProductRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, errs.NewArgumentError("payload")
		}
		n, err := s.manager.TotalSeats(req.Product)
		if err != nil {
			return nil, err
		}
		return json.Marshal(IntResult{Value: n})

	case ServerVersion:
		return json.Marshal(StringResult{Value: s.version})

	case QueryProducts:
		products, err := s.manager.GetProducts()
		if err != nil {
			return nil, err
		}
		return json.Marshal(StringListResult{Values: products})

	case QueryLicence:
		var req ProductRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return nil, errs.NewArgumentError("payload")
		}
		view, err := s.manager.GetLicenceDetails(req.Product)
		if err != nil {
			return nil, err
		}
		return json.Marshal(LicenceView{
			Company:       view.Company,
			Product:       view.Product,
			Customer:      view.Customer,
			Reference:     view.Reference,
			Reseller:      view.Reseller,
			NumberOfSeats: view.NumberOfSeats,
			Date:          view.Date,
		})

	case WebServerAddress:
		addr := ""
		if s.webAddress != nil {
			addr = s.webAddress()
		}
		return json.Marshal(StringResult{Value: addr})

	default:
		log.Warn("unrecognised message type")
		return nil, fmt.Errorf("unrecognised message type %d", env.Type)
	}
}

// readEnvelope reads one length-prefixed JSON envelope: a 4-byte
// big-endian length followed by that many bytes of JSON.
func readEnvelope(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return Envelope{}, fmt.Errorf("frame too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// writeEnvelope writes one length-prefixed JSON envelope.
func writeEnvelope(w io.Writer, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
