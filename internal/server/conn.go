package server

import (
	"errors"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/dreamware/kvstored/internal/store"
	"github.com/dreamware/kvstored/internal/wire"
)

// handleConn runs one connection's serial request/response pipeline until
// the peer closes the connection or sends something the protocol rejects.
// State machine: HEADER -> BODY -> DISPATCH -> HEADER (loop) or CLOSED.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	var headerBuf [wire.HeaderSize]byte

	for {
		if _, err := io.ReadFull(conn, headerBuf[:]); err != nil {
			if errors.Is(err, io.EOF) {
				// Clean close at a message boundary: not a protocol violation.
				return
			}
			s.logger.Debug("connection read error", zap.Error(err), zap.String("remote", conn.RemoteAddr().String()))
			// Partial header: the header never decoded, so there is no
			// sequence_id to echo.
			s.writeResponse(conn, 0, wire.StatusProtocolError, nil)
			return
		}

		header, err := wire.DecodeRequestHeader(headerBuf)
		if err != nil {
			// Malformed header: there is no reliable way to resynchronize
			// on the byte stream (we don't know the intended body length),
			// so the connection closes after reporting the error.
			status := wire.StatusProtocolError
			if errors.Is(err, wire.ErrBadCommand) {
				status = wire.StatusInvalidCommand
			}
			s.writeResponse(conn, 0, status, nil)
			return
		}

		key := make([]byte, header.KeyLength)
		if header.KeyLength > 0 {
			if _, err := io.ReadFull(conn, key); err != nil {
				s.writeResponse(conn, header.SequenceID, wire.StatusProtocolError, nil)
				return
			}
		}
		value := make([]byte, header.ValueLength)
		if header.ValueLength > 0 {
			if _, err := io.ReadFull(conn, value); err != nil {
				s.writeResponse(conn, header.SequenceID, wire.StatusProtocolError, nil)
				return
			}
		}

		status, payload := s.dispatch(header, key, value)
		if !s.writeResponse(conn, header.SequenceID, status, payload) {
			return
		}
	}
}

func (s *Server) writeResponse(conn net.Conn, seq uint16, status wire.Status, payload []byte) bool {
	out := wire.EncodeResponse(seq, status, payload)
	if _, err := conn.Write(out); err != nil {
		s.logger.Debug("connection write error", zap.Error(err), zap.String("remote", conn.RemoteAddr().String()))
		return false
	}
	return true
}

// dispatch applies one decoded request to the store (and, for mutations,
// the AOL) and returns the response status and payload.
//
// Write ordering: SET logs before it applies, so a crash between the log
// append and the map mutation cannot leave an acknowledged write
// unrecorded. DELETE applies to the map first; the map's observed removal
// decides whether a log record is written at all, so an absent key never
// produces a DELETE record. Both orderings log strictly before
// acknowledgement.
func (s *Server) dispatch(h wire.Header, key, value []byte) (wire.Status, []byte) {
	switch h.Command {
	case wire.CmdGet:
		v, err := s.store.Get(key)
		if errors.Is(err, store.ErrKeyNotFound) {
			return wire.StatusKeyNotFound, nil
		}
		return wire.StatusOK, v

	case wire.CmdSet:
		if err := s.aolWriter.LogSet(key, value); err != nil {
			s.logger.Error("aol log_set failed", zap.Error(err))
			return wire.StatusInternalError, nil
		}
		s.store.Set(key, value)
		return wire.StatusOK, nil

	case wire.CmdDelete:
		if err := s.store.Remove(key); errors.Is(err, store.ErrKeyNotFound) {
			return wire.StatusKeyNotFound, nil
		}
		if err := s.aolWriter.LogDelete(key); err != nil {
			s.logger.Error("aol log_delete failed", zap.Error(err))
			return wire.StatusInternalError, nil
		}
		return wire.StatusOK, nil

	case wire.CmdPing:
		return wire.StatusOK, nil

	default:
		return wire.StatusInvalidCommand, nil
	}
}
