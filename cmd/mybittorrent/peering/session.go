package peering

import (
	"bytes"
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mcheviron/peerwire/cmd/mybittorrent/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrPeerTimeout       = errors.New("peer timed out")
	ErrChoked            = errors.New("choked by peer")
	ErrPieceUnavailable  = errors.New("peer does not have piece")
	ErrPieceHashMismatch = errors.New("piece hash mismatch")
)

type handshakeState int

const (
	stateNew handshakeState = iota
	stateInitiated
	stateCompleted
)

// Session owns one peer connection. It is not safe for concurrent use.
type Session struct {
	conn     net.Conn
	cfg      config.Config
	log      *zap.Logger
	limiter  *rate.Limiter
	infoHash [20]byte

	state      handshakeState
	remoteID   [20]byte
	bitfield   *Bitfield
	choked     bool
	interested bool
}

// Dial connects to addr and completes the handshake.
func Dial(ctx context.Context, addr string, infoHash [20]byte, cfg config.Config, logger *zap.Logger) (*Session, error) {
	dialer := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to peer %s: %w", addr, err)
	}

	s, err := NewSession(conn, infoHash, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewSession wraps an established connection. Handshake must be called
// before any other message is exchanged.
func NewSession(conn net.Conn, infoHash [20]byte, cfg config.Config, logger *zap.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.L()
	}
	limit, burst := rate.Inf, 0
	if cfg.RequestRate > 0 {
		limit, burst = rate.Limit(cfg.RequestRate), 1
	}
	return &Session{
		conn:     conn,
		cfg:      cfg,
		log:      logger.With(zap.Stringer("peer", conn.RemoteAddr())),
		limiter:  rate.NewLimiter(limit, burst),
		infoHash: infoHash,
		bitfield: NewBitfield(),
		choked:   true,
	}, nil
}

func (s *Session) Handshake() error {
	if s.state != stateNew {
		return fmt.Errorf("handshake already performed")
	}

	out := Handshake{InfoHash: s.infoHash, PeerID: s.cfg.PeerIDBytes()}
	if err := s.write(out.Serialize()); err != nil {
		return fmt.Errorf("failed to send handshake: %w", err)
	}
	s.state = stateInitiated

	if err := s.setReadDeadline(); err != nil {
		return err
	}
	in, err := ReadHandshake(s.conn)
	if err != nil {
		return s.classify(err)
	}
	if !bytes.Equal(in.InfoHash[:], s.infoHash[:]) {
		s.log.Warn("Peer answered with a different info hash",
			zap.Binary("expected", s.infoHash[:]), zap.Binary("got", in.InfoHash[:]))
	}

	s.remoteID = in.PeerID
	s.state = stateCompleted
	s.log.Debug("Handshake completed", zap.String("peer_id", fmt.Sprintf("%x", in.PeerID)))
	return nil
}

func (s *Session) RemotePeerID() [20]byte { return s.remoteID }

func (s *Session) Bitfield() *Bitfield { return s.bitfield }

func (s *Session) Choked() bool { return s.choked }

func (s *Session) Close() error {
	return s.conn.Close()
}

// Send writes one framed message.
func (s *Session) Send(msg *Message) error {
	if s.state != stateCompleted {
		return fmt.Errorf("cannot send before handshake")
	}
	if err := s.write(msg.Serialize()); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// ReadMessage reads the next non keep-alive message and applies it to the
// session state (choke flag, bitfield).
func (s *Session) ReadMessage() (*Message, error) {
	return s.readMessage(context.Background())
}

// readMessage checks ctx after arming the read deadline, so a cancellation
// racing with the deadline reset is never lost.
func (s *Session) readMessage(ctx context.Context) (*Message, error) {
	if s.state != stateCompleted {
		return nil, fmt.Errorf("cannot read before handshake")
	}
	for {
		if err := s.setReadDeadline(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := ReadMessage(s.conn, s.cfg.MaxMessageSize)
		if err != nil {
			return nil, s.classify(err)
		}
		if msg == nil {
			continue
		}
		if err := s.apply(msg); err != nil {
			return nil, err
		}
		return msg, nil
	}
}

func (s *Session) apply(msg *Message) error {
	switch msg.ID {
	case MsgChoke:
		s.choked = true
	case MsgUnchoke:
		s.choked = false
	case MsgBitfield:
		s.bitfield = ParseBitfield(msg.Payload)
	case MsgHave:
		index, err := ParseHave(msg)
		if err != nil {
			return err
		}
		s.bitfield.SetPiece(index)
	}
	return nil
}

// ReadBitfield expects the peer's first message to be its bitfield.
func (s *Session) ReadBitfield() error {
	msg, err := s.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read bitfield: %w", err)
	}
	if msg.ID != MsgBitfield {
		return fmt.Errorf("%w: expected bitfield, got %s", ErrUnexpectedMessage, msg.ID)
	}
	s.log.Debug("Received bitfield", zap.Int("pieces", s.bitfield.Count()))
	return nil
}

// Interested declares interest and blocks until the peer unchokes us.
func (s *Session) Interested() error {
	if err := s.Send(&Message{ID: MsgInterested}); err != nil {
		return fmt.Errorf("failed to send interested message: %w", err)
	}
	s.interested = true

	for s.choked {
		msg, err := s.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read unchoke message: %w", err)
		}
		switch msg.ID {
		case MsgUnchoke, MsgChoke, MsgHave, MsgBitfield:
		default:
			return fmt.Errorf("%w: expected unchoke, got %s", ErrUnexpectedMessage, msg.ID)
		}
	}
	return nil
}

// DownloadPiece requests every block of piece index, then collects the
// replies in any order and returns the assembled data with its digest.
// Comparing the digest with the piece table is left to the caller.
func (s *Session) DownloadPiece(ctx context.Context, index, length int) (*PieceResult, error) {
	if length <= 0 {
		return nil, fmt.Errorf("invalid length %d for piece %d", length, index)
	}
	if s.choked {
		return nil, ErrChoked
	}
	if !s.bitfield.HasPiece(index) {
		return nil, fmt.Errorf("%w: %d", ErrPieceUnavailable, index)
	}

	// Unblock a pending read or write when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetDeadline(time.Now())
	})
	defer stop()

	blocks := SplitBlocks(length, s.cfg.BlockSize)
	for _, b := range blocks {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if err := s.Send(FormatRequest(index, b.Begin, b.Length)); err != nil {
			return nil, s.cancelled(ctx, err)
		}
	}
	s.log.Debug("Requested piece",
		zap.Int("piece", index),
		zap.Int("blocks", len(blocks)),
		zap.String("size", humanize.IBytes(uint64(length))))

	buf := newAssembly(index, length, blocks)
	for !buf.complete() {
		msg, err := s.readMessage(ctx)
		if err != nil {
			return nil, s.cancelled(ctx, fmt.Errorf("failed to read piece message: %w", err))
		}

		switch msg.ID {
		case MsgPiece:
			pieceIndex, begin, block, err := ParsePiece(msg)
			if err != nil {
				return nil, err
			}
			fresh, err := buf.put(pieceIndex, begin, block)
			if err != nil {
				return nil, err
			}
			if !fresh {
				s.log.Debug("Dropped duplicate block", zap.Int("piece", index), zap.Int("begin", begin))
			}
		case MsgChoke:
			// Outstanding requests are discarded by a choking peer.
			return nil, fmt.Errorf("%w: %d blocks of piece %d outstanding", ErrChoked, buf.missing(), index)
		default:
			s.log.Debug("Ignored message while downloading", zap.Stringer("id", msg.ID))
		}
	}

	data := buf.bytes()
	return &PieceResult{Index: index, Data: data, Digest: sha1.Sum(data)}, nil
}

// Verify compares the digest with the expected piece hash.
func (r *PieceResult) Verify(expected [20]byte) error {
	if r.Digest != expected {
		return fmt.Errorf("%w: piece %d got %x, want %x", ErrPieceHashMismatch, r.Index, r.Digest, expected)
	}
	return nil
}

func (s *Session) write(buf []byte) error {
	if s.cfg.IOTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.IOTimeout)); err != nil {
			return err
		}
	}
	if _, err := s.conn.Write(buf); err != nil {
		return s.classify(err)
	}
	return nil
}

func (s *Session) setReadDeadline() error {
	if s.cfg.IOTimeout <= 0 {
		return nil
	}
	return s.conn.SetReadDeadline(time.Now().Add(s.cfg.IOTimeout))
}

// classify turns deadline expiry into ErrPeerTimeout.
func (s *Session) classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrPeerTimeout, err)
	}
	return err
}

func (s *Session) cancelled(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
