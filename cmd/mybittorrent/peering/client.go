package peering

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/mcheviron/peerwire/cmd/mybittorrent/config"
	"github.com/mcheviron/peerwire/cmd/mybittorrent/torrent"
	"go.uber.org/zap"
)

// Client downloads the pieces of one torrent from the peers its tracker
// returns, one peer and one piece at a time.
type Client struct {
	torrent *torrent.Torrent
	cfg     config.Config
	log     *zap.Logger
	http    *http.Client
	peers   []PeerAddr
}

func NewClient(t *torrent.Torrent, cfg config.Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Client{
		torrent: t,
		cfg:     cfg,
		log:     logger.With(zap.String("info_hash", t.InfoHashHex())),
		http:    NewHTTPClient(cfg),
	}, nil
}

// NewHTTPClient returns the client used for tracker announces.
func NewHTTPClient(cfg config.Config) *http.Client {
	return &http.Client{Timeout: cfg.TrackerTimeout}
}

// Peers announces to the tracker once and caches the result.
func (c *Client) Peers(ctx context.Context) ([]PeerAddr, error) {
	if c.peers != nil {
		return c.peers, nil
	}

	resp, err := Announce(ctx, c.http, &TrackerRequest{
		Announce: c.torrent.Announce,
		InfoHash: c.torrent.InfoHash,
		PeerID:   c.cfg.PeerIDBytes(),
		Port:     c.cfg.Port,
		Left:     c.torrent.Length,
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("Announced to tracker",
		zap.Int("peers", len(resp.Peers)),
		zap.Duration("interval", resp.Interval))

	c.peers = resp.Peers
	return c.peers, nil
}

// SetPeers bypasses the tracker.
func (c *Client) SetPeers(peers []PeerAddr) {
	c.peers = peers
}

// DownloadPiece fetches and verifies a single piece.
func (c *Client) DownloadPiece(ctx context.Context, index int) ([]byte, error) {
	if index < 0 || index >= c.torrent.NumPieces() {
		return nil, fmt.Errorf("piece index %d out of range [0, %d)", index, c.torrent.NumPieces())
	}
	peers, err := c.Peers(ctx)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for next := 0; next < len(peers); {
		var s *Session
		s, next, err = c.connect(ctx, peers, next)
		if err != nil {
			return nil, joinLast(err, lastErr)
		}
		data, err := c.fetch(ctx, s, index)
		s.Close()
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		c.log.Warn("Piece download failed, trying next peer", zap.Int("piece", index), zap.Error(err))
	}
	return nil, joinLast(ErrNoPeers, lastErr)
}

// Download fetches every piece in order and writes it at its offset in out.
// A failing peer is dropped and the piece retried with the next one.
func (c *Client) Download(ctx context.Context, out io.WriterAt) error {
	peers, err := c.Peers(ctx)
	if err != nil {
		return err
	}

	var (
		s       *Session
		next    int
		lastErr error
	)
	defer func() {
		if s != nil {
			s.Close()
		}
	}()

	for index := 0; index < c.torrent.NumPieces(); {
		if s == nil {
			if s, next, err = c.connect(ctx, peers, next); err != nil {
				return joinLast(err, lastErr)
			}
		}

		data, err := c.fetch(ctx, s, index)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			c.log.Warn("Dropping peer", zap.Int("piece", index), zap.Error(err))
			lastErr = err
			s.Close()
			s = nil
			continue
		}

		offset := int64(index) * int64(c.torrent.PieceLength)
		if _, err := out.WriteAt(data, offset); err != nil {
			return fmt.Errorf("failed to write piece %d: %w", index, err)
		}
		c.log.Info("Downloaded piece",
			zap.Int("piece", index),
			zap.Int("total", c.torrent.NumPieces()),
			zap.String("size", humanize.IBytes(uint64(len(data)))))
		index++
	}
	return nil
}

// connect dials peers starting at from and returns the first session that
// is unchoked, along with the index of the peer to try after it.
func (c *Client) connect(ctx context.Context, peers []PeerAddr, from int) (*Session, int, error) {
	var lastErr error
	for i := from; i < len(peers); i++ {
		s, err := c.open(ctx, peers[i].String())
		if err == nil {
			return s, i + 1, nil
		}
		if ctx.Err() != nil {
			return nil, len(peers), ctx.Err()
		}
		c.log.Warn("Peer unusable", zap.Stringer("peer", peers[i]), zap.Error(err))
		lastErr = err
	}
	return nil, len(peers), joinLast(ErrNoPeers, lastErr)
}

func (c *Client) open(ctx context.Context, addr string) (*Session, error) {
	s, err := Dial(ctx, addr, c.torrent.InfoHash, c.cfg, c.log)
	if err != nil {
		return nil, err
	}
	if err := s.ReadBitfield(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.Interested(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (c *Client) fetch(ctx context.Context, s *Session, index int) ([]byte, error) {
	result, err := s.DownloadPiece(ctx, index, c.torrent.PieceSize(index))
	if err != nil {
		return nil, err
	}
	expected, _ := c.torrent.PieceHash(index)
	if err := result.Verify(expected); err != nil {
		return nil, err
	}
	return result.Data, nil
}

func joinLast(err, last error) error {
	if last == nil || errors.Is(err, last) {
		return err
	}
	return fmt.Errorf("%w (last error: %w)", err, last)
}
