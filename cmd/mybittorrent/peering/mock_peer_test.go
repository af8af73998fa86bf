package peering

import (
	"crypto/sha1"
	"io"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/mcheviron/peerwire/cmd/mybittorrent/bencode"
	"github.com/mcheviron/peerwire/cmd/mybittorrent/config"
	"github.com/mcheviron/peerwire/cmd/mybittorrent/torrent"
)

// fakePeer seeds pieces over the peer wire protocol. It answers a piece's
// requests only once all of them have arrived.
type fakePeer struct {
	pieces    [][]byte
	peerID    [20]byte
	missing   map[int]bool
	reverse   bool
	duplicate bool
	corrupt   bool
	choke     bool // choke instead of serving blocks
	stall     bool // read requests, never answer
	stray     bool // lead each reply batch with a block of the next piece
	keepAlive bool // interleave keep-alive frames
	have      []int
	silent    bool // handshake, then never speak again
	truncate  int  // if > 0, send only this many handshake bytes and hang up
}

func (p *fakePeer) serve(conn net.Conn) {
	hs, err := ReadHandshake(conn)
	if err != nil {
		return
	}
	reply := (&Handshake{InfoHash: hs.InfoHash, PeerID: p.peerID}).Serialize()
	if p.truncate > 0 {
		conn.Write(reply[:p.truncate])
		return
	}
	if _, err := conn.Write(reply); err != nil {
		return
	}
	if p.silent {
		io.Copy(io.Discard, conn)
		return
	}

	have := NewBitfield()
	for i := range p.pieces {
		if !p.missing[i] {
			have.SetPiece(i)
		}
	}
	if p.keepAlive && !p.send(conn, nil) {
		return
	}
	if !p.send(conn, &Message{ID: MsgBitfield, Payload: have.Bytes(len(p.pieces))}) {
		return
	}
	msg, err := ReadMessage(conn, 1<<20)
	if err != nil || msg == nil || msg.ID != MsgInterested {
		return
	}
	for _, index := range p.have {
		if !p.send(conn, FormatHave(index)) {
			return
		}
	}
	if p.keepAlive && !p.send(conn, nil) {
		return
	}
	if !p.send(conn, &Message{ID: MsgUnchoke}) {
		return
	}

	pending := make(map[int][]*Message)
	for {
		msg, err := ReadMessage(conn, 1<<20)
		if err != nil {
			return
		}
		index, begin, length, err := ParseRequest(msg)
		if err != nil {
			continue
		}
		if index >= len(p.pieces) || begin+length > len(p.pieces[index]) {
			return
		}
		if p.choke {
			p.send(conn, &Message{ID: MsgChoke})
			continue
		}
		if p.stall {
			continue
		}

		block := slices.Clone(p.pieces[index][begin : begin+length])
		if p.corrupt {
			block[0] ^= 0xff
		}
		pending[index] = append(pending[index], FormatPiece(index, begin, block))
		if len(pending[index]) < len(SplitBlocks(len(p.pieces[index]), config.DefaultBlockSize)) {
			continue
		}

		replies := pending[index]
		delete(pending, index)
		if p.reverse {
			slices.Reverse(replies)
		}
		if p.keepAlive && !p.send(conn, nil) {
			return
		}
		if p.stray {
			other := (index + 1) % len(p.pieces)
			size := min(config.DefaultBlockSize, len(p.pieces[other]))
			if !p.send(conn, FormatPiece(other, 0, p.pieces[other][:size])) {
				return
			}
		}
		for _, r := range replies {
			if p.duplicate && !p.send(conn, r) {
				return
			}
			if !p.send(conn, r) {
				return
			}
		}
	}
}

func (p *fakePeer) send(conn net.Conn, msg *Message) bool {
	_, err := conn.Write(msg.Serialize())
	return err == nil
}

// startPeer serves p on a loopback listener until the test ends.
func startPeer(t *testing.T, p *fakePeer) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		conns []net.Conn
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer conn.Close()
				p.serve(conn)
			}()
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		for _, c := range conns {
			c.Close()
		}
		mu.Unlock()
		wg.Wait()
	})
	return ln.Addr().String()
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.DialTimeout = time.Second
	cfg.IOTimeout = 2 * time.Second
	cfg.TrackerTimeout = 2 * time.Second
	return cfg
}

// makeTorrent cuts content into pieces and builds a parsed descriptor for it.
func makeTorrent(t *testing.T, content []byte, pieceLength int, announce string) (*torrent.Torrent, [][]byte) {
	t.Helper()
	var pieces [][]byte
	var hashes []byte
	for begin := 0; begin < len(content); begin += pieceLength {
		piece := content[begin:min(begin+pieceLength, len(content))]
		sum := sha1.Sum(piece)
		pieces = append(pieces, piece)
		hashes = append(hashes, sum[:]...)
	}

	meta := map[string]any{
		"info": map[string]any{
			"name":         "content.bin",
			"length":       len(content),
			"piece length": pieceLength,
			"pieces":       hashes,
		},
	}
	if announce != "" {
		meta["announce"] = announce
	}
	data, err := bencode.Encode(meta)
	if err != nil {
		t.Fatalf("encode torrent: %v", err)
	}
	tor, err := torrent.Parse(data)
	if err != nil {
		t.Fatalf("parse torrent: %v", err)
	}
	return tor, pieces
}

func makeContent(n int) []byte {
	content := make([]byte, n)
	for i := range content {
		content[i] = byte(i*7 + i/251)
	}
	return content
}
