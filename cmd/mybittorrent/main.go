package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/mcheviron/peerwire/cmd/mybittorrent/bencode"
	"github.com/mcheviron/peerwire/cmd/mybittorrent/config"
	"github.com/mcheviron/peerwire/cmd/mybittorrent/magnet"
	"github.com/mcheviron/peerwire/cmd/mybittorrent/peering"
	"github.com/mcheviron/peerwire/cmd/mybittorrent/torrent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func init() {
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}

type handler func(ctx context.Context, cfg config.Config, args []string) error

var commands = map[string]handler{
	"decode":           handleDecode,
	"info":             handleInfo,
	"peers":            handlePeers,
	"handshake":        handleHandshake,
	"download_piece":   handleDownloadPiece,
	"download":         handleDownload,
	"magnet_parse":     handleMagnetParse,
	"magnet_handshake": handleMagnetHandshake,
}

func main() {
	os.Exit(run())
}

// run returns the exit code so deferred cleanup, log flushing included, runs
// before the process exits.
func run() int {
	logger := zap.L()
	defer logger.Sync()

	if len(os.Args) < 2 {
		logger.Error("Usage: mybittorrent <command> [arguments]")
		return 1
	}
	command := os.Args[1]

	handle, ok := commands[command]
	if !ok {
		logger.Error("Unknown command", zap.String("command", command))
		return 1
	}

	cfg, err := config.FromEnv(os.Environ())
	if err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := handle(ctx, cfg, os.Args); err != nil {
		logger.Error("Command failed", zap.String("command", command), zap.Error(err))
		return 1
	}
	return 0
}

// Command handlers

func handleDecode(_ context.Context, _ config.Config, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: decode <bencoded-value>")
	}
	decoded, _, err := bencode.Decode([]byte(args[2]))
	if err != nil {
		return err
	}
	jsonOutput, err := json.Marshal(decoded)
	if err != nil {
		return err
	}
	fmt.Println(string(jsonOutput))
	return nil
}

func handleInfo(_ context.Context, _ config.Config, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: info <torrent-file>")
	}
	t, err := torrent.Load(args[2])
	if err != nil {
		return err
	}

	fmt.Printf("Tracker URL: %s\n", t.Announce)
	fmt.Printf("Length: %d (%s)\n", t.Length, humanize.IBytes(uint64(t.Length)))
	fmt.Printf("Info Hash: %s\n", t.InfoHashHex())
	fmt.Printf("Piece Length: %d\n", t.PieceLength)
	fmt.Println("Piece Hashes:")
	for _, h := range t.PieceHashes {
		fmt.Printf("%x\n", h)
	}
	return nil
}

func handlePeers(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: peers <torrent-file>")
	}
	t, err := torrent.Load(args[2])
	if err != nil {
		return err
	}

	client, err := peering.NewClient(t, cfg, zap.L())
	if err != nil {
		return err
	}
	peers, err := client.Peers(ctx)
	if err != nil {
		return err
	}
	for _, peer := range peers {
		fmt.Println(peer)
	}
	return nil
}

func handleHandshake(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: handshake <torrent-file> <peer-address>")
	}
	t, err := torrent.Load(args[2])
	if err != nil {
		return err
	}

	session, err := peering.Dial(ctx, args[3], t.InfoHash, cfg, zap.L())
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Printf("Peer ID: %x\n", session.RemotePeerID())
	return nil
}

func handleDownloadPiece(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) != 6 || args[2] != "-o" {
		return fmt.Errorf("usage: download_piece -o <output-path> <torrent-file> <piece-index>")
	}
	outputPath := args[3]

	pieceIndex, err := strconv.Atoi(args[5])
	if err != nil {
		return fmt.Errorf("invalid piece index: %w", err)
	}
	t, err := torrent.Load(args[4])
	if err != nil {
		return err
	}

	client, err := peering.NewClient(t, cfg, zap.L())
	if err != nil {
		return err
	}
	pieceData, err := client.DownloadPiece(ctx, pieceIndex)
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, pieceData, 0o644)
}

func handleDownload(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) != 5 || args[2] != "-o" {
		return fmt.Errorf("usage: download -o <output-path> <torrent-file>")
	}
	t, err := torrent.Load(args[4])
	if err != nil {
		return err
	}

	client, err := peering.NewClient(t, cfg, zap.L())
	if err != nil {
		return err
	}

	out, err := os.Create(args[3])
	if err != nil {
		return err
	}
	if err := client.Download(ctx, out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func handleMagnetParse(_ context.Context, _ config.Config, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: magnet_parse <magnet-link>")
	}
	link, err := magnet.Parse(args[2])
	if err != nil {
		return err
	}
	if len(link.Trackers) == 0 {
		return fmt.Errorf("no trackers found in magnet link")
	}

	fmt.Printf("Tracker URL: %s\n", link.Trackers[0])
	fmt.Printf("Info Hash: %s\n", link.InfoHashHex())
	if link.Name != "" {
		fmt.Printf("Name: %s\n", link.Name)
	}
	return nil
}

// handleMagnetHandshake announces with the magnet's info hash and shakes
// hands with the first peer. The torrent size is unknown, so left is 1.
func handleMagnetHandshake(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: magnet_handshake <magnet-link>")
	}
	link, err := magnet.Parse(args[2])
	if err != nil {
		return err
	}
	if len(link.Trackers) == 0 {
		return fmt.Errorf("no trackers found in magnet link")
	}

	resp, err := peering.Announce(ctx, peering.NewHTTPClient(cfg), &peering.TrackerRequest{
		Announce: link.Trackers[0],
		InfoHash: link.InfoHash,
		PeerID:   cfg.PeerIDBytes(),
		Port:     cfg.Port,
		Left:     1,
	})
	if err != nil {
		return err
	}

	session, err := peering.Dial(ctx, resp.Peers[0].String(), link.InfoHash, cfg, zap.L())
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Printf("Peer ID: %x\n", session.RemotePeerID())
	return nil
}
