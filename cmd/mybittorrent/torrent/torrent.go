// Package torrent is a typed view over a decoded metainfo (.torrent) file.
package torrent

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/mcheviron/peerwire/cmd/mybittorrent/bencode"
)

// HashLength is the size of a SHA-1 digest in the piece table and the info hash.
const HashLength = sha1.Size

var (
	ErrMissingField      = errors.New("missing required field")
	ErrInvalidPieceTable = errors.New("invalid piece table")
)

// File is one entry of a multi-file torrent.
type File struct {
	Length int      `mapstructure:"length"`
	Path   []string `mapstructure:"path"`
}

type rawInfo struct {
	Name        string `mapstructure:"name"`
	PieceLength int    `mapstructure:"piece length"`
	Pieces      string `mapstructure:"pieces"`
	Length      int    `mapstructure:"length"`
	Files       []File `mapstructure:"files"`
}

type rawMetainfo struct {
	Announce     string     `mapstructure:"announce"`
	AnnounceList [][]string `mapstructure:"announce-list"`
	Comment      string     `mapstructure:"comment"`
	CreatedBy    string     `mapstructure:"created by"`
	CreationDate int64      `mapstructure:"creation date"`
	Info         rawInfo    `mapstructure:"info"`
}

// Torrent is immutable once returned by Parse.
type Torrent struct {
	Announce     string
	AnnounceList [][]string
	Comment      string
	CreatedBy    string
	CreationDate time.Time

	Name        string
	PieceLength int
	PieceHashes [][HashLength]byte
	Length      int
	Files       []File

	InfoHash [HashLength]byte
}

// Load reads and parses the torrent file at path.
func Load(path string) (*Torrent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read torrent file: %w", err)
	}
	return Parse(data)
}

// Parse decodes bencoded metainfo and validates the info dictionary.
func Parse(data []byte) (*Torrent, error) {
	root, err := bencode.DecodeAs[map[string]any](data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode torrent: %w", err)
	}

	info, ok := root["info"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: info", ErrMissingField)
	}
	for _, key := range []string{"piece length", "pieces"} {
		if _, ok := info[key]; !ok {
			return nil, fmt.Errorf("%w: info.%s", ErrMissingField, key)
		}
	}
	_, hasLength := info["length"]
	_, hasFiles := info["files"]
	if !hasLength && !hasFiles {
		return nil, fmt.Errorf("%w: info.length or info.files", ErrMissingField)
	}

	var raw rawMetainfo
	if err := mapstructure.Decode(root, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", bencode.ErrMalformed, err)
	}

	infoBytes, err := bencode.Encode(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode info: %w", err)
	}

	t := &Torrent{
		Announce:     raw.Announce,
		AnnounceList: raw.AnnounceList,
		Comment:      raw.Comment,
		CreatedBy:    raw.CreatedBy,
		Name:         raw.Info.Name,
		PieceLength:  raw.Info.PieceLength,
		Length:       raw.Info.Length,
		Files:        raw.Info.Files,
		InfoHash:     sha1.Sum(infoBytes),
	}
	if raw.CreationDate > 0 {
		t.CreationDate = time.Unix(raw.CreationDate, 0).UTC()
	}
	if !hasLength {
		for _, f := range t.Files {
			if f.Length < 0 {
				return nil, fmt.Errorf("%w: negative file length %d", ErrInvalidPieceTable, f.Length)
			}
			t.Length += f.Length
		}
	}

	if t.PieceHashes, err = splitPieceHashes(raw.Info.Pieces); err != nil {
		return nil, err
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func splitPieceHashes(pieces string) ([][HashLength]byte, error) {
	if len(pieces)%HashLength != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrInvalidPieceTable, len(pieces), HashLength)
	}
	hashes := make([][HashLength]byte, len(pieces)/HashLength)
	for i := range hashes {
		copy(hashes[i][:], pieces[i*HashLength:(i+1)*HashLength])
	}
	return hashes, nil
}

func (t *Torrent) validate() error {
	if t.PieceLength <= 0 {
		return fmt.Errorf("%w: piece length %d", ErrInvalidPieceTable, t.PieceLength)
	}
	if t.Length < 0 {
		return fmt.Errorf("%w: negative length %d", ErrInvalidPieceTable, t.Length)
	}
	want := (t.Length + t.PieceLength - 1) / t.PieceLength
	if len(t.PieceHashes) != want {
		return fmt.Errorf("%w: %d hashes for %d pieces", ErrInvalidPieceTable, len(t.PieceHashes), want)
	}
	return nil
}

// NumPieces returns ceil(Length / PieceLength).
func (t *Torrent) NumPieces() int {
	return len(t.PieceHashes)
}

// PieceSize returns the byte length of piece index. Every piece has
// PieceLength bytes except the last, which holds the remainder. Out of range
// indices yield 0.
func (t *Torrent) PieceSize(index int) int {
	if index < 0 || index >= t.NumPieces() {
		return 0
	}
	if index == t.NumPieces()-1 {
		if rem := t.Length % t.PieceLength; rem != 0 {
			return rem
		}
	}
	return t.PieceLength
}

// PieceHash returns the expected SHA-1 digest of piece index.
func (t *Torrent) PieceHash(index int) ([HashLength]byte, bool) {
	if index < 0 || index >= t.NumPieces() {
		return [HashLength]byte{}, false
	}
	return t.PieceHashes[index], true
}

func (t *Torrent) InfoHashHex() string {
	return hex.EncodeToString(t.InfoHash[:])
}
