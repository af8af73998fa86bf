// Package config carries the tunables of a download session. Values are
// passed explicitly to the client and the peer sessions it creates.
package config

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

const (
	DefaultPort      = 6881
	DefaultBlockSize = 16 * 1024
	// MaxBlockSize is the largest request most peers will serve.
	MaxBlockSize = 128 * 1024

	PeerIDLength = 20
	peerIDPrefix = "-PW0001-"

	envPrefix = "BT_"
)

var ErrInvalid = errors.New("invalid config")

type Config struct {
	// Port is announced to the tracker. Nothing listens on it.
	Port      int    `mapstructure:"port"`
	BlockSize int    `mapstructure:"block_size"`
	PeerID    string `mapstructure:"peer_id"`

	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	// IOTimeout bounds every single read or write on a peer connection.
	IOTimeout      time.Duration `mapstructure:"io_timeout"`
	TrackerTimeout time.Duration `mapstructure:"tracker_timeout"`

	MaxMessageSize int `mapstructure:"max_message_size"`
	// RequestRate caps outgoing block requests per second. Zero means no limit.
	RequestRate float64 `mapstructure:"request_rate"`
}

func Default() Config {
	return Config{
		Port:           DefaultPort,
		BlockSize:      DefaultBlockSize,
		PeerID:         NewPeerID(),
		DialTimeout:    3 * time.Second,
		IOTimeout:      30 * time.Second,
		TrackerTimeout: 15 * time.Second,
		MaxMessageSize: 1 << 20,
	}
}

// FromEnv overlays BT_* variables from environ (as returned by os.Environ)
// onto Default. BT_BLOCK_SIZE=32768 sets BlockSize, BT_IO_TIMEOUT=5s sets
// IOTimeout and so on.
func FromEnv(environ []string) (Config, error) {
	cfg := Default()

	values := make(map[string]any)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envPrefix) {
			continue
		}
		values[strings.ToLower(strings.TrimPrefix(key, envPrefix))] = value
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(values); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d", ErrInvalid, c.Port)
	case c.BlockSize <= 0 || c.BlockSize > MaxBlockSize:
		return fmt.Errorf("%w: block size %d", ErrInvalid, c.BlockSize)
	case len(c.PeerID) != PeerIDLength:
		return fmt.Errorf("%w: peer id must be %d bytes, got %d", ErrInvalid, PeerIDLength, len(c.PeerID))
	case c.MaxMessageSize < c.BlockSize+13:
		return fmt.Errorf("%w: max message size %d cannot hold a block of %d", ErrInvalid, c.MaxMessageSize, c.BlockSize)
	case c.DialTimeout < 0 || c.IOTimeout < 0 || c.TrackerTimeout < 0:
		return fmt.Errorf("%w: negative timeout", ErrInvalid)
	case c.RequestRate < 0:
		return fmt.Errorf("%w: request rate %v", ErrInvalid, c.RequestRate)
	}
	return nil
}

func (c Config) PeerIDBytes() [PeerIDLength]byte {
	var id [PeerIDLength]byte
	copy(id[:], c.PeerID)
	return id
}

const alphanumeric = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// NewPeerID returns a client prefix followed by random alphanumerics.
func NewPeerID() string {
	suffix := make([]byte, PeerIDLength-len(peerIDPrefix))
	if _, err := rand.Read(suffix); err != nil {
		panic(err)
	}
	for i, b := range suffix {
		suffix[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return peerIDPrefix + string(suffix)
}
