package peering

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bencode "github.com/jackpal/bencode-go"
)

// maxTrackerResponse caps how much of a tracker body is read.
const maxTrackerResponse = 4 << 20

var (
	ErrTrackerUnreachable = errors.New("tracker unreachable")
	ErrTrackerFailure     = errors.New("tracker returned failure")
	ErrNoPeers            = errors.New("no peers available")
)

type announceResponse struct {
	FailureReason string `bencode:"failure reason"`
	Interval      int    `bencode:"interval"`
	Peers         string `bencode:"peers"`
}

// URL builds the HTTP GET announce URL. Query parameters already present in
// the announce URL are kept.
func (r *TrackerRequest) URL() (string, error) {
	u, err := url.Parse(r.Announce)
	if err != nil {
		return "", fmt.Errorf("invalid announce url %q: %w", r.Announce, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported tracker scheme %q", u.Scheme)
	}

	params := u.Query()
	params.Set("info_hash", string(r.InfoHash[:]))
	params.Set("peer_id", string(r.PeerID[:]))
	params.Set("port", strconv.Itoa(r.Port))
	params.Set("uploaded", strconv.Itoa(r.Uploaded))
	params.Set("downloaded", strconv.Itoa(r.Downloaded))
	params.Set("left", strconv.Itoa(r.Left))
	params.Set("compact", "1")
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// Announce sends req to the tracker and decodes its compact peer list.
func Announce(ctx context.Context, client *http.Client, req *TrackerRequest) (*TrackerResponse, error) {
	trackerURL, err := req.URL()
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, trackerURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrackerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %s", ErrTrackerUnreachable, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTrackerResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrTrackerUnreachable, err)
	}

	trackerResp, err := ParseTrackerResponse(body)
	if err != nil {
		return nil, err
	}
	if len(trackerResp.Peers) == 0 {
		return nil, ErrNoPeers
	}
	return trackerResp, nil
}

// ParseTrackerResponse decodes a bencoded announce response body.
func ParseTrackerResponse(body []byte) (*TrackerResponse, error) {
	var raw announceResponse
	if err := bencode.Unmarshal(bytes.NewReader(body), &raw); err != nil {
		return nil, fmt.Errorf("failed to decode tracker response: %w", err)
	}
	if raw.FailureReason != "" {
		return nil, fmt.Errorf("%w: %s", ErrTrackerFailure, raw.FailureReason)
	}

	peers, err := ParsePeers([]byte(raw.Peers))
	if err != nil {
		return nil, err
	}
	return &TrackerResponse{
		Interval: time.Duration(raw.Interval) * time.Second,
		Peers:    peers,
	}, nil
}
