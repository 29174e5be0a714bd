// SPDX-License-Identifier: MIT

// Package wled talks to WLED controllers over their JSON HTTP API.
package wled

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"circlights/internal/color"
	apperrors "circlights/internal/errors"
	applog "circlights/internal/log"
)

const (
	DefaultTimeout  = 2 * time.Second
	DefaultCacheTTL = 10 * time.Second

	infoKey = "info"
)

// Info is the subset of /json/info the pipeline uses.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"ver"`
	LEDs    struct {
		Count int  `json:"count"`
		FPS   int  `json:"fps,omitempty"`
		RGBW  bool `json:"rgbw,omitempty"`
	} `json:"leds"`
	UDPPort int    `json:"udpport"`
	MAC     string `json:"mac"`
	Arch    string `json:"arch"`
}

// LEDCount is the strip length the device reports.
func (i Info) LEDCount() int { return i.LEDs.Count }

// Client is safe for concurrent use.
type Client struct {
	base       string
	httpClient *http.Client
	cache      *cache.Cache
}

type Option func(*Client)

// WithHTTPClient replaces the default client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithCacheTTL sets how long device info is reused before refetching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(cl *Client) { cl.cache = cache.New(ttl, 0) }
}

// NewClient creates a client for a device address given as host,
// host:port or a full http URL.
func NewClient(address string, opts ...Option) *Client {
	c := &Client{
		base:       baseURL(address),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		// Expired entries are replaced on the next Info call, so no janitor.
		cache: cache.New(DefaultCacheTTL, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Info returns the device identity, served from cache while fresh.
func (c *Client) Info(ctx context.Context) (Info, error) {
	if v, ok := c.cache.Get(infoKey); ok {
		if info, ok := v.(Info); ok {
			return info, nil
		}
	}
	return c.Probe(ctx)
}

// Probe always queries the device and refreshes the cached info. It is
// read-only on the device side.
func (c *Client) Probe(ctx context.Context) (Info, error) {
	var info Info
	if err := c.do(ctx, http.MethodGet, "/json/info", nil, &info); err != nil {
		return Info{}, err
	}
	c.cache.SetDefault(infoKey, info)
	applog.Debugf("WLED: %s is %q v%s with %d LEDs", c.base, info.Name, info.Version, info.LEDCount())
	return info, nil
}

// SetOn switches the device output on or off.
func (c *Client) SetOn(ctx context.Context, on bool) error {
	return c.do(ctx, http.MethodPost, "/json/state", map[string]any{"on": on}, nil)
}

type segment struct {
	I [][3]uint8 `json:"i"`
}

type frameState struct {
	On  bool    `json:"on"`
	Seg segment `json:"seg"`
}

// SendFrame pushes one color per LED through /json/state. It is the slow
// path used when realtime UDP is not available.
func (c *Client) SendFrame(ctx context.Context, colors []color.RGB) error {
	st := frameState{On: true, Seg: segment{I: make([][3]uint8, len(colors))}}
	for i, col := range colors {
		st.Seg.I[i] = [3]uint8{col.R, col.G, col.B}
	}
	return c.do(ctx, http.MethodPost, "/json/state", st, nil)
}

// Close drops cached state. The client holds no connections of its own.
func (c *Client) Close() error {
	c.cache.Flush()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := "wled " + method + " " + path

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return apperrors.Wrap(apperrors.KindConfigurationInvalid, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.KindDeviceUnreachable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return apperrors.Newf(apperrors.KindDeviceUnreachable, op, "unexpected status %s", resp.Status)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.KindTransientIO, op, fmt.Errorf("decode: %w", err))
	}
	return nil
}

func baseURL(address string) string {
	address = strings.TrimRight(strings.TrimSpace(address), "/")
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return address
	}
	if host, port, err := net.SplitHostPort(address); err == nil {
		return "http://" + net.JoinHostPort(host, port)
	}
	return "http://" + address
}
