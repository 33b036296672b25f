// Package probe implements fieldsync.Prober for the Monitor's periodic
// reachability check.
package probe

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/unkn0wn-root/fieldsync"
)

var (
	_ fieldsync.Prober = (*HTTP)(nil)
	_ fieldsync.Prober = (*Dial)(nil)
)

// HTTP reports the backend reachable when URL answers with any status below
// 500. A 4xx still proves the network path works.
type HTTP struct {
	URL    string
	Method string       // "" => HEAD
	Client *http.Client // nil => client with a 5s timeout
}

func NewHTTP(url string) *HTTP {
	return &HTTP{URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (p *HTTP) Probe(ctx context.Context) bool {
	method := p.Method
	if method == "" {
		method = http.MethodHead
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, method, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// Dial reports the backend reachable when a TCP connection to Addr succeeds.
type Dial struct {
	Addr    string // host:port
	Network string // "" => "tcp"
	Timeout time.Duration
}

func (p *Dial) Probe(ctx context.Context) bool {
	network := p.Network
	if network == "" {
		network = "tcp"
	}
	d := net.Dialer{Timeout: p.Timeout}
	conn, err := d.DialContext(ctx, network, p.Addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
