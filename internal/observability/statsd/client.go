// Package statsd emits DogStatsD-style metrics over UDP.
package statsd

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sink describes the minimal interface required to emit StatsD-style metrics.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// Config describes how to connect to a StatsD-compatible sink.
type Config struct {
	Enabled    bool
	Address    string
	Prefix     string
	Logger     *slog.Logger
	GlobalTags map[string]string
}

// Client writes metric lines to a UDP socket. Safe for concurrent use; a nil
// *Client is a valid no-op sink.
type Client struct {
	prefix     string
	globalTags map[string]string
	logger     *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

var _ Sink = (*Client)(nil)

// NewClient dials the configured endpoint. A disabled config or blank address yields an idle client.
func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		prefix:     strings.Trim(strings.TrimSpace(cfg.Prefix), "."),
		globalTags: cleanTags(cfg.GlobalTags),
		logger:     logger.With("component", "statsd"),
	}

	addr := strings.TrimSpace(cfg.Address)
	if !cfg.Enabled || addr == "" {
		return c, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := (&net.Dialer{}).DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("statsd dial %s: %w", addr, err)
	}
	c.conn = conn
	return c, nil
}

// Enabled reports whether the client holds an open connection.
func (c *Client) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Count increments a counter metric.
func (c *Client) Count(name string, value int64, tags map[string]string) {
	c.send(name, strconv.FormatInt(value, 10), "c", tags)
}

// Gauge records the current value for a gauge metric.
func (c *Client) Gauge(name string, value float64, tags map[string]string) {
	c.send(name, formatFloat(value), "g", tags)
}

// Timing records a timing metric in milliseconds.
func (c *Client) Timing(name string, value time.Duration, tags map[string]string) {
	c.send(name, formatFloat(float64(value)/float64(time.Millisecond)), "ms", tags)
}

// Close releases the UDP connection. Safe to call more than once.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) send(name, value, kind string, tags map[string]string) {
	if c == nil {
		return
	}
	line := c.Line(name, value, kind, tags)
	if line == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if _, err := c.conn.Write([]byte(line)); err != nil {
		c.logger.Debug("statsd write failed", "error", err)
	}
}

// Line renders one metric in the DogStatsD wire format, e.g. "lanterna.auth.login:1|c|#result:success".
func (c *Client) Line(name, value, kind string, tags map[string]string) string {
	metric := normalizeMetricName(name)
	if metric == "" {
		return ""
	}
	if c.prefix != "" {
		metric = c.prefix + "." + metric
	}
	return metric + ":" + value + "|" + kind + formatTags(c.globalTags, tags)
}

func normalizeMetricName(name string) string {
	n := strings.NewReplacer(" ", "_", "/", "_").Replace(strings.TrimSpace(name))
	for strings.Contains(n, "..") {
		n = strings.ReplaceAll(n, "..", ".")
	}
	return strings.Trim(n, ".")
}

func formatTags(global, local map[string]string) string {
	merged := cleanTags(global)
	maps.Copy(merged, cleanTags(local))
	if len(merged) == 0 {
		return ""
	}
	keys := slices.Sorted(maps.Keys(merged))
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ":" + merged[k]
	}
	return "|#" + strings.Join(parts, ",")
}

func cleanTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if key := strings.TrimSpace(k); key != "" {
			out[key] = strings.TrimSpace(v)
		}
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
