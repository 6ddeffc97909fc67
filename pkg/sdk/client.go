// Package sdk provides the client-side library for talking to a Celerix
// Presence daemon over its TCP line protocol.
package sdk

import (
	"bufio"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

// Client is a remote client for the presence daemon.
// It implements the Presence interface.
type Client struct {
	addr   string
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex // Protects concurrent access to the connection
}

// Connect establishes a TLS-encrypted connection to a remote daemon.
// If CELERIX_DISABLE_TLS is set to "true", it falls back to plain TCP.
func Connect(addr string) (*Client, error) {
	c := &Client{addr: addr}
	if err := c.reconnect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) reconnect() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	var conn net.Conn
	var err error

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 60 * time.Second,
	}

	if os.Getenv("CELERIX_DISABLE_TLS") == "true" {
		conn, err = dialer.Dial("tcp", c.addr)
	} else {
		config := &tls.Config{
			InsecureSkipVerify: true, // The daemon uses a self-signed certificate
		}
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, config)
	}

	if err != nil {
		return err
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// Internal helper for TCP communication
func (c *Client) sendAndReceive(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	var resp string

	// Try up to 3 times with backoff
	for i := 0; i < 3; i++ {
		if c.conn == nil {
			if reconnectErr := c.reconnect(); reconnectErr != nil {
				err = fmt.Errorf("reconnect failed: %w", reconnectErr)
				time.Sleep(time.Duration(i*100) * time.Millisecond)
				continue
			}
		}

		// A scan waits on the recognition service, so allow for it.
		c.conn.SetDeadline(time.Now().Add(45 * time.Second))

		_, err = fmt.Fprint(c.conn, cmd+"\n")
		if err == nil {
			resp, err = c.reader.ReadString('\n')
			if err == nil {
				resp = strings.TrimSpace(resp)
				if strings.HasPrefix(resp, "ERR") {
					return "", remoteError(strings.TrimPrefix(resp, "ERR "))
				}
				return resp, nil
			}
		}

		fmt.Fprintf(os.Stderr, "[Celerix SDK] Attempt %d failed: %v. Reconnecting...\n", i+1, err)

		if closeErr := c.reconnect(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "[Celerix SDK] Reconnect attempt failed: %v\n", closeErr)
		}

		time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
	}

	return "", fmt.Errorf("failed after 3 attempts. last error: %v", err)
}

// call sends cmd and decodes the JSON payload of the OK reply into T.
func call[T any](c *Client, cmd string) (T, error) {
	var target T
	resp, err := c.sendAndReceive(cmd)
	if err != nil {
		return target, err
	}
	err = json.Unmarshal([]byte(strings.TrimPrefix(resp, "OK ")), &target)
	return target, err
}

func (c *Client) Ping() error {
	resp, err := c.sendAndReceive("PING")
	if err != nil {
		return err
	}
	if resp != "PONG" {
		return fmt.Errorf("unexpected reply %q", resp)
	}
	return nil
}

func (c *Client) State() (KioskState, error) {
	return call[KioskState](c, "STATE")
}

func (c *Client) SelectPeriod(period int) (KioskState, error) {
	return call[KioskState](c, fmt.Sprintf("PERIOD %d", period))
}

// Scan triggers one capture cycle. A period of 0 keeps the selected period.
// If a reply is lost the retry usually reports ErrBusy; check State then.
func (c *Client) Scan(period int) (ScanResult, error) {
	if period == 0 {
		return call[ScanResult](c, "SCAN")
	}
	return call[ScanResult](c, fmt.Sprintf("SCAN %d", period))
}

func (c *Client) Events(personID string) ([]schema.AttendanceEvent, error) {
	if personID == "" {
		return call[[]schema.AttendanceEvent](c, "EVENTS")
	}
	if strings.ContainsAny(personID, " \t\r\n") {
		return nil, fmt.Errorf("invalid person id %q", personID)
	}
	return call[[]schema.AttendanceEvent](c, "EVENTS "+personID)
}

func (c *Client) Evaluate() ([]schema.EvaluationResult, error) {
	return call[[]schema.EvaluationResult](c, "EVAL")
}

func (c *Client) Summary() (schema.Summary, error) {
	return call[schema.Summary](c, "SUMMARY")
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	fmt.Fprintln(c.conn, "QUIT")
	err := c.conn.Close()
	c.conn = nil
	return err
}
