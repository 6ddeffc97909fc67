package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-presence/internal/scan"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

// Kiosk is the part of the service the line protocol drives.
type Kiosk interface {
	Status() scan.Status
	Scan(ctx context.Context, period int) (scan.Outcome, error)
	SelectPeriod(period int) error
	Events(personID string) []schema.AttendanceEvent
	Evaluate() []schema.EvaluationResult
	Summary() schema.Summary
}

// scanTimeout bounds one SCAN command, oracle round trip included.
const scanTimeout = 30 * time.Second

type Router struct {
	kiosk Kiosk
	cert  *tls.Certificate

	mu       sync.Mutex
	listener net.Listener
}

func NewRouter(k Kiosk) *Router {
	return &Router{kiosk: k}
}

// SetCertificate sets the TLS certificate for the router
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// Listen starts the TCP server and blocks until Stop is called.
func (r *Router) Listen(port string) error {
	var listener net.Listener
	var err error

	if r.cert != nil {
		config := &tls.Config{Certificates: []tls.Certificate{*r.cert}}
		listener, err = tls.Listen("tcp", ":"+port, config)
	} else {
		listener, err = net.Listen("tcp", ":"+port)
	}
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.listener = listener
	r.mu.Unlock()
	defer listener.Close()

	semaphore := make(chan struct{}, 100) // Max 100 concurrent connections

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			continue
		}

		conn.SetDeadline(time.Now().Add(5 * time.Minute))

		go func(c net.Conn) {
			semaphore <- struct{}{}
			defer func() {
				<-semaphore
				c.Close()
			}()
			r.HandleConnection(c)
		}(conn)
	}
}

// Stop closes the listener; Listen returns once it notices.
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	err := r.listener.Close()
	r.listener = nil
	return err
}

// HandleConnection serves one client until it sends QUIT or goes quiet.
func (r *Router) HandleConnection(conn net.Conn) {
	reader := bufio.NewReader(conn)

	for {
		// Set a deadline for the next command
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		line, err := reader.ReadString('\n')
		if err != nil {
			return // Connection closed or timeout
		}

		parts := strings.Fields(line)
		if len(parts) < 1 {
			continue
		}

		switch strings.ToUpper(parts[0]) {
		case "PING":
			fmt.Fprintln(conn, "PONG")

		case "STATE":
			reply(conn, r.kiosk.Status(), nil)

		case "PERIOD":
			if len(parts) < 2 {
				fmt.Fprintln(conn, "ERR usage: PERIOD <1-6>")
				continue
			}
			period, err := strconv.Atoi(parts[1])
			if err != nil {
				fmt.Fprintln(conn, "ERR period must be a number")
				continue
			}
			if err := r.kiosk.SelectPeriod(period); err != nil {
				fmt.Fprintln(conn, "ERR", err)
				continue
			}
			reply(conn, r.kiosk.Status(), nil)

		case "SCAN":
			period := 0
			if len(parts) > 1 {
				if period, err = strconv.Atoi(parts[1]); err != nil {
					fmt.Fprintln(conn, "ERR period must be a number")
					continue
				}
			}
			ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
			out, err := r.kiosk.Scan(ctx, period)
			cancel()
			reply(conn, out, err)

		case "EVENTS":
			person := ""
			if len(parts) > 1 {
				person = parts[1]
			}
			reply(conn, r.kiosk.Events(person), nil)

		case "EVAL":
			reply(conn, r.kiosk.Evaluate(), nil)

		case "SUMMARY":
			reply(conn, r.kiosk.Summary(), nil)

		case "QUIT":
			return

		default:
			fmt.Fprintln(conn, "ERR unknown command")
		}
	}
}

func reply(w io.Writer, v any, err error) {
	if err != nil {
		fmt.Fprintln(w, "ERR", err)
		return
	}
	res, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintln(w, "ERR internal error")
		return
	}
	fmt.Fprintln(w, "OK", string(res))
}
