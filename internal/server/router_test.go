package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/celerix-dev/celerix-presence/internal/ledger"
	"github.com/celerix-dev/celerix-presence/internal/scan"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

type fakeKiosk struct {
	mu     sync.Mutex
	period int
	scans  int
}

func (k *fakeKiosk) Status() scan.Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return scan.Status{State: scan.Idle, Period: k.period}
}

func (k *fakeKiosk) Scan(_ context.Context, period int) (scan.Outcome, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.scans > 0 {
		return scan.Outcome{State: scan.Success}, scan.ErrBusy
	}
	k.scans++
	if period != 0 {
		k.period = period
	}
	return scan.Outcome{State: scan.Success, Period: k.period, PersonID: "S1", Confidence: 0.9, Logged: true}, nil
}

func (k *fakeKiosk) SelectPeriod(period int) error {
	if period < 1 || period > 6 {
		return ledger.ErrInvalidPeriod
	}
	k.mu.Lock()
	k.period = period
	k.mu.Unlock()
	return nil
}

func (k *fakeKiosk) Events(personID string) []schema.AttendanceEvent {
	events := []schema.AttendanceEvent{{ID: "E1", PersonID: "S1"}, {ID: "E2", PersonID: "S2"}}
	if personID == "" {
		return events
	}
	var out []schema.AttendanceEvent
	for _, e := range events {
		if e.PersonID == personID {
			out = append(out, e)
		}
	}
	return out
}

func (k *fakeKiosk) Evaluate() []schema.EvaluationResult {
	return []schema.EvaluationResult{{PersonID: "S1", FinalGrade: "A-"}}
}

func (k *fakeKiosk) Summary() schema.Summary {
	return schema.Summary{Enrolled: 2, TotalEvents: 2}
}

func startRouter(t *testing.T) string {
	t.Helper()
	router := NewRouter(&fakeKiosk{period: 1})

	// Listen on ":0" to get a random port
	go router.Listen("0")

	var port string
	for i := 0; i < 10; i++ {
		time.Sleep(50 * time.Millisecond)
		router.mu.Lock()
		if router.listener != nil {
			port = fmt.Sprintf("%d", router.listener.Addr().(*net.TCPAddr).Port)
			router.mu.Unlock()
			break
		}
		router.mu.Unlock()
	}
	if port == "" {
		t.Fatalf("Server did not start in time")
	}
	t.Cleanup(func() { router.Stop() })
	return port
}

func TestRouter_TCP_Commands(t *testing.T) {
	port := startRouter(t)

	conn, err := net.Dial("tcp", "127.0.0.1:"+port)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)

	send := func(cmd string) string {
		fmt.Fprintf(conn, "%s\n", cmd)
		line, _ := reader.ReadString('\n')
		return line
	}

	if line := send("PING"); line != "PONG\n" {
		t.Errorf("Expected PONG, got %q", line)
	}

	line := send("PERIOD 4")
	if !strings.HasPrefix(line, "OK ") || !strings.Contains(line, `"period":4`) || !strings.Contains(line, `"state":"idle"`) {
		t.Errorf("Unexpected PERIOD reply: %q", line)
	}
	if line := send("PERIOD 9"); !strings.HasPrefix(line, "ERR") {
		t.Errorf("Expected ERR for bad period, got %q", line)
	}
	if line := send("PERIOD x"); !strings.HasPrefix(line, "ERR") {
		t.Errorf("Expected ERR for non-numeric period, got %q", line)
	}

	line = send("SCAN 2")
	var out map[string]any
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "OK ")), &out); err != nil {
		t.Fatalf("Bad SCAN reply %q: %v", line, err)
	}
	if out["state"] != "success" || out["period"] != float64(2) {
		t.Errorf("Unexpected outcome: %v", out)
	}
	if line := send("SCAN"); line != "ERR "+scan.ErrBusy.Error()+"\n" {
		t.Errorf("Expected busy error, got %q", line)
	}

	var events []schema.AttendanceEvent
	json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(send("EVENTS S2")), "OK ")), &events)
	if len(events) != 1 || events[0].ID != "E2" {
		t.Errorf("Unexpected events: %+v", events)
	}

	if line := send("EVAL"); !strings.Contains(line, `"finalGrade":"A-"`) {
		t.Errorf("Unexpected EVAL reply: %q", line)
	}
	if line := send("SUMMARY"); !strings.Contains(line, `"enrolled":2`) {
		t.Errorf("Unexpected SUMMARY reply: %q", line)
	}
	if line := send("state"); !strings.HasPrefix(line, "OK ") {
		t.Errorf("Commands should be case-insensitive, got %q", line)
	}
	if line := send("BOGUS"); line != "ERR unknown command\n" {
		t.Errorf("Expected unknown command, got %q", line)
	}
}

func TestRouter_ConcurrentConnections(t *testing.T) {
	port := startRouter(t)

	conns := make([]net.Conn, 0)
	for i := 0; i < 110; i++ {
		conn, err := net.DialTimeout("tcp", "127.0.0.1:"+port, 100*time.Millisecond)
		if err == nil {
			conns = append(conns, conn)
		}
	}
	for _, c := range conns {
		c.Close()
	}

	// The router must still serve after the burst.
	conn, err := net.Dial("tcp", "127.0.0.1:"+port)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	defer conn.Close()
	fmt.Fprintf(conn, "PING\n")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, _ := bufio.NewReader(conn).ReadString('\n')
	if line != "PONG\n" {
		t.Errorf("Expected PONG, got %q", line)
	}
}

func TestRouter_QuitClosesConnection(t *testing.T) {
	port := startRouter(t)

	conn, _ := net.Dial("tcp", "127.0.0.1:"+port)
	defer conn.Close()
	fmt.Fprintf(conn, "\nQUIT\n")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := bufio.NewReader(conn).ReadString('\n'); err == nil {
		t.Error("Expected the server to close the connection")
	}
}

func TestRouter_StopEndsListen(t *testing.T) {
	router := NewRouter(&fakeKiosk{})
	done := make(chan error, 1)
	go func() { done <- router.Listen("0") }()

	for i := 0; i < 20; i++ {
		time.Sleep(25 * time.Millisecond)
		router.mu.Lock()
		up := router.listener != nil
		router.mu.Unlock()
		if up {
			break
		}
	}
	router.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after Stop")
	}
}
