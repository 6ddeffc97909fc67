package sdk_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/celerix-dev/celerix-presence/internal/evaluate"
	"github.com/celerix-dev/celerix-presence/internal/ledger"
	"github.com/celerix-dev/celerix-presence/internal/roster"
	"github.com/celerix-dev/celerix-presence/internal/scan"
	"github.com/celerix-dev/celerix-presence/internal/server"
	"github.com/celerix-dev/celerix-presence/internal/service"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
	"github.com/celerix-dev/celerix-presence/pkg/sdk"
)

type stillCamera struct{}

func (stillCamera) Acquire() error                          { return nil }
func (stillCamera) Capture(context.Context) ([]byte, error) { return []byte("frame"), nil }
func (stillCamera) Release() error                          { return nil }

type firstMatch struct{}

func (firstMatch) Identify(_ context.Context, _ []byte, people []schema.Person) (scan.Match, error) {
	return scan.Match{PersonID: people[0].ID, Name: people[0].DisplayName, Confidence: 0.9}, nil
}

func startDaemon(t *testing.T, people []schema.Person) string {
	t.Helper()
	svc := service.New(service.Config{
		Roster:        roster.New(people, nil, nil),
		Ledger:        ledger.New(nil, ledger.WithLocation(time.UTC)),
		Camera:        stillCamera{},
		Oracle:        firstMatch{},
		DisplayWindow: time.Hour,
		Evaluation:    evaluate.Config{CycleLength: 30, Location: time.UTC},
	})
	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	router := server.NewRouter(svc)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go router.HandleConnection(conn)
		}
	}()
	t.Cleanup(func() {
		listener.Close()
		svc.Close()
	})
	t.Setenv("CELERIX_DISABLE_TLS", "true")
	return listener.Addr().String()
}

func TestClient_Integration(t *testing.T) {
	addr := startDaemon(t, []schema.Person{{ID: "S1", DisplayName: "Sam", BaselineScore: 92}})

	var client sdk.Presence
	client, err := sdk.New(addr)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	if err := client.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	st, err := client.SelectPeriod(2)
	if err != nil || st.Period != 2 || st.State != "idle" {
		t.Fatalf("SelectPeriod failed: %+v, %v", st, err)
	}

	res, err := client.Scan(0)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if res.State != "success" || !res.Logged || res.Event == nil || res.Event.Period != 2 {
		t.Errorf("Unexpected scan result: %+v", res)
	}

	if _, err := client.Scan(0); !errors.Is(err, sdk.ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}

	st, _ = client.State()
	if st.State != "success" || st.Last == nil || st.Last.PersonID != "S1" {
		t.Errorf("Unexpected state: %+v", st)
	}

	events, err := client.Events("S1")
	if err != nil || len(events) != 1 {
		t.Errorf("Events failed: %v, %v", events, err)
	}

	results, err := client.Evaluate()
	if err != nil || len(results) != 1 || results[0].FinalGrade != "A-" {
		t.Errorf("Evaluate failed: %+v, %v", results, err)
	}

	sum, err := client.Summary()
	if err != nil || sum.Enrolled != 1 || sum.TotalEvents != 1 {
		t.Errorf("Summary failed: %+v, %v", sum, err)
	}
}

func TestClient_EmptyRoster(t *testing.T) {
	addr := startDaemon(t, nil)
	client, err := sdk.Connect(addr)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	if _, err := client.Scan(1); !errors.Is(err, sdk.ErrEmptyRoster) {
		t.Errorf("Expected ErrEmptyRoster, got %v", err)
	}
	if _, err := client.SelectPeriod(8); err == nil {
		t.Error("Expected an error for period 8")
	}
	if _, err := client.Events("two words"); err == nil {
		t.Error("Expected an error for a person id with spaces")
	}
}

func TestClient_RetryLogic(t *testing.T) {
	addr := startDaemon(t, nil)
	client, err := sdk.Connect(addr)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	// Dropping the connection forces a reconnect on the next call.
	client.Close()
	if err := client.Ping(); err != nil {
		t.Errorf("Expected reconnect to succeed, got %v", err)
	}
}

func TestAddr(t *testing.T) {
	t.Setenv("CELERIX_ADDR", "")
	if sdk.Addr() != sdk.DefaultAddr {
		t.Errorf("Expected default address, got %s", sdk.Addr())
	}
	t.Setenv("CELERIX_ADDR", "kiosk:7001")
	if sdk.Addr() != "kiosk:7001" {
		t.Errorf("Expected env address, got %s", sdk.Addr())
	}
}
