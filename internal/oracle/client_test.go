package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/celerix-dev/celerix-presence/internal/scan"
	"github.com/celerix-dev/celerix-presence/pkg/schema"
)

func serve(t *testing.T, status int, body string, seen *request) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			json.NewDecoder(r.Body).Decode(seen)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{URL: srv.URL, APIKey: "k"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

var people = []schema.Person{{ID: "S1", DisplayName: "Sam", ReferenceImage: []byte("ref")}}

func TestIdentify_Match(t *testing.T) {
	var seen request
	c := serve(t, http.StatusOK, `{"matchedPersonId":"S1","matchedName":"Sam","confidence":0.93}`, &seen)

	m, err := c.Identify(context.Background(), []byte("probe"), people)
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if m.PersonID != "S1" || m.Name != "Sam" || m.Confidence != 0.93 {
		t.Errorf("Unexpected match: %+v", m)
	}
	if !m.Accepted() {
		t.Error("Expected match to be accepted")
	}
	if len(seen.Roster) != 1 || seen.Roster[0].ID != "S1" || string(seen.Roster[0].ReferenceImage) != "ref" {
		t.Errorf("Roster not sent as expected: %+v", seen.Roster)
	}
	if string(seen.Probe) != "probe" {
		t.Errorf("Expected raw probe to pass through, got %q", seen.Probe)
	}
}

func TestIdentify_UnknownWithNullName(t *testing.T) {
	c := serve(t, http.StatusOK, `{"matchedPersonId":"unknown","matchedName":null,"confidence":0.2}`, nil)

	m, err := c.Identify(context.Background(), []byte("probe"), people)
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if m.Accepted() || m.Name != "" {
		t.Errorf("Expected rejected match without name, got %+v", m)
	}
}

func TestIdentify_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":            `I think it's Sam`,
		"missing confidence":  `{"matchedPersonId":"S1"}`,
		"confidence string":   `{"matchedPersonId":"S1","confidence":"high"}`,
		"array":               `[1,2]`,
		"confidence too high": `{"matchedPersonId":"S1","confidence":1.5}`,
		"negative confidence": `{"matchedPersonId":"S1","confidence":-0.2}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			c := serve(t, http.StatusOK, body, nil)
			_, err := c.Identify(context.Background(), []byte("probe"), people)
			if !errors.Is(err, scan.ErrOracleMalformedResponse) {
				t.Errorf("Expected ErrOracleMalformedResponse, got %v", err)
			}
		})
	}
}

func TestIdentify_Unavailable(t *testing.T) {
	c := serve(t, http.StatusBadGateway, `{}`, nil)
	if _, err := c.Identify(context.Background(), []byte("probe"), people); !errors.Is(err, scan.ErrOracleUnavailable) {
		t.Errorf("Expected ErrOracleUnavailable for 502, got %v", err)
	}

	dead, _ := NewClient(Config{URL: "http://127.0.0.1:1/identify"})
	if _, err := dead.Identify(context.Background(), []byte("probe"), people); !errors.Is(err, scan.ErrOracleUnavailable) {
		t.Errorf("Expected ErrOracleUnavailable for refused connection, got %v", err)
	}
}

func TestNewClient_RequiresURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("Expected error without url")
	}
}
