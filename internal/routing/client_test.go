package routing

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestOSRMClient_DistanceKm(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":3250.5}]}`))
	}))
	defer srv.Close()

	c := NewOSRMClient(srv.URL, time.Second)
	got, err := c.DistanceKm(context.Background(), 10.5, -66.9, 10.6, -66.8)
	if err != nil {
		t.Fatalf("DistanceKm() error = %v", err)
	}
	if math.Abs(got-3.2505) > 1e-9 {
		t.Errorf("DistanceKm() = %v, want 3.2505", got)
	}
	if !strings.HasPrefix(gotPath, "/route/v1/driving/-66.900000,10.500000;-66.800000,10.600000") {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotQuery != "overview=false" {
		t.Errorf("unexpected query %s", gotQuery)
	}
}

func TestOSRMClient_RetriesOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"code":"Ok","routes":[{"distance":1000}]}`))
	}))
	defer srv.Close()

	c := NewOSRMClient(srv.URL, time.Second, WithRetry(3, time.Millisecond))
	got, err := c.DistanceKm(context.Background(), 0, 0, 0, 0)
	if err != nil {
		t.Fatalf("DistanceKm() error = %v", err)
	}
	if got != 1 {
		t.Errorf("DistanceKm() = %v, want 1", got)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestOSRMClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		calls   int32
	}{
		{name: "no route code", status: http.StatusOK, body: `{"code":"NoRoute","routes":[]}`, wantErr: ErrNoRoute, calls: 1},
		{name: "empty routes", status: http.StatusOK, body: `{"code":"Ok","routes":[]}`, wantErr: ErrNoRoute, calls: 1},
		{name: "bad request", status: http.StatusBadRequest, body: `{}`, wantErr: ErrNoRoute, calls: 1},
		{name: "persistent 500", status: http.StatusInternalServerError, body: ``, wantErr: ErrUnavailable, calls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewOSRMClient(srv.URL, time.Second, WithRetry(2, time.Millisecond))
			_, err := c.DistanceKm(context.Background(), 1, 1, 2, 2)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if got := atomic.LoadInt32(&calls); got != tt.calls {
				t.Errorf("calls = %d, want %d", got, tt.calls)
			}
		})
	}
}

func TestOSRMClient_NotConfigured(t *testing.T) {
	c := NewOSRMClient("", 0)
	if _, err := c.DistanceKm(context.Background(), 0, 0, 1, 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
