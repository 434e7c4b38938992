package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRunSelectsByKind(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("live", Liveness, func(context.Context) Check { return Check{Status: StatusHealthy} })
	c.Register("ready", Readiness, func(context.Context) Check { return Check{Status: StatusHealthy} })
	c.Register("info", Informational, func(context.Context) Check { return Check{Status: StatusHealthy} })

	if got := len(c.Liveness(context.Background()).Checks); got != 1 {
		t.Errorf("Liveness ran %d checks, want 1", got)
	}
	if got := len(c.Readiness(context.Background()).Checks); got != 2 {
		t.Errorf("Readiness ran %d checks, want 2", got)
	}
	if got := len(c.Full(context.Background()).Checks); got != 3 {
		t.Errorf("Full ran %d checks, want 3", got)
	}
}

func TestWorstStatusWins(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("a", Liveness, func(context.Context) Check { return Check{Status: StatusHealthy} })
	c.Register("b", Liveness, func(context.Context) Check { return Check{Status: StatusDegraded} })

	if resp := c.Full(context.Background()); resp.Status != StatusDegraded {
		t.Errorf("Expected degraded, got %s", resp.Status)
	}

	c.Register("c", Readiness, func(context.Context) Check { return Check{Status: StatusUnhealthy} })
	resp := c.Full(context.Background())
	if resp.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", resp.Status)
	}
	if resp.Checks["c"].Name != "c" {
		t.Errorf("Expected check name to be filled in, got %q", resp.Checks["c"].Name)
	}
}

func TestCheckTimeout(t *testing.T) {
	c := NewChecker(20 * time.Millisecond)
	c.Register("slow", Liveness, func(ctx context.Context) Check {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return Check{Status: StatusHealthy}
	})

	resp := c.Liveness(context.Background())
	if resp.Checks["slow"].Status != StatusUnhealthy {
		t.Errorf("Expected timed out check to be unhealthy, got %s", resp.Checks["slow"].Status)
	}
}

func TestStoreCheck(t *testing.T) {
	ok := StoreCheck(func(context.Context) error { return nil })(context.Background())
	if ok.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", ok.Status)
	}
	bad := StoreCheck(func(context.Context) error { return errors.New("connection refused") })(context.Background())
	if bad.Status != StatusUnhealthy || bad.Message != "connection refused" {
		t.Errorf("Expected unhealthy with message, got %+v", bad)
	}
}

func TestQuorumCheck(t *testing.T) {
	tests := []struct {
		name    string
		quorum  int
		members int
		present bool
		want    Status
	}{
		{"standalone", 1, 1, true, StatusHealthy},
		{"spare members", 2, 3, true, StatusHealthy},
		{"exactly quorum", 3, 3, true, StatusDegraded},
		{"lost quorum", 2, 1, false, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := QuorumCheck(func(context.Context) (string, int, int, bool, error) {
				return "CLUSTER", tt.quorum, tt.members, tt.present, nil
			})(context.Background())
			if check.Status != tt.want {
				t.Errorf("got %s, want %s", check.Status, tt.want)
			}
		})
	}
}

func TestFencingAndMembershipChecks(t *testing.T) {
	fenced := FencingCheck(func() (bool, string) { return true, "not oldest in standalone" })(context.Background())
	if fenced.Status != StatusDegraded || fenced.Details["reason"] != "not oldest in standalone" {
		t.Errorf("unexpected fencing check %+v", fenced)
	}

	empty := MembershipCheck(func() (int, bool) { return 0, false })(context.Background())
	if empty.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy with no members, got %s", empty.Status)
	}
}

func TestHandlers(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("fencing", Readiness, func(context.Context) Check { return Check{Status: StatusDegraded} })

	mux := http.NewServeMux()
	c.Mount(mux)

	tests := []struct {
		path string
		code int
	}{
		{"/health", http.StatusOK},
		{"/health/ready", http.StatusServiceUnavailable},
		{"/health/live", http.StatusOK},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

		if rec.Code != tt.code {
			t.Errorf("%s: got %d, want %d", tt.path, rec.Code, tt.code)
		}
		var resp Response
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Errorf("%s: invalid JSON: %v", tt.path, err)
		}
	}
}
