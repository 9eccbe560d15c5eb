package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestServerExposesRegistry(t *testing.T) {
	SetDeviceCounts(map[string]int{"available": 1})

	s := NewServer("127.0.0.1:0")
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Stop(ctx); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	}()

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "camlink_devices_count") {
		t.Error("exposition missing camlink_devices_count")
	}
}

func TestServerAddrBeforeStart(t *testing.T) {
	if addr := NewServer(":0").Addr(); addr != "" {
		t.Errorf("Addr() before Start = %q, want empty", addr)
	}
}
