package browser

import (
	"context"
	"strings"
	"testing"
)

func TestConnectUnlinkedDriver(t *testing.T) {
	_, err := Connect(context.Background(), "cdp", "ws://127.0.0.1:9222")
	if err == nil {
		t.Fatal("Connect must fail for a driver that is not linked in")
	}
	msg := err.Error()
	if !strings.Contains(msg, `"cdp"`) || !strings.Contains(msg, "linked into this binary") {
		t.Errorf("Error should name the driver and the linking requirement: %q", msg)
	}
	if !strings.Contains(msg, "fake") {
		t.Errorf("Error should list the registered drivers: %q", msg)
	}
}

func TestConnectRegisteredDriver(t *testing.T) {
	pg, err := Connect(context.Background(), "fake", "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if pg == nil {
		t.Fatal("Connect returned a nil page")
	}
}
