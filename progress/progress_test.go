package progress

import (
	"context"
	"testing"

	"github.com/dhcgn/ost-export/stats"
)

func TestEnabled(t *testing.T) {
	if !Enabled("always", "debug") {
		t.Error("always should enable progress")
	}
	if Enabled("never", "info") {
		t.Error("never should disable progress")
	}
	// go test does not attach stdout to a terminal
	if Enabled("auto", "info") {
		t.Skip("stdout is a terminal")
	}
	if Enabled("auto", "debug") {
		t.Error("auto must stay off at debug level")
	}
}

func TestDisabledSpinnerIsNoop(t *testing.T) {
	s := New(false)
	events := make(chan stats.Event, 2)
	events <- stats.Event{Type: stats.EventTypeScanned, Folder: "Inbox"}
	close(events)
	if err := s.Subscriber(context.Background(), events); err != nil {
		t.Fatal(err)
	}
	if s.scanned != 0 {
		t.Error("disabled spinner counted events")
	}
}
