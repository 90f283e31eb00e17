package adminrest_test

import (
	"testing"
	"time"

	"github.com/messa/logline/internal/adminrest"
)

func TestRegistryTrimsToMaxKept(t *testing.T) {
	reg := adminrest.NewRegistry(2)
	reg.Record(adminrest.SessionInfo{PeerAddr: "a"})
	reg.Record(adminrest.SessionInfo{PeerAddr: "b"})
	reg.Record(adminrest.SessionInfo{PeerAddr: "c"})

	recent := reg.Recent()
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
	if recent[0].PeerAddr != "b" || recent[1].PeerAddr != "c" {
		t.Fatalf("recent = %+v, want [b c]", recent)
	}
}

func TestRegistryTracksOpenSessions(t *testing.T) {
	reg := adminrest.NewRegistry(10)
	reg.RegisterStart("a", time.Now())
	reg.RegisterStart("b", time.Now())

	open := reg.OpenSessions()
	if len(open) != 2 {
		t.Fatalf("len(open) = %d, want 2", len(open))
	}

	reg.Record(adminrest.SessionInfo{PeerAddr: "a"})
	open = reg.OpenSessions()
	if len(open) != 1 || open[0].PeerAddr != "b" {
		t.Fatalf("open after Record(a) = %+v, want only b", open)
	}

	reg.MarkEnded("b")
	if len(reg.OpenSessions()) != 0 {
		t.Fatalf("open after MarkEnded(b) = %+v, want empty", reg.OpenSessions())
	}
}

func TestStatusSnapshotCountsErrors(t *testing.T) {
	reg := adminrest.NewRegistry(10)
	reg.Record(adminrest.SessionInfo{PeerAddr: "a"})
	reg.Record(adminrest.SessionInfo{PeerAddr: "b", Error: "boom"})

	status := reg.StatusSnapshot()
	if status.TotalSessions != 2 {
		t.Errorf("TotalSessions = %d, want 2", status.TotalSessions)
	}
	if status.ErroredSessions != 1 {
		t.Errorf("ErroredSessions = %d, want 1", status.ErroredSessions)
	}
	if status.KeptRecent != 2 {
		t.Errorf("KeptRecent = %d, want 2", status.KeptRecent)
	}
}
