package cachestatus

import "testing"

func TestString(t *testing.T) {
	tests := []struct {
		cs   CacheStatus
		want string
	}{
		{CacheStatus{Status: StatusHit, Detail: "cache-first"}, "Offline-Cache; hit; detail=cache-first"},
		{CacheStatus{Status: StatusFwd, FwdReason: FwdUriMiss, FwdStatus: 200, Stored: true}, "Offline-Cache; fwd=uri-miss; fwd-status=200; stored"},
		{CacheStatus{Status: StatusFwd, FwdReason: FwdMethod}, "Offline-Cache; fwd=method"},
	}
	for _, tt := range tests {
		if got := tt.cs.String(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}

func TestHitClearsReason(t *testing.T) {
	cs := CacheStatus{}
	cs.Forward(FwdUriMiss)
	cs.Hit()
	if !cs.IsHit() || cs.FwdReason != "" {
		t.Fatalf("Status is %+v", cs)
	}
}
