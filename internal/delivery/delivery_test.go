package delivery

import (
	"testing"
)

func TestPercent(t *testing.T) {
	cases := []struct {
		done, total int64
		want        int
	}{
		{0, 0, 0},
		{10, 0, 0},
		{50, 200, 25},
		{10, 100, 10},
		{1, 3, 33},
		{100, 100, 100},
		{150, 100, 100},
		{-5, 100, 0},
	}
	for _, c := range cases {
		if got := Percent(c.done, c.total); got != c.want {
			t.Fatalf("Percent(%d,%d)=%d want %d", c.done, c.total, got, c.want)
		}
	}
	st := PackState{BytesDownloaded: 50, TotalBytesToDownload: 200}
	if st.Percent() != 25 {
		t.Fatalf("PackState.Percent=%d", st.Percent())
	}
}

func TestErrorCodeString(t *testing.T) {
	if ErrCodeNetwork.String() != "network_error" || ErrorCode(-42).String() != "code_-42" {
		t.Fatalf("unexpected strings: %s %s", ErrCodeNetwork, ErrorCode(-42))
	}
}

func TestListeners_AddNotifyUnregister(t *testing.T) {
	var l listeners
	var got []PackState
	unreg := l.add(func(s PackState) { got = append(got, s) })
	l.notify(PackState{Name: "a"})
	unreg()
	unreg() // idempotent
	l.notify(PackState{Name: "b"})
	if len(got) != 1 || got[0].Name != "a" {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
	if l.len() != 0 {
		t.Fatalf("expected no listeners, got %d", l.len())
	}
}

func TestListeners_SelfUnregisterDoesNotDeadlock(t *testing.T) {
	var l listeners
	calls := 0
	var unreg func()
	unreg = l.add(func(PackState) {
		calls++
		unreg()
	})
	l.notify(PackState{})
	l.notify(PackState{})
	if calls != 1 {
		t.Fatalf("calls=%d", calls)
	}
}
