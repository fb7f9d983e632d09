package api

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func testLogger() *log.Logger {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return logger
}

func drain(t *testing.T, c *Conn) []byte {
	t.Helper()
	select {
	case data := <-c.Outbound():
		return data
	default:
		t.Fatalf("no queued data on connection %s", c.ID)
		return nil
	}
}

func TestSendToConn(t *testing.T) {
	g := NewGroups(testLogger())
	c := g.Add("conn-1", 4, nil)

	g.SendToConn("conn-1", []byte("hello"))
	if got := drain(t, c); string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSendToUnknownConnIsDropped(t *testing.T) {
	g := NewGroups(testLogger())
	g.SendToConn("ghost", []byte("hello"))
}

func TestSendToGroupReachesMembersOnly(t *testing.T) {
	g := NewGroups(testLogger())
	a := g.Add("conn-a", 4, nil)
	b := g.Add("conn-b", 4, nil)
	c := g.Add("conn-c", 4, nil)

	if err := g.Join("conn-a", "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := g.Join("conn-b", "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := g.Join("conn-c", "bob"); err != nil {
		t.Fatalf("join: %v", err)
	}

	g.SendToGroup("alice", []byte("x"))

	drain(t, a)
	drain(t, b)
	select {
	case data := <-c.Outbound():
		t.Fatalf("conn-c got %q despite being in another group", data)
	default:
	}
}

func TestJoinUnknownConnection(t *testing.T) {
	g := NewGroups(testLogger())
	if err := g.Join("ghost", "alice"); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestJoinTwiceDeliversOnce(t *testing.T) {
	g := NewGroups(testLogger())
	c := g.Add("conn-1", 4, nil)
	g.Join("conn-1", "alice")
	g.Join("conn-1", "alice")

	g.SendToGroup("alice", []byte("x"))
	drain(t, c)
	select {
	case <-c.Outbound():
		t.Fatalf("double join caused double delivery")
	default:
	}
}

func TestSendToAll(t *testing.T) {
	g := NewGroups(testLogger())
	a := g.Add("conn-a", 4, nil)
	b := g.Add("conn-b", 4, nil)

	g.SendToAll([]byte("x"))
	drain(t, a)
	drain(t, b)
}

func TestRemoveClosesAndForgets(t *testing.T) {
	g := NewGroups(testLogger())
	closed := false
	c := g.Add("conn-1", 4, func() { closed = true })
	g.Join("conn-1", "alice")

	g.Remove("conn-1")

	if !closed {
		t.Fatalf("closeFn not invoked")
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("done channel not closed")
	}
	g.SendToGroup("alice", []byte("x"))
	g.SendToConn("conn-1", []byte("x"))
	select {
	case <-c.Outbound():
		t.Fatalf("removed connection still receives")
	default:
	}
}

func TestRemoveTwiceIsSafe(t *testing.T) {
	g := NewGroups(testLogger())
	calls := 0
	g.Add("conn-1", 4, func() { calls++ })

	g.Remove("conn-1")
	g.Remove("conn-1")

	if calls != 1 {
		t.Fatalf("closeFn ran %d times", calls)
	}
}

func TestSlowConnectionIsClosedNotSkipped(t *testing.T) {
	g := NewGroups(testLogger())
	c := g.Add("conn-1", 1, nil)

	// Fill the buffer, then overflow it. The overflowing send must close the
	// connection instead of leaving a gap in its stream.
	g.SendToConn("conn-1", []byte("1"))
	g.SendToConn("conn-1", []byte("2"))

	select {
	case <-c.Done():
	default:
		t.Fatalf("slow connection must be shut down")
	}
}
