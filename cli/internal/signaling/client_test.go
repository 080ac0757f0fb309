package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeRelay answers a join with an ack, then replays the given frames.
func fakeRelay(t *testing.T, frames ...string) (*httptest.Server, chan map[string]any) {
	t.Helper()
	received := make(chan map[string]any, 8)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var m map[string]any
		json.Unmarshal(data, &m)
		received <- m

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"joined","appointmentId":"apt-42","peers":1}`))
		for _, f := range frames {
			conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, received
}

func connect(t *testing.T, srv *httptest.Server) (*Client, *Handler) {
	t.Helper()
	c := NewClient("ws" + strings.TrimPrefix(srv.URL, "http"))
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	h := NewHandler(c)
	go h.Start()
	return c, h
}

func TestJoinAndRoute(t *testing.T) {
	srv, received := fakeRelay(t,
		`{"type":"peer-joined","appointmentId":"apt-42","participantId":"d1"}`,
		`{"type":"offer","appointmentId":"apt-42","from":"d1","sessionDescription":{"type":"offer","sdp":"X"}}`,
		`{"type":"ice-candidate","appointmentId":"apt-42","candidate":{"candidate":"candidate:1","sdpMid":"0","sdpMLineIndex":0}}`,
		`{"type":"error","code":"room_full","error":"room is full"}`,
		`{"type":"peer-left","appointmentId":"apt-42","participantId":"d1"}`,
	)
	c, h := connect(t, srv)

	if err := c.Join("apt-42", "u1"); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-received:
		if m["type"] != "join-room" || m["appointmentId"] != "apt-42" || m["participantId"] != "u1" {
			t.Fatalf("unexpected join frame %v", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("relay never saw the join")
	}

	timeout := time.After(3 * time.Second)
	select {
	case ack := <-h.Joined:
		if ack.Peers != 1 {
			t.Fatalf("unexpected ack %+v", ack)
		}
	case <-timeout:
		t.Fatal("no joined ack")
	}
	var events []*Message
	for len(events) < 4 {
		select {
		case ev := <-h.Events:
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("got %d events", len(events))
		}
	}
	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []string{MessageTypePeerJoined, MessageTypeOffer, MessageTypeICECandidate, MessageTypePeerLeft}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events out of order: %v", types)
		}
	}
	if events[0].ParticipantID != "d1" {
		t.Fatalf("unexpected peer %+v", events[0])
	}
	if events[1].SessionDescription.SDP != "X" || events[1].From != "d1" {
		t.Fatalf("offer not decoded: %+v", events[1])
	}
	cand := events[2].Candidate
	if cand == nil || cand.Candidate != "candidate:1" || *cand.SDPMid != "0" || *cand.SDPMLineIndex != 0 {
		t.Fatalf("candidate not decoded: %+v", cand)
	}

	select {
	case e := <-h.Error:
		if e.Code != CodeRoomFull {
			t.Fatalf("unexpected error %+v", e)
		}
	case <-timeout:
		t.Fatal("no error routed")
	}
}

func TestSendAfterClose(t *testing.T) {
	srv, _ := fakeRelay(t)
	c, h := connect(t, srv)
	c.Close()
	c.Close()

	if err := c.Send(&Message{Type: MessageTypeHangup}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	select {
	case <-h.Done:
	case <-time.After(3 * time.Second):
		t.Fatal("handler did not stop after close")
	}
}

func TestHandlerStopsWhenEventsAreNotRead(t *testing.T) {
	frames := make([]string, 200)
	for i := range frames {
		frames[i] = fmt.Sprintf(`{"type":"ice-candidate","appointmentId":"apt-42","candidate":{"candidate":"candidate:%d","sdpMid":"0","sdpMLineIndex":0}}`, i)
	}
	srv, _ := fakeRelay(t, frames...)
	c, h := connect(t, srv)
	if err := c.Join("apt-42", "u1"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for len(h.Events) < cap(h.Events) {
		if time.Now().After(deadline) {
			t.Fatalf("events buffer never filled: %d", len(h.Events))
		}
		time.Sleep(10 * time.Millisecond)
	}

	c.Close()
	select {
	case <-h.Done:
	case <-time.After(3 * time.Second):
		t.Fatal("handler stuck on a full events channel after close")
	}
}

func TestCandidateKey(t *testing.T) {
	mid0, mid1 := "0", "1"
	idx0, idx1 := uint16(0), uint16(1)
	a := Candidate{Candidate: "c", SDPMid: &mid0, SDPMLineIndex: &idx0}
	b := Candidate{Candidate: "c", SDPMid: &mid0, SDPMLineIndex: &idx0}
	c := Candidate{Candidate: "c", SDPMid: &mid1, SDPMLineIndex: &idx1}
	if a.Key() != b.Key() {
		t.Fatal("identical candidates should share a key")
	}
	if a.Key() == c.Key() {
		t.Fatal("different m-lines must not collide")
	}
}
