package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/docease/telecare/internal/models"
)

// memoryServer is an in-process chat backend that counts fetches.
type memoryServer struct {
	mu       sync.Mutex
	messages map[string][]models.Message
	fetches  map[string]int
	failNext int
	failSend error
	now      func() time.Time
}

func newMemoryServer() *memoryServer {
	return &memoryServer{
		messages: make(map[string][]models.Message),
		fetches:  make(map[string]int),
		now:      time.Now,
	}
}

func (s *memoryServer) Fetch(ctx context.Context, appointmentID, requesterID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[appointmentID]++
	if s.failNext > 0 {
		s.failNext--
		return nil, errors.New("service unavailable")
	}
	return append([]models.Message(nil), s.messages[appointmentID]...), nil
}

func (s *memoryServer) Send(ctx context.Context, in models.NewMessage) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSend != nil {
		return nil, s.failSend
	}
	msg := models.Message{
		AppointmentID: in.AppointmentID,
		SenderID:      in.SenderID,
		SenderRole:    in.SenderRole,
		RecipientID:   in.RecipientID,
		Text:          in.Text,
		CreatedAt:     s.now(),
		Seq:           int64(len(s.messages[in.AppointmentID]) + 1),
	}
	s.messages[in.AppointmentID] = append(s.messages[in.AppointmentID], msg)
	return &msg, nil
}

func (s *memoryServer) fetchCount(appointmentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[appointmentID]
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestOpenFetchesImmediately(t *testing.T) {
	srv := newMemoryServer()
	srv.Send(context.Background(), models.NewMessage{AppointmentID: "apt-42", SenderID: "d1", SenderRole: models.RoleDoctor, RecipientID: "u1", Text: "hi"})

	// An interval far longer than the test: only the initial fetch can run.
	p := NewPoller(srv, "u1", models.RolePatient, time.Hour)
	updates := make(chan []models.Message, 1)
	p.OnUpdate = func(_ Conversation, msgs []models.Message) { updates <- msgs }

	p.Open(context.Background(), Conversation{AppointmentID: "apt-42", PeerID: "d1"})
	defer p.Close()

	select {
	case msgs := <-updates:
		if len(msgs) != 1 || msgs[0].Text != "hi" {
			t.Fatalf("history = %+v", msgs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no initial fetch")
	}
}

func TestPollRevealsPeerMessage(t *testing.T) {
	srv := newMemoryServer()
	doctor := NewPoller(srv, "d1", models.RoleDoctor, 10*time.Millisecond)
	patient := NewPoller(srv, "u1", models.RolePatient, 10*time.Millisecond)

	ctx := context.Background()
	doctor.Open(ctx, Conversation{AppointmentID: "apt-42", PeerID: "u1"})
	defer doctor.Close()
	patient.Open(ctx, Conversation{AppointmentID: "apt-42", PeerID: "d1"})
	defer patient.Close()

	sentAt := time.Now()
	if _, err := patient.Send(ctx, "Hello"); err != nil {
		t.Fatal(err)
	}

	eventually(t, func() bool {
		h := doctor.History()
		return len(h) > 0 && h[len(h)-1].Text == "Hello"
	})
	last := doctor.History()[len(doctor.History())-1]
	if last.SenderRole != models.RolePatient || last.SenderID != "u1" {
		t.Fatalf("last = %+v", last)
	}
	if last.CreatedAt.Before(sentAt) {
		t.Fatalf("timestamp %v before send %v", last.CreatedAt, sentAt)
	}
}

func TestSendRefreshesAtOnce(t *testing.T) {
	srv := newMemoryServer()
	p := NewPoller(srv, "u1", models.RolePatient, time.Hour)
	p.Open(context.Background(), Conversation{AppointmentID: "apt-42", PeerID: "d1"})
	defer p.Close()
	eventually(t, func() bool { return srv.fetchCount("apt-42") == 1 })

	if _, err := p.Send(context.Background(), "on my way"); err != nil {
		t.Fatal(err)
	}
	h := p.History()
	if len(h) != 1 || h[0].Text != "on my way" {
		t.Fatalf("history right after send = %+v", h)
	}
}

func TestSendRejectsBlankText(t *testing.T) {
	srv := newMemoryServer()
	p := NewPoller(srv, "u1", models.RolePatient, time.Hour)
	p.Open(context.Background(), Conversation{AppointmentID: "apt-42", PeerID: "d1"})
	defer p.Close()

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := p.Send(context.Background(), text); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("Send(%q) err = %v", text, err)
		}
	}
	if len(srv.messages["apt-42"]) != 0 {
		t.Fatal("blank message reached the server")
	}
}

func TestFailedSendNotShown(t *testing.T) {
	srv := newMemoryServer()
	srv.failSend = errors.New("message store unavailable")
	p := NewPoller(srv, "u1", models.RolePatient, time.Hour)
	var reported error
	p.OnError = func(err error) { reported = err }
	p.Open(context.Background(), Conversation{AppointmentID: "apt-42", PeerID: "d1"})
	defer p.Close()
	eventually(t, func() bool { return srv.fetchCount("apt-42") == 1 })

	if _, err := p.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected send error")
	}
	if reported == nil {
		t.Fatal("error not reported")
	}
	if len(p.History()) != 0 {
		t.Fatalf("unsent text displayed: %+v", p.History())
	}
}

func TestSendWithoutConversation(t *testing.T) {
	p := NewPoller(newMemoryServer(), "u1", models.RolePatient, time.Hour)
	if _, err := p.Send(context.Background(), "hello"); !errors.Is(err, ErrNoConversation) {
		t.Fatalf("err = %v", err)
	}
}

func TestSwitchingStopsPreviousConversation(t *testing.T) {
	srv := newMemoryServer()
	p := NewPoller(srv, "u1", models.RolePatient, 5*time.Millisecond)
	ctx := context.Background()

	p.Open(ctx, Conversation{AppointmentID: "apt-A", PeerID: "d1"})
	eventually(t, func() bool { return srv.fetchCount("apt-A") >= 3 })

	p.Open(ctx, Conversation{AppointmentID: "apt-B", PeerID: "d2"})
	defer p.Close()
	frozen := srv.fetchCount("apt-A")

	eventually(t, func() bool { return srv.fetchCount("apt-B") >= 5 })
	if got := srv.fetchCount("apt-A"); got != frozen {
		t.Fatalf("apt-A fetched %d more times after switching", got-frozen)
	}
	if conv, _ := p.Active(); conv.AppointmentID != "apt-B" {
		t.Fatalf("active = %+v", conv)
	}
}

func TestCloseStopsPolling(t *testing.T) {
	srv := newMemoryServer()
	p := NewPoller(srv, "u1", models.RolePatient, 5*time.Millisecond)
	p.Open(context.Background(), Conversation{AppointmentID: "apt-42", PeerID: "d1"})
	eventually(t, func() bool { return srv.fetchCount("apt-42") >= 2 })

	p.Close()
	frozen := srv.fetchCount("apt-42")
	time.Sleep(30 * time.Millisecond)
	if got := srv.fetchCount("apt-42"); got != frozen {
		t.Fatalf("fetched %d times after close", got-frozen)
	}
	p.Close()
}

func TestFailedPollKeepsPolling(t *testing.T) {
	srv := newMemoryServer()
	srv.failNext = 2
	p := NewPoller(srv, "u1", models.RolePatient, 5*time.Millisecond)

	var mu sync.Mutex
	failures := 0
	p.OnError = func(error) {
		mu.Lock()
		failures++
		mu.Unlock()
	}
	p.Open(context.Background(), Conversation{AppointmentID: "apt-42", PeerID: "d1"})
	defer p.Close()

	eventually(t, func() bool { return srv.fetchCount("apt-42") >= 4 })
	mu.Lock()
	defer mu.Unlock()
	if failures != 2 {
		t.Fatalf("failures = %d", failures)
	}
}
