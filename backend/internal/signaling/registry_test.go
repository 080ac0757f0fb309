package signaling

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
)

type fakeHandle string

func (f fakeHandle) ID() string { return string(f) }

func TestJoinIsIdempotent(t *testing.T) {
	r := NewRegistry(PolicyReject)

	if _, err := r.Join("apt-1", fakeHandle("a"), "u1"); err != nil {
		t.Fatal(err)
	}
	res, err := r.Join("apt-1", fakeHandle("a"), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.AlreadyMember {
		t.Fatal("expected second join to report AlreadyMember")
	}
	if got := r.Size("apt-1"); got != 1 {
		t.Fatalf("expected 1 member, got %d", got)
	}
}

func TestJoinRequiresAppointment(t *testing.T) {
	r := NewRegistry(PolicyReject)
	if _, err := r.Join("", fakeHandle("a"), ""); !errors.Is(err, ErrInvalidRoom) {
		t.Fatalf("expected ErrInvalidRoom, got %v", err)
	}
}

func TestLeaveDeletesEmptyRoom(t *testing.T) {
	r := NewRegistry(PolicyReject)
	r.Join("apt-1", fakeHandle("a"), "")
	r.Join("apt-1", fakeHandle("b"), "")

	if !r.Leave("apt-1", fakeHandle("a")) {
		t.Fatal("expected a to be removed")
	}
	if r.Leave("apt-1", fakeHandle("a")) {
		t.Fatal("second leave should report false")
	}
	if r.Len() != 1 {
		t.Fatalf("room should survive with one member, rooms=%d", r.Len())
	}
	r.Leave("apt-1", fakeHandle("b"))
	if r.Len() != 0 {
		t.Fatalf("empty room should be collected, rooms=%d", r.Len())
	}
	if _, ok := r.RoomOf(fakeHandle("b")); ok {
		t.Fatal("b should not be bound anymore")
	}
}

func TestMembersExcept(t *testing.T) {
	r := NewRegistry(PolicyReject)
	r.Join("apt-1", fakeHandle("a"), "")

	if got := r.MembersExcept("apt-1", fakeHandle("a")); len(got) != 0 {
		t.Fatalf("expected no other members, got %v", got)
	}

	r.Join("apt-1", fakeHandle("b"), "")
	got := r.MembersExcept("apt-1", fakeHandle("a"))
	if len(got) != 1 || got[0].ID() != "b" {
		t.Fatalf("expected [b], got %v", got)
	}
	if got := r.MembersExcept("missing", fakeHandle("a")); got != nil {
		t.Fatalf("expected nil for unknown room, got %v", got)
	}
}

func TestThirdJoinRejected(t *testing.T) {
	r := NewRegistry(PolicyReject)
	r.Join("apt-1", fakeHandle("a"), "u1")
	r.Join("apt-1", fakeHandle("b"), "d1")

	_, err := r.Join("apt-1", fakeHandle("c"), "u2")
	if !errors.Is(err, ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
	if r.Size("apt-1") != 2 {
		t.Fatalf("membership changed on rejected join: %d", r.Size("apt-1"))
	}
	if _, ok := r.RoomOf(fakeHandle("c")); ok {
		t.Fatal("rejected handle must not be bound")
	}
}

func TestRejectedJoinKeepsPreviousRoom(t *testing.T) {
	r := NewRegistry(PolicyReject)
	r.Join("apt-1", fakeHandle("a"), "")
	r.Join("apt-1", fakeHandle("b"), "")
	r.Join("apt-2", fakeHandle("c"), "")

	if _, err := r.Join("apt-1", fakeHandle("c"), ""); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
	if room, _ := r.RoomOf(fakeHandle("c")); room != "apt-2" {
		t.Fatalf("expected c to stay in apt-2, got %q", room)
	}
}

func TestThirdJoinEvictsOldest(t *testing.T) {
	r := NewRegistry(PolicyEvict)
	r.Join("apt-1", fakeHandle("a"), "u1")
	r.Join("apt-1", fakeHandle("b"), "d1")

	res, err := r.Join("apt-1", fakeHandle("c"), "u2")
	if err != nil {
		t.Fatal(err)
	}
	if res.Evicted == nil || res.Evicted.ID() != "a" {
		t.Fatalf("expected a evicted, got %v", res.Evicted)
	}
	if r.Size("apt-1") != 2 {
		t.Fatalf("expected 2 members, got %d", r.Size("apt-1"))
	}
	if _, ok := r.RoomOf(fakeHandle("a")); ok {
		t.Fatal("evicted handle still bound")
	}
}

func TestRebindReplacesGhostHandle(t *testing.T) {
	for _, policy := range []FullRoomPolicy{PolicyReject, PolicyEvict} {
		t.Run(string(policy), func(t *testing.T) {
			r := NewRegistry(policy)
			r.Join("apt-1", fakeHandle("a"), "u1")
			r.Join("apt-1", fakeHandle("b"), "d1")

			// u1 reconnects on a new socket before the old one timed out.
			res, err := r.Join("apt-1", fakeHandle("a2"), "u1")
			if err != nil {
				t.Fatal(err)
			}
			if res.Replaced == nil || res.Replaced.ID() != "a" {
				t.Fatalf("expected ghost a replaced, got %v", res.Replaced)
			}
			if res.Evicted != nil {
				t.Fatalf("rebind must not evict, got %v", res.Evicted)
			}
			peers := r.MembersExcept("apt-1", fakeHandle("a2"))
			if len(peers) != 1 || peers[0].ID() != "b" {
				t.Fatalf("expected [b], got %v", peers)
			}
		})
	}
}

func TestJoinOtherRoomLeavesPrevious(t *testing.T) {
	r := NewRegistry(PolicyReject)
	r.Join("apt-1", fakeHandle("a"), "")

	res, err := r.Join("apt-2", fakeHandle("a"), "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Left != "apt-1" {
		t.Fatalf("expected Left=apt-1, got %q", res.Left)
	}
	if r.Size("apt-1") != 0 || r.Size("apt-2") != 1 {
		t.Fatalf("unexpected sizes apt-1=%d apt-2=%d", r.Size("apt-1"), r.Size("apt-2"))
	}
}

func TestLeaveAll(t *testing.T) {
	r := NewRegistry(PolicyReject)
	r.Join("apt-1", fakeHandle("a"), "")
	r.Join("apt-1", fakeHandle("b"), "")

	left := r.LeaveAll(fakeHandle("a"))
	if len(left) != 1 || left[0] != "apt-1" {
		t.Fatalf("expected [apt-1], got %v", left)
	}
	if left := r.LeaveAll(fakeHandle("a")); len(left) != 0 {
		t.Fatalf("expected nothing on second LeaveAll, got %v", left)
	}
}

func TestSnapshot(t *testing.T) {
	r := NewRegistry(PolicyReject)
	r.Join("apt-2", fakeHandle("c"), "u2")
	r.Join("apt-1", fakeHandle("a"), "u1")
	r.Join("apt-1", fakeHandle("b"), "d1")

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(snap))
	}
	if snap[0].AppointmentID != "apt-1" || snap[0].Members != 2 {
		t.Fatalf("unexpected first room %+v", snap[0])
	}
	if snap[0].Participants[0] != "u1" || snap[0].Participants[1] != "d1" {
		t.Fatalf("participants not in join order: %v", snap[0].Participants)
	}
}

// Randomized concurrent join/leave never observes a room above capacity.
func TestMembershipNeverExceedsTwo(t *testing.T) {
	for _, policy := range []FullRoomPolicy{PolicyReject, PolicyEvict} {
		t.Run(string(policy), func(t *testing.T) {
			r := NewRegistry(policy)
			rooms := []string{"apt-1", "apt-2", "apt-3"}

			stop := make(chan struct{})
			violations := make(chan string, 1)
			var observer sync.WaitGroup
			observer.Add(1)
			go func() {
				defer observer.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					for _, info := range r.Snapshot() {
						if info.Members > MaxRoomSize {
							select {
							case violations <- fmt.Sprintf("%s has %d members", info.AppointmentID, info.Members):
							default:
							}
						}
					}
				}
			}()

			var wg sync.WaitGroup
			for w := 0; w < 16; w++ {
				wg.Add(1)
				go func(seed int64) {
					defer wg.Done()
					rng := rand.New(rand.NewSource(seed))
					for i := 0; i < 500; i++ {
						h := fakeHandle(fmt.Sprintf("h%d", rng.Intn(12)))
						room := rooms[rng.Intn(len(rooms))]
						participant := fmt.Sprintf("p%d", rng.Intn(6))
						switch rng.Intn(3) {
						case 0, 1:
							r.Join(room, h, participant)
						default:
							r.Leave(room, h)
						}
						if n := r.Size(room); n > MaxRoomSize {
							select {
							case violations <- fmt.Sprintf("%s has %d members", room, n):
							default:
							}
						}
					}
				}(int64(w))
			}
			wg.Wait()
			close(stop)
			observer.Wait()

			select {
			case v := <-violations:
				t.Fatal(v)
			default:
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    FullRoomPolicy
		wantErr bool
	}{
		{"", PolicyReject, false},
		{"reject", PolicyReject, false},
		{"evict", PolicyEvict, false},
		{"queue", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParsePolicy(%q) err=%v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParsePolicy(%q)=%q, want %q", tt.in, got, tt.want)
		}
	}
}
