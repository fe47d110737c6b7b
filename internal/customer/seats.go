package customer

import (
	"fmt"

	"github.com/roach88/cafesync/internal/fault"
)

// Position places a seat in the room. The core never interprets it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Seat is an exclusively assignable resource.
type Seat struct {
	ID       string   `json:"id"`
	Position Position `json:"position"`
	Occupant string   `json:"occupant,omitempty"`
}

// SeatPool hands out seats one occupant at a time. It is not safe for
// concurrent use; the authority owns it.
type SeatPool struct {
	seats     []*Seat
	byID      map[string]*Seat
	bySession map[string]*Seat
}

// GridSeats lays out n seats in rows of four.
func GridSeats(n int) []Seat {
	seats := make([]Seat, n)
	for i := range seats {
		seats[i] = Seat{
			ID:       fmt.Sprintf("seat-%d", i+1),
			Position: Position{X: float64(i%4) * 2, Y: float64(i/4) * 2},
		}
	}
	return seats
}

// NewSeatPool builds a pool of free seats.
func NewSeatPool(seats []Seat) (*SeatPool, error) {
	p := &SeatPool{
		byID:      make(map[string]*Seat, len(seats)),
		bySession: make(map[string]*Seat),
	}
	for _, s := range seats {
		if s.ID == "" {
			return nil, fault.Validation("seat id is required")
		}
		if _, dup := p.byID[s.ID]; dup {
			return nil, fault.Validation("duplicate seat id %q", s.ID)
		}
		seat := &Seat{ID: s.ID, Position: s.Position}
		p.seats = append(p.seats, seat)
		p.byID[s.ID] = seat
	}
	return p, nil
}

// Claim gives seatID to sessionID. It fails if the seat is taken or the
// session already holds a seat.
func (p *SeatPool) Claim(seatID, sessionID string) error {
	seat, ok := p.byID[seatID]
	if !ok {
		return fault.NotFound("seat", seatID)
	}
	if seat.Occupant != "" {
		return fault.InvalidState("seat", seatID, "occupied by %s", seat.Occupant)
	}
	if held, ok := p.bySession[sessionID]; ok {
		return fault.InvalidState("session", sessionID, "already holds %s", held.ID)
	}
	seat.Occupant = sessionID
	p.bySession[sessionID] = seat
	return nil
}

// ClaimFirstFree gives the first free seat, in pool order, to sessionID.
func (p *SeatPool) ClaimFirstFree(sessionID string) (Seat, bool) {
	if _, ok := p.bySession[sessionID]; ok {
		return Seat{}, false
	}
	for _, seat := range p.seats {
		if seat.Occupant == "" {
			seat.Occupant = sessionID
			p.bySession[sessionID] = seat
			return *seat, true
		}
	}
	return Seat{}, false
}

// Release frees whatever seat sessionID holds.
func (p *SeatPool) Release(sessionID string) (string, bool) {
	seat, ok := p.bySession[sessionID]
	if !ok {
		return "", false
	}
	seat.Occupant = ""
	delete(p.bySession, sessionID)
	return seat.ID, true
}

// SeatOf returns the seat held by sessionID.
func (p *SeatPool) SeatOf(sessionID string) (string, bool) {
	seat, ok := p.bySession[sessionID]
	if !ok {
		return "", false
	}
	return seat.ID, true
}

// Free counts unoccupied seats.
func (p *SeatPool) Free() int {
	return len(p.seats) - len(p.bySession)
}

// Len counts all seats.
func (p *SeatPool) Len() int {
	return len(p.seats)
}

// Seats returns a copy of every seat in pool order.
func (p *SeatPool) Seats() []Seat {
	out := make([]Seat, len(p.seats))
	for i, s := range p.seats {
		out[i] = *s
	}
	return out
}
