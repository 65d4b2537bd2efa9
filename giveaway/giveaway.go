// Package giveaway runs the giveaway lifecycle: creation, entry, timed
// warnings, the final countdown, the winner draw and cancellation.
package giveaway

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status of a giveaway. ENDED and CANCELLED are terminal.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCountdown Status = "COUNTDOWN"
	StatusEnded     Status = "ENDED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusEnded || s == StatusCancelled }

var (
	ErrNotFound        = errors.New("giveaway not found")
	ErrNotActive       = errors.New("giveaway not active")
	ErrNotEnded        = errors.New("giveaway has not ended")
	ErrNoEndTime       = errors.New("giveaway has no auto-end time")
	ErrReservedCommand = errors.New("entry command is reserved")
	ErrInvalidCommand  = errors.New("entry command must start with !")
	ErrInvalidParams   = errors.New("invalid giveaway parameters")
	ErrAlreadyEntered  = errors.New("already entered")
	ErrNotEligible     = errors.New("not eligible")
	ErrNotWhitelisted  = errors.New("not whitelisted")
)

// CommandPrefix marks chat commands.
const CommandPrefix = "!"

// Reserved lists the built-in commands a giveaway may not use as its entry.
var Reserved = map[string]struct{}{
	"!addadmin": {}, "!removeadmin": {}, "!creategiveaway": {}, "!endgiveaway": {},
	"!cancelgiveaway": {}, "!timeleft": {}, "!winners": {}, "!rank": {}, "!level": {},
	"!quit": {}, "!exit": {}, "!shutdown": {}, "!createprizelist": {}, "!blacklist": {},
	"!kill": {},
}

// IsReserved reports whether cmd collides with a built-in command.
func IsReserved(cmd string) bool {
	_, ok := Reserved[strings.ToLower(cmd)]
	return ok
}

// Entrant is a user who entered a giveaway.
type Entrant struct {
	Key       string    `json:"key"`
	Name      string    `json:"name,omitempty"`
	EnteredAt time.Time `json:"entered_at"`
}

// Label is the display name, falling back to the key.
func (e Entrant) Label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Key
}

// Winner is a drawn entrant and the prize it received, if any.
type Winner struct {
	Key      string `json:"key"`
	Name     string `json:"name,omitempty"`
	Prize    string `json:"prize,omitempty"`
	HasPrize bool   `json:"has_prize"`
}

// Label is the display name, falling back to the key.
func (w Winner) Label() string {
	if w.Name != "" {
		return w.Name
	}
	return w.Key
}

// Giveaway is one giveaway keyed by its entry command.
type Giveaway struct {
	ID          uuid.UUID
	Name        string
	EntryCmd    string
	Creator     string
	CreatedAt   time.Time
	EndAt       *time.Time
	EndedAt     *time.Time
	Whitelist   string
	Whitelisted []string
	PrizeList   string
	NumWinners  int
	MinLevel    int
	Entrants    []Entrant
	Winners     []Winner
	Status      Status
	// WarnedFor holds the warning thresholds (minutes) already announced.
	WarnedFor     []int
	LastCountdown int
}

func (g *Giveaway) hasEntrant(key string) bool {
	for _, e := range g.Entrants {
		if e.Key == key {
			return true
		}
	}
	return false
}

func (g *Giveaway) warned(minutes int) bool {
	for _, m := range g.WarnedFor {
		if m == minutes {
			return true
		}
	}
	return false
}

func (g *Giveaway) clone() Giveaway {
	c := *g
	if g.EndAt != nil {
		t := *g.EndAt
		c.EndAt = &t
	}
	if g.EndedAt != nil {
		t := *g.EndedAt
		c.EndedAt = &t
	}
	c.Whitelisted = append([]string(nil), g.Whitelisted...)
	c.Entrants = append([]Entrant(nil), g.Entrants...)
	c.Winners = append([]Winner(nil), g.Winners...)
	c.WarnedFor = append([]int(nil), g.WarnedFor...)
	return c
}

// CreateParams are the admin-supplied fields of a new giveaway.
type CreateParams struct {
	Name     string
	EntryCmd string
	Creator  string
	// Duration of zero means no auto-end.
	Duration   time.Duration
	Whitelist  string
	PrizeList  string
	NumWinners int
	MinLevel   int
}
