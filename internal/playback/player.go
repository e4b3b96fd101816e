// Package playback implements the step cursor that walks a corridor's
// message sequence, manually or on a timer.
package playback

import (
	"fmt"

	"github.com/deltran/corridorsim/internal/types"
)

// LengthFunc reports the length of the active step sequence. It is called on
// every transition so the player never acts on a stale length.
type LengthFunc func() int

// Snapshot is a serializable view of the player state
type Snapshot struct {
	Cursor   int  `json:"cursor"`
	Playing  bool `json:"playing"`
	Length   int  `json:"length"`
	Complete bool `json:"complete"`
}

// Player is the cursor state machine. Cursor -1 means not started.
// It is not safe for concurrent use; Driver serializes access.
type Player struct {
	cursor  int
	playing bool
	length  LengthFunc
}

// NewPlayer creates a player at cursor -1
func NewPlayer(length LengthFunc) *Player {
	if length == nil {
		length = func() int { return 0 }
	}
	return &Player{cursor: -1, length: length}
}

// Fixed returns a LengthFunc for a sequence of known length
func Fixed(n int) LengthFunc {
	return func() int { return n }
}

// Cursor returns the index of the active step, or -1
func (p *Player) Cursor() int { return p.cursor }

// Playing reports whether autoplay is on
func (p *Player) Playing() bool { return p.playing }

// Len returns the current sequence length
func (p *Player) Len() int { return p.length() }

// Next advances one step. At the last step it stops autoplay and leaves the
// cursor where it is.
func (p *Player) Next() {
	n := p.length()
	if p.cursor < n-1 {
		p.cursor++
		return
	}
	p.playing = false
}

// Prev moves back one step, stopping at -1
func (p *Player) Prev() {
	if p.cursor > -1 {
		p.cursor--
	}
}

// Reset returns to the not-started state
func (p *Player) Reset() {
	p.cursor = -1
	p.playing = false
}

// TogglePlay starts or pauses autoplay. From the last step it replays from the
// first step; from the not-started state it shows the first step immediately.
func (p *Player) TogglePlay() {
	n := p.length()
	if n == 0 {
		p.playing = false
		return
	}
	if p.cursor >= n-1 {
		p.cursor = 0
		p.playing = true
		return
	}
	if p.cursor == -1 {
		p.cursor = 0
	}
	p.playing = !p.playing
}

// JumpTo moves the cursor to step index i and pauses. An index outside the
// sequence is rejected and the state is left unchanged.
func (p *Player) JumpTo(i int) error {
	n := p.length()
	if i < 0 || i >= n {
		return types.NewError(types.ErrorCodeInvalidSelection, "step index out of range", fmt.Sprintf("%d not in [0,%d)", i, n))
	}
	p.cursor = i
	p.playing = false
	return nil
}

// Restart points the player at a new sequence and resets it
func (p *Player) Restart(length LengthFunc) {
	if length != nil {
		p.length = length
	}
	p.Reset()
}

// CheckState reports whether cursor and playing form a reachable state for a
// sequence of n steps. Autoplay only runs with a step shown and a step left.
func CheckState(n, cursor int, playing bool) error {
	if cursor < -1 || cursor >= n {
		return types.NewError(types.ErrorCodeInvalidSelection, "cursor out of range", fmt.Sprintf("%d not in [-1,%d)", cursor, n))
	}
	if playing && (cursor < 0 || cursor >= n-1) {
		return types.NewError(types.ErrorCodeInvalidSelection, "cannot be playing at this step", fmt.Sprintf("cursor %d of %d", cursor, n))
	}
	return nil
}

// Restore sets cursor and playing from a saved snapshot. A state the player
// could not have reached is rejected and the player is left unchanged.
func (p *Player) Restore(cursor int, playing bool) error {
	if err := CheckState(p.length(), cursor, playing); err != nil {
		return err
	}
	p.cursor = cursor
	p.playing = playing
	return nil
}

// StatusOf classifies step index i relative to the cursor
func (p *Player) StatusOf(i int) types.StepStatus {
	switch {
	case i < p.cursor:
		return types.StepCompleted
	case i == p.cursor:
		return types.StepActive
	default:
		return types.StepPending
	}
}

// Completed returns the indices of the completed steps
func (p *Player) Completed() []int {
	n := p.length()
	out := []int{}
	for i := 0; i < p.cursor && i < n; i++ {
		out = append(out, i)
	}
	return out
}

// Active returns the active step index, if any
func (p *Player) Active() (int, bool) {
	if p.cursor < 0 || p.cursor >= p.length() {
		return -1, false
	}
	return p.cursor, true
}

// IsComplete reports whether the cursor has reached the last step
func (p *Player) IsComplete() bool {
	return p.cursor >= p.length()-1
}

// Snapshot returns the current state
func (p *Player) Snapshot() Snapshot {
	n := p.length()
	return Snapshot{
		Cursor:   p.cursor,
		Playing:  p.playing,
		Length:   n,
		Complete: p.cursor >= n-1,
	}
}
