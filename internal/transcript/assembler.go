package transcript

import "sync"

// Update is one transcription event from the speech provider, already
// reduced to the fields the assembler cares about.
type Update struct {
	Text         string
	IsFinal      bool
	SpeakerIndex *int
	Confidence   *float64
	Timestamp    *float64
}

// Assembler folds provider updates into an ordered transcript. Finals
// accumulate with strictly increasing IDs starting at 1. Interim updates
// replace each other; when two arrive close together the last one received
// wins, since the provider's latest hypothesis supersedes earlier ones.
type Assembler struct {
	finals  []Segment
	interim *Segment
	nextID  int

	// Statistics
	interimUpdates  uint64
	interimReplaced uint64

	mu sync.RWMutex
}

// NewAssembler creates an empty assembler
func NewAssembler() *Assembler {
	return &Assembler{nextID: 1}
}

// Apply folds one update into the transcript and returns the resulting
// segment. A final clears the trailing interim; an interim replaces any
// previous interim.
func (a *Assembler) Apply(u Update) Segment {
	a.mu.Lock()
	defer a.mu.Unlock()

	speaker := SpeakerUnknown
	if u.SpeakerIndex != nil {
		speaker = SpeakerFromIndex(*u.SpeakerIndex)
	}

	seg := Segment{
		Speaker:    speaker,
		Text:       u.Text,
		IsFinal:    u.IsFinal,
		Confidence: u.Confidence,
		Timestamp:  u.Timestamp,
	}

	if u.IsFinal {
		seg.ID = a.nextID
		a.nextID++
		a.finals = append(a.finals, seg)
		a.interim = nil
	} else {
		if a.interim != nil {
			a.interimReplaced++
		}
		a.interim = &seg
		a.interimUpdates++
	}

	return seg
}

// Finals returns a copy of the final segments in arrival order
func (a *Assembler) Finals() []Segment {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Segment, len(a.finals))
	copy(out, a.finals)
	return out
}

// Snapshot returns the finals followed by the trailing interim, if any
func (a *Assembler) Snapshot() []Segment {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Segment, len(a.finals), len(a.finals)+1)
	copy(out, a.finals)
	if a.interim != nil {
		out = append(out, *a.interim)
	}
	return out
}

// FinalCount returns how many final segments have been assembled
func (a *Assembler) FinalCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.finals)
}

// CharCount returns the total character count of final segment text
func (a *Assembler) CharCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	total := 0
	for _, seg := range a.finals {
		total += len(seg.Text)
	}
	return total
}

// FullText renders the final transcript as labeled speaker lines
func (a *Assembler) FullText() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return JoinText(a.finals)
}

// Reset discards all assembled segments and starts numbering over
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.finals = nil
	a.interim = nil
	a.nextID = 1
	a.interimUpdates = 0
	a.interimReplaced = 0
}

// Stats contains assembler counters
type Stats struct {
	FinalSegments   int    `json:"final_segments"`
	InterimUpdates  uint64 `json:"interim_updates"`
	InterimReplaced uint64 `json:"interim_replaced"`
	Characters      int    `json:"characters"`
}

// GetStats returns current assembler statistics
func (a *Assembler) GetStats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	chars := 0
	for _, seg := range a.finals {
		chars += len(seg.Text)
	}
	return Stats{
		FinalSegments:   len(a.finals),
		InterimUpdates:  a.interimUpdates,
		InterimReplaced: a.interimReplaced,
		Characters:      chars,
	}
}
