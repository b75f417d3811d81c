package engine

import (
	"github.com/tangaudio/tang"
)

// route distributes the live events of one block to the splits of kb. Notes
// and polyphonic pressure go to every split whose range contains the note,
// transposed by the split; control changes, pitch bend and channel pressure
// go to every split. Other messages are dropped.
func (kb *Keyboard) route(events []tang.MIDIEvent) {
	for _, sp := range kb.Splits {
		sp.in = sp.in[:0]
		for _, e := range sp.inject {
			sp.in = appendEvent(sp.in, e)
		}
		sp.inject = sp.inject[:0]
	}
	for _, e := range events {
		if kb.Channel > 0 && int(e.Channel()) != kb.Channel-1 {
			continue
		}
		switch {
		case e.IsNote() || e.Kind() == tang.StatusPolyPressure:
			for _, sp := range kb.Splits {
				if !sp.Range.Contains(e.Note()) {
					continue
				}
				n := int(e.Note()) + sp.Transpose
				if n < 0 || n > 127 {
					continue
				}
				t := e
				t.Data[1] = byte(n)
				sp.in = appendEvent(sp.in, t)
			}
		case e.IsBroadcast():
			for _, sp := range kb.Splits {
				sp.in = appendEvent(sp.in, e)
			}
		}
	}
}

// update tracks the notes held on the split from the events the instrument
// receives in this block. The noteOn and release flags stay set until the
// block has been rendered.
func (g *gate) update(events []tang.MIDIEvent) {
	for _, e := range events {
		n := e.Note() & 0x7f
		switch {
		case e.IsNoteOn():
			if g.held[n] < 255 {
				g.held[n]++
				g.count++
			}
			g.channel[n] = e.Channel()
			g.noteOn = true
		case e.IsNoteOff():
			if g.held[n] > 0 {
				g.held[n]--
				g.count--
				if g.count == 0 {
					g.release = true
				}
			}
		}
	}
}

// notesOff queues a note-off for every held note and every note a pattern
// left sounding, to be sent before anything else in the next buffer. It is
// used whenever an edit would otherwise leave notes hanging.
func (sp *Split) notesOff() {
	for n, c := range sp.gate.held {
		if c > 0 {
			sp.flush = appendEvent(sp.flush, tang.NoteOff(sp.gate.channel[n], byte(n), 0))
		}
	}
	if sp.Pattern != nil {
		sp.flush = sp.Pattern.stop(sp.flush)
	}
	if sp.gate.count > 0 {
		sp.gate.release = true
	}
	sp.gate.held = [128]uint8{}
	sp.gate.count = 0
}
