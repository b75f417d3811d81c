package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tangaudio/tang"
)

// ChannelCapacity is the capacity of every broker channel. The control thread
// is expected to stay far below it; hitting it on the audio side means
// acknowledgements get dropped.
const ChannelCapacity = 1024

type (
	// Broker is the set of channels between the control thread, the MIDI
	// input threads and the audio thread. The audio thread only ever reads
	// ToEngine and MIDI and only ever writes ToModel, all without blocking.
	Broker struct {
		ToEngine chan Command
		ToModel  chan MsgToModel
		MIDI     chan tang.MIDIEvent

		midiDropped  atomic.Uint64
		modelDropped atomic.Uint64
	}

	// MsgToModel is a message from the audio thread to the control thread.
	// Which fields are set depends on Kind. No field is allocated by the
	// audio thread: plugins, graphs and pattern events are handed back, and
	// errors are package level values.
	MsgToModel struct {
		Kind     MsgKind
		Plugin   tang.Plugin
		Graph    *Graph
		Keyboard int
		Split    int
		Slot     int
		Events   []tang.PatternEvent
		BaseNote int
		Command  Command
		Err      error
	}

	MsgKind int
)

const (
	// MsgReturned hands a displaced plugin back for closing.
	MsgReturned MsgKind = iota + 1
	// MsgReturnedGraph hands a whole displaced graph back.
	MsgReturnedGraph
	// MsgRejected reports a command the engine could not apply.
	MsgRejected
	// MsgProcessFailed reports the first failing buffer of a slot.
	MsgProcessFailed
	// MsgPatternRecorded carries the events of a finished recording.
	MsgPatternRecorded
)

func NewBroker() *Broker {
	return &Broker{
		ToEngine: make(chan Command, ChannelCapacity),
		ToModel:  make(chan MsgToModel, ChannelCapacity),
		MIDI:     make(chan tang.MIDIEvent, ChannelCapacity),
	}
}

// PushMIDI queues an event for the next buffer. It never blocks; when the
// queue is full the event is dropped and counted.
func (b *Broker) PushMIDI(e tang.MIDIEvent) bool {
	if TrySend(b.MIDI, e) {
		return true
	}
	b.midiDropped.Add(1)
	return false
}

// MIDIDropped is the number of MIDI events dropped because the queue was
// full.
func (b *Broker) MIDIDropped() uint64 { return b.midiDropped.Load() }

// ModelDropped is the number of messages the audio thread could not deliver
// to the control thread.
func (b *Broker) ModelDropped() uint64 { return b.modelDropped.Load() }

// toModel sends without blocking and counts the message if it is dropped.
func (b *Broker) toModel(msg MsgToModel) bool {
	if TrySend(b.ToModel, msg) {
		return true
	}
	b.modelDropped.Add(1)
	return false
}

// Send queues a command for the audio thread, blocking while the channel is
// full. If ctx ends first, a *tang.ChannelError is returned.
func (b *Broker) Send(ctx context.Context, c Command) error {
	select {
	case b.ToEngine <- c:
		return nil
	case <-ctx.Done():
		return &tang.ChannelError{Op: commandName(c)}
	}
}

// TrySend is a helper function to send a value to a channel if it is not full.
// It is guaranteed to be non-blocking. Return true if the value was sent, false
// otherwise.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
	default:
		return false
	}
	return true
}

// TimeoutReceive is a helper function to block until a value is received from a
// channel, or timing out after t. ok will be false if the timeout occurred or
// if the channel is closed.
func TimeoutReceive[T any](c <-chan T, t time.Duration) (v T, ok bool) {
	select {
	case v, ok = <-c:
		return v, ok
	case <-time.After(t):
		return v, false
	}
}
