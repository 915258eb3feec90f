// Copyright 2024-2026 Aiku AI

package chat

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
)

// Delivery kinds.
const (
	DeliveryMessage = "message"
	DeliveryTitle   = "title"
	DeliveryNotify  = "notify"
)

// Delivery is one item queued for an actor.
type Delivery struct {
	Kind     string       `json:"kind"`
	Text     string       `json:"text,omitempty"`
	Title    string       `json:"title,omitempty"`
	Subtitle string       `json:"subtitle,omitempty"`
	Timing   *TitleTiming `json:"timing,omitempty"`
	Cue      string       `json:"cue,omitempty"`
	At       time.Time    `json:"at"`
}

// ErrUnknownCue is returned by Mailbox.Notify for cues outside the
// configured set.
var ErrUnknownCue = errors.New("unknown notification cue")

type inbox struct {
	mu    sync.Mutex
	items []Delivery
}

// Mailbox is a Sink that queues deliveries per actor until a host adapter
// drains them. Each inbox keeps at most limit items, dropping the oldest.
type Mailbox struct {
	log   zerolog.Logger
	boxes *exsync.Map[uuid.UUID, *inbox]
	limit int
	cues  map[string]struct{}
}

var _ Sink = (*Mailbox)(nil)

// NewMailbox creates a mailbox. When cues is non-empty, Notify rejects any
// cue not in it.
func NewMailbox(limit int, log zerolog.Logger, cues ...string) *Mailbox {
	if limit <= 0 {
		limit = 256
	}
	mb := &Mailbox{
		log:   log.With().Str("component", "mailbox").Logger(),
		boxes: exsync.NewMap[uuid.UUID, *inbox](),
		limit: limit,
	}
	if len(cues) > 0 {
		mb.cues = make(map[string]struct{}, len(cues))
		for _, c := range cues {
			mb.cues[c] = struct{}{}
		}
	}
	return mb
}

func (mb *Mailbox) push(to Actor, d Delivery) {
	d.At = time.Now()
	box := mb.boxes.GetOrSetFactory(to.ID(), func() *inbox { return &inbox{} })
	box.mu.Lock()
	box.items = append(box.items, d)
	if over := len(box.items) - mb.limit; over > 0 {
		box.items = slices.Delete(box.items, 0, over)
	}
	box.mu.Unlock()
	mb.log.Trace().
		Stringer("actor", to.ID()).
		Str("kind", d.Kind).
		Msg("Queued delivery")
}

func (mb *Mailbox) Deliver(to Actor, text string) {
	mb.push(to, Delivery{Kind: DeliveryMessage, Text: text})
}

func (mb *Mailbox) DeliverTitle(to Actor, title, subtitle string, timing TitleTiming) {
	mb.push(to, Delivery{Kind: DeliveryTitle, Title: title, Subtitle: subtitle, Timing: &timing})
}

func (mb *Mailbox) Notify(to Actor, cue string) error {
	if mb.cues != nil {
		if _, ok := mb.cues[cue]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownCue, cue)
		}
	}
	mb.push(to, Delivery{Kind: DeliveryNotify, Cue: cue})
	return nil
}

// Drain returns and clears actor's queued deliveries.
func (mb *Mailbox) Drain(actor uuid.UUID) []Delivery {
	box, ok := mb.boxes.Get(actor)
	if !ok {
		return nil
	}
	box.mu.Lock()
	items := box.items
	box.items = nil
	box.mu.Unlock()
	return items
}

// Forget drops actor's inbox.
func (mb *Mailbox) Forget(actor uuid.UUID) {
	mb.boxes.Delete(actor)
}
