// Package transport shapes progress reports and contact lists for the
// command surface: bounded-size pages and chunked terminal events.
package transport

import (
	"errors"
	"fmt"
	"sort"

	"github.com/eliteGoblin/connprune/internal/domain"
)

// DefaultThreshold is the largest contact list sent in a single message.
const DefaultThreshold = 500

var (
	ErrIncomplete   = errors.New("incomplete chunk set")
	ErrInconsistent = errors.New("inconsistent chunk set")
)

// Page is one ordered slice of a larger result.
type Page[T any] struct {
	Index int `json:"chunkIndex"`
	Total int `json:"totalChunks"`
	Items []T `json:"items"`
}

// Paginate splits items into ordered pages of at most size items.
// An empty input yields a single empty page; size <= 0 yields one page.
func Paginate[T any](items []T, size int) []Page[T] {
	if size <= 0 || len(items) <= size {
		return []Page[T]{{Index: 0, Total: 1, Items: items}}
	}

	total := (len(items) + size - 1) / size
	pages := make([]Page[T], 0, total)
	for i := 0; i < total; i++ {
		end := min((i+1)*size, len(items))
		pages = append(pages, Page[T]{Index: i, Total: total, Items: items[i*size : end]})
	}
	return pages
}

// Reassemble concatenates pages ordered by index. Every index 0..Total-1 must
// be present exactly once and all pages must agree on Total.
func Reassemble[T any](pages []Page[T]) ([]T, error) {
	if len(pages) == 0 {
		return nil, ErrIncomplete
	}

	total := pages[0].Total
	sorted := make([]Page[T], len(pages))
	copy(sorted, pages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	var out []T
	for i, p := range sorted {
		if p.Total != total {
			return nil, fmt.Errorf("%w: page %d reports %d chunks, expected %d", ErrInconsistent, p.Index, p.Total, total)
		}
		if p.Index != i {
			if p.Index < i {
				return nil, fmt.Errorf("%w: duplicate chunk %d", ErrInconsistent, p.Index)
			}
			return nil, fmt.Errorf("%w: missing chunk %d", ErrIncomplete, i)
		}
		out = append(out, p.Items...)
	}
	if len(sorted) != total {
		return nil, fmt.Errorf("%w: have %d of %d chunks", ErrIncomplete, len(sorted), total)
	}
	return out, nil
}

// Event is the wire form of a Bulk Loader progress report.
type Event struct {
	Progress      int              `json:"progress"`
	Message       string           `json:"message"`
	ContactsSoFar int              `json:"contactsSoFar"`
	Contacts      []domain.Contact `json:"contacts"`
	Done          bool             `json:"done"`
	ChunkIndex    *int             `json:"chunkIndex,omitempty"`
	TotalChunks   *int             `json:"totalChunks,omitempty"`
}

// Chunked reports whether e is part of a chunked terminal report.
func (e Event) Chunked() bool {
	return e.ChunkIndex != nil && e.TotalChunks != nil
}

// Frames converts p into the events sent to subscribers.
// Lists up to threshold travel whole. Larger intermediate reports carry the
// count only; a larger terminal report is split into ordered chunks with done
// set on the last one.
func Frames(p domain.Progress, threshold int) []Event {
	n := len(p.Contacts)
	base := Event{
		Progress:      p.Percent,
		Message:       p.Message,
		ContactsSoFar: n,
		Contacts:      p.Contacts,
		Done:          p.Done,
	}
	if base.Contacts == nil {
		base.Contacts = []domain.Contact{}
	}

	if threshold <= 0 || n <= threshold {
		return []Event{base}
	}
	if !p.Done {
		base.Contacts = []domain.Contact{}
		return []Event{base}
	}

	pages := Paginate(p.Contacts, threshold)
	events := make([]Event, 0, len(pages))
	for _, page := range pages {
		index, total := page.Index, page.Total
		e := Event{
			Progress:      p.Percent,
			Message:       p.Message,
			ContactsSoFar: n,
			Contacts:      page.Items,
			ChunkIndex:    &index,
			TotalChunks:   &total,
		}
		if index == total-1 {
			e.Done = true
		} else {
			e.Progress = min(99, p.Percent)
			e.Message = fmt.Sprintf("%s (sending chunk %d/%d)", p.Message, index+1, total)
		}
		events = append(events, e)
	}
	return events
}

// Assembler rebuilds a terminal report from a stream of events.
type Assembler struct {
	pages []Page[domain.Contact]
}

// Add consumes one event. It returns the complete contact list once the
// terminal event (or the last chunk of a chunked one) has arrived.
func (a *Assembler) Add(e Event) ([]domain.Contact, bool, error) {
	if !e.Chunked() {
		if !e.Done {
			return nil, false, nil
		}
		a.pages = nil
		return e.Contacts, true, nil
	}

	a.pages = append(a.pages, Page[domain.Contact]{
		Index: *e.ChunkIndex,
		Total: *e.TotalChunks,
		Items: e.Contacts,
	})
	if len(a.pages) < *e.TotalChunks {
		return nil, false, nil
	}

	contacts, err := Reassemble(a.pages)
	a.pages = nil
	if err != nil {
		return nil, false, err
	}
	return contacts, true, nil
}
