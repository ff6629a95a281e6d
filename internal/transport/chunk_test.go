package transport

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/connprune/internal/domain"
)

func makeContacts(n int) []domain.Contact {
	out := make([]domain.Contact, n)
	for i := range out {
		out[i] = domain.Contact{ID: fmt.Sprintf("%d", i), DisplayName: fmt.Sprintf("Contact %d", i)}
	}
	return out
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		name      string
		n, size   int
		wantPages int
		wantLast  int
	}{
		{"empty", 0, 500, 1, 0},
		{"below size", 10, 500, 1, 10},
		{"exact size", 500, 500, 1, 500},
		{"one over", 501, 500, 2, 1},
		{"three pages", 1250, 500, 3, 250},
		{"no size", 1250, 0, 1, 1250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pages := Paginate(makeContacts(tt.n), tt.size)
			require.Len(t, pages, tt.wantPages)
			for i, p := range pages {
				assert.Equal(t, i, p.Index)
				assert.Equal(t, tt.wantPages, p.Total)
			}
			assert.Len(t, pages[len(pages)-1].Items, tt.wantLast)
		})
	}
}

// TestReassemble reproduces the full set from chunks in any order
func TestReassemble(t *testing.T) {
	items := makeContacts(1234)
	pages := Paginate(items, 500)

	shuffled := []Page[domain.Contact]{pages[2], pages[0], pages[1]}
	got, err := Reassemble(shuffled)
	require.NoError(t, err)
	assert.Equal(t, items, got)

	seen := map[string]bool{}
	for _, c := range got {
		assert.False(t, seen[c.ID])
		seen[c.ID] = true
	}
	assert.Len(t, seen, 1234)
}

func TestReassemble_Errors(t *testing.T) {
	pages := Paginate(makeContacts(1234), 500)

	tests := []struct {
		name    string
		pages   []Page[domain.Contact]
		wantErr error
	}{
		{"no pages", nil, ErrIncomplete},
		{"missing middle", []Page[domain.Contact]{pages[0], pages[2]}, ErrIncomplete},
		{"missing tail", []Page[domain.Contact]{pages[0], pages[1]}, ErrIncomplete},
		{"duplicate", []Page[domain.Contact]{pages[0], pages[0], pages[1]}, ErrInconsistent},
		{"mixed totals", []Page[domain.Contact]{pages[0], {Index: 1, Total: 2}}, ErrInconsistent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Reassemble(tt.pages)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestFrames(t *testing.T) {
	t.Run("small list travels whole", func(t *testing.T) {
		events := Frames(domain.Progress{Percent: 40, Message: "Loaded", Contacts: makeContacts(20)}, 500)
		require.Len(t, events, 1)
		assert.Len(t, events[0].Contacts, 20)
		assert.Equal(t, 20, events[0].ContactsSoFar)
		assert.False(t, events[0].Chunked())
	})

	t.Run("large intermediate carries count only", func(t *testing.T) {
		events := Frames(domain.Progress{Percent: 60, Message: "Loaded", Contacts: makeContacts(600)}, 500)
		require.Len(t, events, 1)
		assert.Empty(t, events[0].Contacts)
		assert.NotNil(t, events[0].Contacts)
		assert.Equal(t, 600, events[0].ContactsSoFar)
		assert.False(t, events[0].Done)
	})

	t.Run("large terminal is chunked", func(t *testing.T) {
		p := domain.Progress{Percent: 100, Message: "Completed! Found 1100 contacts.", Contacts: makeContacts(1100), Done: true}
		events := Frames(p, 500)
		require.Len(t, events, 3)

		for i, e := range events {
			require.True(t, e.Chunked())
			assert.Equal(t, i, *e.ChunkIndex)
			assert.Equal(t, 3, *e.TotalChunks)
			assert.Equal(t, 1100, e.ContactsSoFar)
		}
		assert.False(t, events[0].Done)
		assert.Equal(t, 99, events[0].Progress)
		assert.Equal(t, "Completed! Found 1100 contacts. (sending chunk 1/3)", events[0].Message)
		assert.False(t, events[1].Done)
		assert.True(t, events[2].Done)
		assert.Equal(t, 100, events[2].Progress)
		assert.Equal(t, p.Message, events[2].Message)
	})

	t.Run("nil contacts encode as empty list", func(t *testing.T) {
		events := Frames(domain.Progress{Message: "Starting"}, 500)
		data, err := json.Marshal(events[0])
		require.NoError(t, err)
		assert.JSONEq(t, `{"progress":0,"message":"Starting","contactsSoFar":0,"contacts":[],"done":false}`, string(data))
	})
}

// TestAssembler rebuilds a chunked terminal report delivered out of order
func TestAssembler(t *testing.T) {
	contacts := makeContacts(1001)
	events := Frames(domain.Progress{Percent: 100, Message: "done", Contacts: contacts, Done: true}, 500)
	require.Len(t, events, 3)

	var a Assembler
	_, complete, err := a.Add(Event{Message: "Loaded", ContactsSoFar: 10})
	require.NoError(t, err)
	assert.False(t, complete)

	for _, i := range []int{1, 0} {
		_, complete, err = a.Add(events[i])
		require.NoError(t, err)
		assert.False(t, complete)
	}
	got, complete, err := a.Add(events[2])
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Equal(t, contacts, got)

	small := Frames(domain.Progress{Percent: 100, Message: "done", Contacts: makeContacts(3), Done: true}, 500)
	got, complete, err = a.Add(small[0])
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Len(t, got, 3)
}
