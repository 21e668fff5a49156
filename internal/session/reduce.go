// Package session holds the per-view result set and filter selection. All mutation goes
// through Store.Dispatch; stale fetch results are dropped by generation ticket.
package session

import (
	"strings"

	"github.com/jxwalker/modshelf/internal/catalog"
)

// Ticket identifies one fetch. Tickets grow monotonically within a Store.
type Ticket uint64

// State is the session's current result set and selection.
type State struct {
	Items    []catalog.Item
	Query    string
	Category string
	// LastCategory is the tab restored when the query is cleared.
	LastCategory string
	// AutoSelectFirst picks the first category of a fresh result set when neither a
	// query nor a category is active.
	AutoSelectFirst bool

	Visible    []catalog.Item
	Generation Ticket
	Loading    bool
	Err        error
}

// Action is a state transition request.
type Action interface {
	action()
}

// SetQueryAction replaces the free-text query. A non-empty query clears the category;
// an empty one restores the last selected category.
type SetQueryAction struct{ Query string }

// SetCategoryAction selects a category tab and clears the query.
type SetCategoryAction struct{ Category string }

// SetItemsAction replaces the result set without a fetch (e.g. a local catalog reload).
type SetItemsAction struct{ Items []catalog.Item }

// FetchStartedAction marks a fetch as in flight. Only Store.Begin issues it.
type FetchStartedAction struct{ Ticket Ticket }

// FetchCompletedAction delivers a fetch result.
type FetchCompletedAction struct {
	Ticket Ticket
	Items  []catalog.Item
}

// FetchFailedAction delivers a fetch error.
type FetchFailedAction struct {
	Ticket Ticket
	Err    error
}

func (SetQueryAction) action()       {}
func (SetCategoryAction) action()    {}
func (SetItemsAction) action()       {}
func (FetchStartedAction) action()   {}
func (FetchCompletedAction) action() {}
func (FetchFailedAction) action()    {}

// Reduce applies a to s and returns the next state. applied is false when the action was
// discarded, which only happens for results of a superseded fetch.
func Reduce(s State, a Action) (next State, applied bool) {
	switch a := a.(type) {
	case SetQueryAction:
		q := strings.TrimSpace(a.Query)
		switch {
		case q != "" && strings.TrimSpace(s.Query) == "":
			if s.Category != "" {
				s.LastCategory = s.Category
			}
			s.Category = ""
		case q == "":
			s.Category = s.LastCategory
		}
		s.Query = a.Query

	case SetCategoryAction:
		s.Query = ""
		s.Category = a.Category
		s.LastCategory = a.Category

	case SetItemsAction:
		s.Items = a.Items
		s.Err = nil
		autoSelect(&s)

	case FetchStartedAction:
		if a.Ticket <= s.Generation {
			return s, false
		}
		s.Generation = a.Ticket
		s.Loading = true
		s.Err = nil

	case FetchCompletedAction:
		if a.Ticket != s.Generation {
			return s, false
		}
		s.Items = a.Items
		s.Loading = false
		s.Err = nil
		autoSelect(&s)

	case FetchFailedAction:
		if a.Ticket != s.Generation {
			return s, false
		}
		s.Items = nil
		s.Loading = false
		s.Err = a.Err

	default:
		return s, false
	}
	s.Visible = catalog.Filter(s.Items, s.Query, s.Category)
	return s, true
}

func autoSelect(s *State) {
	if !s.AutoSelectFirst || s.Category != "" || strings.TrimSpace(s.Query) != "" {
		return
	}
	if cats := catalog.Categories(s.Items); len(cats) > 0 {
		s.Category = cats[0]
		s.LastCategory = cats[0]
	}
}
