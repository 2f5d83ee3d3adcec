package assistant

import "strings"

// Roster is the read-only view of the collection used for routing.
type Roster []*Assistant

// Find locates an assistant by title using case-insensitive, trimmed, exact
// comparison. There is intentionally no fuzzy matching: a routing reply that
// does not name a known title exactly is treated as no match. Duplicate
// titles resolve to the first assistant in collection order.
func (r Roster) Find(title string) *Assistant {
	want := strings.ToLower(strings.TrimSpace(title))
	if want == "" {
		return nil
	}
	for _, a := range r {
		if strings.ToLower(strings.TrimSpace(a.Title)) == want {
			return a
		}
	}
	return nil
}

// ByID locates an assistant by its identifier.
func (r Roster) ByID(id string) *Assistant {
	for _, a := range r {
		if a.ID == id {
			return a
		}
	}
	return nil
}
