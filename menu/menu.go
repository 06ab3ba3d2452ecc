// Package menu implements the selection model behind the boot screen's
// slot list. Drawing is someone else's job; the orchestrator only reads
// the current selection and feeds encoder events in.
package menu

// List is a fixed list of slot entries with one highlighted entry and a
// confirm toggle.
type List struct {
	names     []string
	selected  int
	confirmed bool
}

func NewList(names []string) *List {
	return &List{names: names}
}

// Apply advances the selection by the given detent steps and toggles
// confirmation on click. Confirmation sticks until taken with
// TakeConfirm, matching a "modify" toggle on the highlighted entry.
func (l *List) Apply(ticks int, click bool) {
	if l.confirmed {
		// A confirmed entry is latched; rotation no longer moves the
		// highlight.
		if click {
			l.confirmed = false
		}
		return
	}
	l.selected += ticks
	for l.selected < 0 {
		l.selected += len(l.names)
	}
	l.selected %= len(l.names)
	if click {
		l.confirmed = true
	}
}

// Selected returns the highlighted entry index.
func (l *List) Selected() int {
	return l.selected
}

// Select moves the highlight, used to preselect the autoboot slot.
func (l *List) Select(n int) {
	if 0 <= n && n < len(l.names) {
		l.selected = n
	}
}

// Confirmed reports whether the highlighted entry has been confirmed.
func (l *List) Confirmed() bool {
	return l.confirmed
}

// TakeConfirm consumes a pending confirmation.
func (l *List) TakeConfirm() bool {
	c := l.confirmed
	l.confirmed = false
	return c
}

// Names returns the entry labels.
func (l *List) Names() []string {
	return l.names
}
