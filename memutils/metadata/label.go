package metadata

import "unicode/utf8"

// MaxLabelLength is the number of bytes of a block name that a catalogue retains
const MaxLabelLength = 63

// Label is a block name bounded to MaxLabelLength bytes. Labels are advisory: they are used for
// diagnostics and lookup-by-name, so an oversized name is shortened rather than rejected, but the
// shortening is always reported through Truncated.
type Label struct {
	name      string
	truncated bool
}

// NewLabel creates a Label from name, cutting it down to MaxLabelLength bytes if necessary. The cut
// never splits a UTF-8 sequence, so the retained label may be slightly shorter than MaxLabelLength.
// The boolean return value is true if name was truncated.
func NewLabel(name string) (Label, bool) {
	if len(name) <= MaxLabelLength {
		return Label{name: name}, false
	}

	cut := MaxLabelLength
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}

	return Label{name: name[:cut], truncated: true}, true
}

func (l Label) String() string { return l.name }

// Truncated returns true if the name this label was created from did not fit
func (l Label) Truncated() bool { return l.truncated }
