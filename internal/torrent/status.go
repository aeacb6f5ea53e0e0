package torrent

// Status is the canonical lifecycle state of a torrent.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusDownloading Status = "downloading"
	StatusFinished    Status = "finished"
	StatusError       Status = "error"
)

// Valid reports whether s is one of the canonical states.
func (s Status) Valid() bool {
	switch s {
	case StatusUnknown, StatusDownloading, StatusFinished, StatusError:
		return true
	}

	return false
}

// Terminal reports whether no further transition is expected without user action.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError
}

// StatusTable maps backend-native status tokens to canonical states.
// A table cannot be modified after construction.
type StatusTable struct {
	m map[string]Status
}

// NewStatusTable copies m into a new table. Entries mapping to a non-canonical
// state are stored as StatusUnknown.
func NewStatusTable(m map[string]Status) StatusTable {
	cp := make(map[string]Status, len(m))

	for token, s := range m {
		if !s.Valid() {
			s = StatusUnknown
		}

		cp[token] = s
	}

	return StatusTable{m: cp}
}

// Normalize resolves a native token to a canonical state. An error signal from the
// backend always wins over the token.
func (t StatusTable) Normalize(token string, failed bool) Status {
	if failed {
		return StatusError
	}

	if s, ok := t.m[token]; ok {
		return s
	}

	return StatusUnknown
}

// Tokens returns the native tokens known to the table.
func (t StatusTable) Tokens() []string {
	tokens := make([]string, 0, len(t.m))
	for token := range t.m {
		tokens = append(tokens, token)
	}

	return tokens
}
