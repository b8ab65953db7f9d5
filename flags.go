package campusmail

import "github.com/rbaliyan/campusmail/store"

func ptr(b bool) *bool { return &b }

// Flags is a set of flag changes applied together by UpdateFlags.
// Nil fields are left unchanged.
type Flags struct {
	Read     *bool `json:"read,omitempty"`
	Starred  *bool `json:"starred,omitempty"`
	Archived *bool `json:"archived,omitempty"`
}

// IsEmpty reports whether f changes nothing.
func (f Flags) IsEmpty() bool {
	return f.Read == nil && f.Starred == nil && f.Archived == nil
}

// WithRead returns flags with read status set.
func (f Flags) WithRead(read bool) Flags {
	f.Read = ptr(read)
	return f
}

// WithStarred returns flags with starred status set.
func (f Flags) WithStarred(starred bool) Flags {
	f.Starred = ptr(starred)
	return f
}

// WithArchived returns flags with archived status set.
func (f Flags) WithArchived(archived bool) Flags {
	f.Archived = ptr(archived)
	return f
}

// storeFlags expands f into store flags in a fixed order: read, starred, archived.
func (f Flags) storeFlags() []store.Flag {
	var out []store.Flag
	if f.Read != nil {
		out = append(out, store.ReadFlag(*f.Read))
	}
	if f.Starred != nil {
		out = append(out, store.StarFlag(*f.Starred))
	}
	if f.Archived != nil {
		out = append(out, store.ArchiveFlag(*f.Archived))
	}
	return out
}
