package store

import (
	"maps"
	"time"
)

// User is an observed user row. It remembers which columns were loaded and
// which were changed since the last flush. A User belongs to a single
// dispatch and is not safe for concurrent use.
type User struct {
	Key
	data   UserData
	loaded FieldSet
	dirty  FieldSet
}

// NewUser wraps data loaded from storage. Only the fields in loaded are
// considered present.
func NewUser(key Key, data UserData, loaded FieldSet) *User {
	u := &User{Key: key, data: data, loaded: NewFieldSet(), dirty: NewFieldSet()}
	u.loaded.Merge(loaded)
	if u.data.Usage == nil {
		u.data.Usage = make(map[string]int)
	}
	if u.data.Timers == nil {
		u.data.Timers = make(map[string]time.Time)
	}
	return u
}

// Has reports whether the column was loaded.
func (u *User) Has(f Field) bool { return u.loaded.Has(f) }

// Loaded returns a copy of the loaded column set.
func (u *User) Loaded() FieldSet { return maps.Clone(u.loaded) }

// Dirty returns a copy of the set of columns changed since the last flush.
func (u *User) Dirty() FieldSet { return maps.Clone(u.dirty) }

// IsDirty reports whether the row has pending changes.
func (u *User) IsDirty() bool { return len(u.dirty) > 0 }

// ClearDirty marks every pending change as persisted.
func (u *User) ClearDirty() { u.dirty = NewFieldSet() }

// Data returns a deep copy of the row payload.
func (u *User) Data() UserData {
	d := u.data
	d.Usage = maps.Clone(u.data.Usage)
	d.Timers = maps.Clone(u.data.Timers)
	return d
}

// Merge copies the columns src loaded that u has not loaded yet.
func (u *User) Merge(src *User) {
	for f := range src.loaded {
		if u.loaded.Has(f) {
			continue
		}
		switch f {
		case FieldAuthority:
			u.data.Authority = src.data.Authority
		case FieldFlag:
			u.data.Flag = src.data.Flag
		case FieldName:
			u.data.Name = src.data.Name
		case FieldUsage:
			u.data.Usage = maps.Clone(src.data.Usage)
		case FieldTimers:
			u.data.Timers = maps.Clone(src.data.Timers)
		}
		u.loaded.Add(f)
	}
}

func (u *User) touch(f Field) {
	u.loaded.Add(f)
	u.dirty.Add(f)
}

func (u *User) Authority() int { return u.data.Authority }

func (u *User) SetAuthority(v int) {
	u.data.Authority = v
	u.touch(FieldAuthority)
}

func (u *User) Flag() UserFlag { return u.data.Flag }

func (u *User) SetFlag(v UserFlag) {
	u.data.Flag = v
	u.touch(FieldFlag)
}

// Ignored reports whether the ignore bit is set.
func (u *User) Ignored() bool { return u.data.Flag&UserFlagIgnore != 0 }

func (u *User) Name() string { return u.data.Name }

func (u *User) SetName(v string) {
	u.data.Name = v
	u.touch(FieldName)
}

// Usage returns the count recorded for a usage bucket.
func (u *User) Usage(bucket string) int { return u.data.Usage[bucket] }

// SetUsage overwrites a usage bucket.
func (u *User) SetUsage(bucket string, n int) {
	u.data.Usage[bucket] = n
	u.touch(FieldUsage)
}

// ResetUsage clears every usage bucket.
func (u *User) ResetUsage() {
	u.data.Usage = make(map[string]int)
	u.touch(FieldUsage)
}

// Timer returns the next-eligible time recorded for a bucket.
func (u *User) Timer(bucket string) time.Time { return u.data.Timers[bucket] }

// SetTimer records the next-eligible time for a bucket.
func (u *User) SetTimer(bucket string, t time.Time) {
	u.data.Timers[bucket] = t
	u.touch(FieldTimers)
}

// Group is an observed group row, with the same loaded/dirty bookkeeping as User.
type Group struct {
	Key
	data   GroupData
	loaded FieldSet
	dirty  FieldSet
}

// NewGroup wraps data loaded from storage.
func NewGroup(key Key, data GroupData, loaded FieldSet) *Group {
	g := &Group{Key: key, data: data, loaded: NewFieldSet(), dirty: NewFieldSet()}
	g.loaded.Merge(loaded)
	return g
}

func (g *Group) Has(f Field) bool { return g.loaded.Has(f) }
func (g *Group) Loaded() FieldSet { return maps.Clone(g.loaded) }
func (g *Group) Dirty() FieldSet { return maps.Clone(g.dirty) }
func (g *Group) IsDirty() bool { return len(g.dirty) > 0 }
func (g *Group) ClearDirty() { g.dirty = NewFieldSet() }
func (g *Group) Data() GroupData { return g.data }
func (g *Group) Flag() GroupFlag { return g.data.Flag }
func (g *Group) Assignee() string { return g.data.Assignee }
func (g *Group) Ignored() bool { return g.data.Flag&GroupFlagIgnore != 0 }
func (g *Group) Silent() bool { return g.data.Flag&GroupFlagSilent != 0 }
func (g *Group) touch(f Field) { g.loaded.Add(f); g.dirty.Add(f) }
func (g *Group) SetFlag(v GroupFlag) { g.data.Flag = v; g.touch(FieldFlag) }

func (g *Group) SetAssignee(selfID string) {
	g.data.Assignee = selfID
	g.touch(FieldAssignee)
}

// Merge copies the columns src loaded that g has not loaded yet.
func (g *Group) Merge(src *Group) {
	for f := range src.loaded {
		if g.loaded.Has(f) {
			continue
		}
		switch f {
		case FieldFlag:
			g.data.Flag = src.data.Flag
		case FieldAssignee:
			g.data.Assignee = src.data.Assignee
		}
		g.loaded.Add(f)
	}
}
