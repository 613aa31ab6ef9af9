package store

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// Field names a persisted column of a user or group row.
type Field string

const (
	FieldAuthority Field = "authority"
	FieldFlag      Field = "flag"
	FieldName      Field = "name"
	FieldUsage     Field = "usage"
	FieldTimers    Field = "timers"
	FieldAssignee  Field = "assignee"
)

// UserFields lists every column of a user row.
var UserFields = []Field{FieldAuthority, FieldFlag, FieldName, FieldUsage, FieldTimers}

// GroupFields lists every column of a group row.
var GroupFields = []Field{FieldFlag, FieldAssignee}

// IsUserField reports whether f is a user column.
func IsUserField(f Field) bool { return slices.Contains(UserFields, f) }

// IsGroupField reports whether f is a group column.
func IsGroupField(f Field) bool { return slices.Contains(GroupFields, f) }

// FieldSet is an unordered set of column names.
type FieldSet map[Field]struct{}

// NewFieldSet builds a set from fields.
func NewFieldSet(fields ...Field) FieldSet {
	s := make(FieldSet, len(fields))
	s.Add(fields...)
	return s
}

func (s FieldSet) Add(fields ...Field) {
	for _, f := range fields {
		s[f] = struct{}{}
	}
}

func (s FieldSet) Has(f Field) bool {
	_, ok := s[f]
	return ok
}

// Merge adds every field of o to s.
func (s FieldSet) Merge(o FieldSet) {
	for f := range o {
		s[f] = struct{}{}
	}
}

// Without returns the fields of s that are not in o.
func (s FieldSet) Without(o FieldSet) FieldSet {
	out := make(FieldSet)
	for f := range s {
		if !o.Has(f) {
			out[f] = struct{}{}
		}
	}
	return out
}

// Contains reports whether every field of o is in s.
func (s FieldSet) Contains(o FieldSet) bool {
	for f := range o {
		if !s.Has(f) {
			return false
		}
	}
	return true
}

// Sorted returns the fields in a stable order.
func (s FieldSet) Sorted() []Field {
	out := slices.Collect(maps.Keys(s))
	slices.Sort(out)
	return out
}

// UserFlag is the bitmask stored in a user's flag column.
type UserFlag uint32

const (
	UserFlagIgnore UserFlag = 1 << iota // drop every message from this user
)

// GroupFlag is the bitmask stored in a group's flag column.
type GroupFlag uint32

const (
	GroupFlagIgnore GroupFlag = 1 << iota // drop every message from this group
	GroupFlagSilent                       // accept messages but never reply
)

// Key identifies a user or group on one platform.
type Key struct {
	Platform string
	ID       string
}

func (k Key) String() string { return fmt.Sprintf("%s:%s", k.Platform, k.ID) }

// UserData is the plain column payload of a user row.
type UserData struct {
	Authority int
	Flag      UserFlag
	Name      string
	Usage     map[string]int
	Timers    map[string]time.Time
}

// GroupData is the plain column payload of a group row.
type GroupData struct {
	Flag     GroupFlag
	Assignee string
}

// Defaults holds the values a new row is created with.
type Defaults struct {
	UserAuthority int
}
