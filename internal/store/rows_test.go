package store

import (
	"testing"
	"time"
)

func TestFieldSet(t *testing.T) {
	s := NewFieldSet(FieldFlag, FieldAuthority)
	s.Merge(NewFieldSet(FieldUsage))

	if got := s.Sorted(); len(got) != 3 || got[0] != FieldAuthority || got[2] != FieldUsage {
		t.Errorf("Sorted = %v", got)
	}
	if rest := s.Without(NewFieldSet(FieldFlag)); rest.Has(FieldFlag) || len(rest) != 2 {
		t.Errorf("Without = %v", rest.Sorted())
	}
	if !s.Contains(NewFieldSet(FieldFlag)) || s.Contains(NewFieldSet(FieldName)) {
		t.Error("Contains mismatch")
	}
}

func TestUser_SettersMarkDirty(t *testing.T) {
	u := NewUser(Key{Platform: "p", ID: "1"}, UserData{}, NewFieldSet(FieldFlag))
	if u.IsDirty() {
		t.Fatal("new user should be clean")
	}

	u.SetUsage("ping", 2)
	u.SetTimer("ping", time.Now())

	dirty := u.Dirty()
	if !dirty.Has(FieldUsage) || !dirty.Has(FieldTimers) || dirty.Has(FieldFlag) {
		t.Errorf("dirty = %v", dirty.Sorted())
	}
	if !u.Has(FieldUsage) {
		t.Error("set column should count as loaded")
	}

	u.ClearDirty()
	if u.IsDirty() {
		t.Error("ClearDirty left pending changes")
	}
}

func TestUser_MergeKeepsExisting(t *testing.T) {
	key := Key{Platform: "p", ID: "1"}
	dst := NewUser(key, UserData{Authority: 3}, NewFieldSet(FieldAuthority))
	src := NewUser(key, UserData{Authority: 1, Name: "bob"}, NewFieldSet(FieldAuthority, FieldName))

	dst.Merge(src)

	if dst.Authority() != 3 {
		t.Errorf("authority = %d, merge must not overwrite loaded columns", dst.Authority())
	}
	if dst.Name() != "bob" || !dst.Has(FieldName) {
		t.Errorf("name = %q loaded=%v", dst.Name(), dst.Has(FieldName))
	}
	if dst.IsDirty() {
		t.Error("merge should not mark dirty")
	}
}

func TestFlags(t *testing.T) {
	g := NewGroup(Key{}, GroupData{Flag: GroupFlagIgnore | GroupFlagSilent}, nil)
	if !g.Ignored() || !g.Silent() {
		t.Error("group flags not decoded")
	}
	u := NewUser(Key{}, UserData{Flag: UserFlagIgnore}, nil)
	if !u.Ignored() {
		t.Error("user ignore bit not decoded")
	}
}
