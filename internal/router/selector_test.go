package router

import (
	"encoding/json"
	"testing"

	"github.com/nextlevelbuilder/botgate/internal/bus"
)

func TestSelector_Match(t *testing.T) {
	group := &Session{Platform: "onebot", Kind: bus.PeerGroup, GroupID: "1", UserID: "u1"}
	dm := &Session{Platform: "telegram", Kind: bus.PeerDirect, UserID: "u2"}

	tests := []struct {
		name      string
		sel       Selector
		wantGroup bool
		wantDM    bool
	}{
		{"zero matches all", Selector{}, true, true},
		{"private", Private(), false, true},
		{"groups", Groups(), true, false},
		{"specific group", Groups("2"), false, false},
		{"platform", Platforms("telegram"), false, true},
		{"union", Groups("1").Union(Users("u2")), true, true},
		{"intersect", Platforms("onebot").Intersect(Users("u1")), true, false},
		{"except", Selector{}.Except(Users("u1")), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sel.Match(group); got != tt.wantGroup {
				t.Errorf("group: got %v, want %v", got, tt.wantGroup)
			}
			if got := tt.sel.Match(dm); got != tt.wantDM {
				t.Errorf("dm: got %v, want %v", got, tt.wantDM)
			}
		})
	}
}

func TestSelector_JSON(t *testing.T) {
	var sel Selector
	if err := json.Unmarshal([]byte(`{"platforms":["onebot"],"not":{"users":["u1"]}}`), &sel); err != nil {
		t.Fatal(err)
	}
	if sel.Match(&Session{Platform: "onebot", UserID: "u1"}) {
		t.Error("excluded user matched")
	}
	if !sel.Match(&Session{Platform: "onebot", UserID: "u9"}) {
		t.Error("other user should match")
	}
}
