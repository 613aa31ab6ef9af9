package command

import (
	"errors"
	"slices"
	"testing"
)

func newTree(t *testing.T) (*Registry, *Command, *Command) {
	t.Helper()
	reg := NewRegistry()
	status := &Command{Name: "status", Aliases: []string{"st"}, Authority: 2}
	db := &Command{Name: "db", Authority: 1}
	if err := status.AddCommand(db); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(status, &Command{Name: "ping"}); err != nil {
		t.Fatal(err)
	}
	return reg, status, db
}

func TestLookup(t *testing.T) {
	reg, status, _ := newTree(t)

	tests := []struct {
		token string
		want  string
	}{
		{"status", "status"},
		{"STATUS", "status"},
		{"st", "status"},
		{"status@my_bot", "status"},
		{"ping", "ping"},
		{"db", "status db"},
		{"pong", ""},
		{"@status", ""},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			got := reg.Lookup(tt.token)
			name := ""
			if got != nil {
				name = got.FullName()
			}
			if name != tt.want {
				t.Errorf("Lookup(%q) = %q, want %q", tt.token, name, tt.want)
			}
		})
	}
	if reg.Lookup("st") != status {
		t.Error("alias should resolve to the same node")
	}
}

func TestResolve_Descends(t *testing.T) {
	reg, _, db := newTree(t)
	got, rest := reg.Resolve([]string{"status", "db", "verbose"})
	if got != db {
		t.Fatalf("Resolve = %v, want status db", got)
	}
	if !slices.Equal(rest, []string{"verbose"}) {
		t.Errorf("rest = %v", rest)
	}
}

func TestRequiredAuthority_IncludesAncestors(t *testing.T) {
	_, _, db := newTree(t)
	if got := db.RequiredAuthority(); got != 2 {
		t.Errorf("RequiredAuthority = %d, want 2 (parent)", got)
	}
}

func TestRegister_Duplicate(t *testing.T) {
	reg, _, _ := newTree(t)
	err := reg.Register(&Command{Name: "other", Aliases: []string{"ST"}})
	if !errors.Is(err, ErrDuplicateCommand) {
		t.Errorf("err = %v, want ErrDuplicateCommand", err)
	}
}

func TestRegister_FailureLeavesNoTrace(t *testing.T) {
	reg, _, _ := newTree(t)
	var notified []string
	reg.OnRegistered(func(c *Command) { notified = append(notified, c.FullName()) })
	notified = nil

	admin := &Command{Name: "admin", Aliases: []string{"adm"}}
	if err := admin.AddCommand(&Command{Name: "users"}, &Command{Name: "status"}); err != nil {
		t.Fatal(err)
	}
	err := reg.Register(admin)
	if !errors.Is(err, ErrDuplicateCommand) {
		t.Fatalf("err = %v, want ErrDuplicateCommand", err)
	}
	for _, token := range []string{"admin", "adm", "users"} {
		if got := reg.Lookup(token); got != nil {
			t.Errorf("Lookup(%q) = %q after failed Register, want nil", token, got.FullName())
		}
	}
	if got := len(reg.Roots()); got != 2 {
		t.Errorf("roots = %d, want 2", got)
	}
	if len(notified) != 0 {
		t.Errorf("listeners notified for rejected nodes: %v", notified)
	}
}

func TestRegister_SameRootTwice(t *testing.T) {
	reg, status, _ := newTree(t)
	if err := reg.Register(status); !errors.Is(err, ErrDuplicateCommand) {
		t.Errorf("err = %v, want ErrDuplicateCommand", err)
	}
	if got := len(reg.Roots()); got != 2 {
		t.Errorf("roots = %d, want 2", got)
	}
}

func TestAddCommand_FailureDetaches(t *testing.T) {
	reg, status, _ := newTree(t)
	dup := &Command{Name: "ping"}
	if err := status.AddCommand(&Command{Name: "cache"}, dup); !errors.Is(err, ErrDuplicateCommand) {
		t.Fatalf("err = %v, want ErrDuplicateCommand", err)
	}
	if dup.Parent() != nil {
		t.Error("rejected child still has a parent")
	}
	var names []string
	for _, c := range status.Children() {
		names = append(names, c.Name)
	}
	if want := []string{"db", "cache"}; !slices.Equal(names, want) {
		t.Errorf("children = %v, want %v", names, want)
	}
	if reg.Lookup("ping").Parent() != nil {
		t.Error("root ping was disturbed")
	}
}

func TestOnRegistered_ReplaysAndNotifies(t *testing.T) {
	reg, _, _ := newTree(t)
	var seen []string
	reg.OnRegistered(func(c *Command) { seen = append(seen, c.FullName()) })

	if want := []string{"ping", "status", "status db"}; !slices.Equal(seen, want) {
		t.Fatalf("replayed = %v, want %v", seen, want)
	}

	seen = nil
	late := &Command{Name: "late"}
	if err := reg.Register(late); err != nil {
		t.Fatal(err)
	}
	if err := late.AddCommand(&Command{Name: "child"}); err != nil {
		t.Fatal(err)
	}
	if want := []string{"late", "late child"}; !slices.Equal(seen, want) {
		t.Errorf("notified = %v, want %v", seen, want)
	}
}

func TestParse(t *testing.T) {
	reg, _, db := newTree(t)
	db.AddOption(Option{Name: "limit", Short: "n", TakesValue: true, Default: "10"})
	db.AddOption(Option{Name: "force", Short: "f"})

	inv, err := reg.Parse(`status db -f "two words" --limit 3`, false)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Command != db {
		t.Fatalf("command = %s", inv.Command.FullName())
	}
	if !slices.Equal(inv.Args, []string{"two words"}) {
		t.Errorf("args = %q", inv.Args)
	}
	if !inv.Options.Bool("force") || inv.Options.String("limit") != "3" {
		t.Errorf("options = %v", inv.Options.Names())
	}

	inv, err = reg.Parse("status db", false)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Options.Has("limit") || inv.Options.String("limit") != "10" {
		t.Errorf("default not applied: has=%v value=%q", inv.Options.Has("limit"), inv.Options.String("limit"))
	}
}

func TestParse_Errors(t *testing.T) {
	reg, _, _ := newTree(t)

	if inv, err := reg.Parse("hello there", false); inv != nil || err != nil {
		t.Errorf("non-command = %v, %v", inv, err)
	}

	inv, err := reg.Parse("ping --bogus", false)
	if !errors.Is(err, ErrUnknownOption) {
		t.Errorf("err = %v, want ErrUnknownOption", err)
	}
	if inv == nil || inv.Command.Name != "ping" {
		t.Error("invocation should be returned alongside option errors")
	}

	inv, err = reg.Parse("ping --help", false)
	if err != nil || !inv.Options.Has("help") {
		t.Errorf("help flag: err=%v", err)
	}
}

func TestShortcut(t *testing.T) {
	reg, _, db := newTree(t)
	db.AddOption(Option{Name: "force"})
	if err := reg.AddShortcut(Shortcut{Name: "check db", Command: db, Options: map[string]string{"force": "true"}}); err != nil {
		t.Fatal(err)
	}
	if err := reg.AddShortcut(Shortcut{Name: "echo", Command: db, Prefix: true, RequirePrefix: true}); err != nil {
		t.Fatal(err)
	}

	inv, _ := reg.Parse("check db", false)
	if inv == nil || inv.Command != db || !inv.Options.Bool("force") {
		t.Fatalf("exact shortcut not applied: %+v", inv)
	}

	if inv, _ := reg.Parse("echo hi", false); inv != nil {
		t.Error("RequirePrefix shortcut matched without prefix")
	}
	inv, _ = reg.Parse("echo hi there", true)
	if inv == nil || !slices.Equal(inv.Args, []string{"hi", "there"}) {
		t.Errorf("prefix shortcut args = %+v", inv)
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"a b  c", []string{"a", "b", "c"}},
		{`say "hello world"`, []string{"say", "hello world"}},
		{`x 'single q' y`, []string{"x", "single q", "y"}},
		{"curly “quoted text”", []string{"curly", "quoted text"}},
		{`empty ""`, []string{"empty", ""}},
		{`open "unterminated`, []string{"open", "unterminated"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SplitArgs(tt.in); !slices.Equal(got, tt.want) {
				t.Errorf("SplitArgs(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestMetaKey(t *testing.T) {
	examples := NewMetaKey[[]string]("examples")
	c := &Command{Name: "x"}
	if _, ok := examples.Get(c); ok {
		t.Fatal("unset key reported present")
	}
	examples.Set(c, []string{"x 1"})
	got, ok := examples.Get(c)
	if !ok || len(got) != 1 {
		t.Errorf("Get = %v, %v", got, ok)
	}
}
