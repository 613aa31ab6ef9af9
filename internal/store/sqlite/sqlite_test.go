package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nextlevelbuilder/botgate/internal/store"
)

func openTestDB(t *testing.T) store.Database {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "botgate.db"), store.Defaults{UserAuthority: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_WALMode(t *testing.T) {
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "wal.db"), store.Defaults{})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var mode string
	if err := db.SQL().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestUser_LoadOrCreateAndPartialSave(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	key := store.Key{Platform: "onebot", ID: "42"}
	all := store.NewFieldSet(store.UserFields...)

	u, err := db.LoadUser(ctx, key, all)
	if err != nil {
		t.Fatal(err)
	}
	if u.Authority() != 1 {
		t.Errorf("authority = %d, want default 1", u.Authority())
	}

	// A second observer changes a different column; neither save may clobber
	// the other.
	other, _ := db.LoadUser(ctx, key, all)
	u.SetUsage("$date", 20000)
	u.SetUsage("ping", 3)
	next := time.UnixMilli(1_700_000_000_000)
	u.SetTimer("ping", next)
	other.SetAuthority(4)

	if err := db.SaveUser(ctx, other); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveUser(ctx, u); err != nil {
		t.Fatal(err)
	}

	got, err := db.LoadUser(ctx, key, all)
	if err != nil {
		t.Fatal(err)
	}
	if got.Authority() != 4 {
		t.Errorf("authority = %d, want 4", got.Authority())
	}
	if got.Usage("ping") != 3 || got.Usage("$date") != 20000 {
		t.Errorf("usage ping=%d date=%d", got.Usage("ping"), got.Usage("$date"))
	}
	if !got.Timer("ping").Equal(next) {
		t.Errorf("timer = %v, want %v", got.Timer("ping"), next)
	}
}

func TestUser_OnlyRequestedFieldsLoaded(t *testing.T) {
	db := openTestDB(t)
	u, err := db.LoadUser(context.Background(), store.Key{Platform: "p", ID: "1"}, store.NewFieldSet(store.FieldFlag))
	if err != nil {
		t.Fatal(err)
	}
	if !u.Has(store.FieldFlag) || u.Has(store.FieldAuthority) {
		t.Errorf("loaded = %v", u.Loaded().Sorted())
	}
}

func TestGroup_Assignee(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	key := store.Key{Platform: "onebot", ID: "1000"}
	fields := store.NewFieldSet(store.GroupFields...)

	g, err := db.LoadGroup(ctx, key, fields)
	if err != nil {
		t.Fatal(err)
	}
	g.SetAssignee("10000")
	if err := db.SaveGroup(ctx, g); err != nil {
		t.Fatal(err)
	}

	got, _ := db.LoadGroup(ctx, key, fields)
	if got.Assignee() != "10000" || got.Flag() != 0 {
		t.Errorf("group = assignee %q flag %d", got.Assignee(), got.Flag())
	}
}
