// Package sqlstore implements store.Database over database/sql. The SQLite
// and Postgres backends share it and differ only in driver, placeholder
// syntax and schema management.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/botgate/internal/store"
)

// Placeholder renders the n-th (1-based) bind parameter.
type Placeholder func(n int) string

// Question renders "?" placeholders (SQLite).
func Question(int) string { return "?" }

// Dollar renders "$n" placeholders (Postgres).
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

const (
	usersTable  = "bot_users"
	groupsTable = "bot_groups"
)

// DB is a store.Database over a *sql.DB.
type DB struct {
	db       *sql.DB
	bind     Placeholder
	defaults store.Defaults
}

// New wraps an opened database whose schema is already in place.
func New(db *sql.DB, bind Placeholder, defaults store.Defaults) *DB {
	return &DB{db: db, bind: bind, defaults: defaults}
}

// SQL exposes the underlying handle.
func (d *DB) SQL() *sql.DB { return d.db }

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) LoadUser(ctx context.Context, key store.Key, fields store.FieldSet) (*store.User, error) {
	cols, err := columns(fields, store.IsUserField)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`INSERT INTO %s (platform, id, authority) VALUES (%s, %s, %s) ON CONFLICT (platform, id) DO NOTHING`,
		usersTable, d.bind(1), d.bind(2), d.bind(3))
	if _, err := d.db.ExecContext(ctx, q, key.Platform, key.ID, d.defaults.UserAuthority); err != nil {
		return nil, fmt.Errorf("create user %s: %w", key, err)
	}

	var data store.UserData
	if len(cols) > 0 {
		var (
			usage, timers sql.NullString
			name          sql.NullString
			flag          int64
		)
		dest := make([]any, len(cols))
		for i, c := range cols {
			switch c {
			case store.FieldAuthority:
				dest[i] = &data.Authority
			case store.FieldFlag:
				dest[i] = &flag
			case store.FieldName:
				dest[i] = &name
			case store.FieldUsage:
				dest[i] = &usage
			case store.FieldTimers:
				dest[i] = &timers
			}
		}
		if err := d.db.QueryRowContext(ctx, d.selectQuery(usersTable, cols), key.Platform, key.ID).Scan(dest...); err != nil {
			return nil, fmt.Errorf("load user %s: %w", key, err)
		}
		data.Flag = store.UserFlag(flag)
		data.Name = name.String
		if data.Usage, err = decodeUsage(usage.String); err != nil {
			return nil, fmt.Errorf("decode usage for %s: %w", key, err)
		}
		if data.Timers, err = decodeTimers(timers.String); err != nil {
			return nil, fmt.Errorf("decode timers for %s: %w", key, err)
		}
	}
	return store.NewUser(key, data, fields), nil
}

func (d *DB) SaveUser(ctx context.Context, u *store.User) error {
	if !u.IsDirty() {
		return nil
	}
	data := u.Data()
	cols := u.Dirty().Sorted()
	args := make([]any, 0, len(cols)+2)
	for _, c := range cols {
		switch c {
		case store.FieldAuthority:
			args = append(args, data.Authority)
		case store.FieldFlag:
			args = append(args, int64(data.Flag))
		case store.FieldName:
			args = append(args, data.Name)
		case store.FieldUsage:
			b, err := json.Marshal(data.Usage)
			if err != nil {
				return fmt.Errorf("encode usage: %w", err)
			}
			args = append(args, string(b))
		case store.FieldTimers:
			args = append(args, encodeTimers(data.Timers))
		}
	}
	if _, err := d.db.ExecContext(ctx, d.updateQuery(usersTable, cols), append(args, u.Platform, u.ID)...); err != nil {
		return fmt.Errorf("save user %s: %w", u.Key, err)
	}
	u.ClearDirty()
	return nil
}

func (d *DB) LoadGroup(ctx context.Context, key store.Key, fields store.FieldSet) (*store.Group, error) {
	cols, err := columns(fields, store.IsGroupField)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`INSERT INTO %s (platform, id) VALUES (%s, %s) ON CONFLICT (platform, id) DO NOTHING`,
		groupsTable, d.bind(1), d.bind(2))
	if _, err := d.db.ExecContext(ctx, q, key.Platform, key.ID); err != nil {
		return nil, fmt.Errorf("create group %s: %w", key, err)
	}

	var data store.GroupData
	if len(cols) > 0 {
		var (
			flag     int64
			assignee sql.NullString
		)
		dest := make([]any, len(cols))
		for i, c := range cols {
			switch c {
			case store.FieldFlag:
				dest[i] = &flag
			case store.FieldAssignee:
				dest[i] = &assignee
			}
		}
		if err := d.db.QueryRowContext(ctx, d.selectQuery(groupsTable, cols), key.Platform, key.ID).Scan(dest...); err != nil {
			return nil, fmt.Errorf("load group %s: %w", key, err)
		}
		data.Flag = store.GroupFlag(flag)
		data.Assignee = assignee.String
	}
	return store.NewGroup(key, data, fields), nil
}

func (d *DB) SaveGroup(ctx context.Context, g *store.Group) error {
	if !g.IsDirty() {
		return nil
	}
	data := g.Data()
	cols := g.Dirty().Sorted()
	args := make([]any, 0, len(cols)+2)
	for _, c := range cols {
		switch c {
		case store.FieldFlag:
			args = append(args, int64(data.Flag))
		case store.FieldAssignee:
			args = append(args, data.Assignee)
		}
	}
	if _, err := d.db.ExecContext(ctx, d.updateQuery(groupsTable, cols), append(args, g.Platform, g.ID)...); err != nil {
		return fmt.Errorf("save group %s: %w", g.Key, err)
	}
	g.ClearDirty()
	return nil
}

func (d *DB) selectQuery(table string, cols []store.Field) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = string(c)
	}
	return fmt.Sprintf(`SELECT %s FROM %s WHERE platform = %s AND id = %s`,
		strings.Join(names, ", "), table, d.bind(1), d.bind(2))
}

func (d *DB) updateQuery(table string, cols []store.Field) string {
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = %s", c, d.bind(i+1))
	}
	n := len(cols)
	return fmt.Sprintf(`UPDATE %s SET %s WHERE platform = %s AND id = %s`,
		table, strings.Join(sets, ", "), d.bind(n+1), d.bind(n+2))
}

// columns returns the requested fields in stable order, rejecting any name
// the table does not have. Column names are interpolated into SQL, so only
// whitelisted names may pass.
func columns(fields store.FieldSet, valid func(store.Field) bool) ([]store.Field, error) {
	cols := fields.Sorted()
	for _, c := range cols {
		if !valid(c) {
			return nil, fmt.Errorf("unknown column %q", c)
		}
	}
	return cols, nil
}

func decodeUsage(s string) (map[string]int, error) {
	out := make(map[string]int)
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Timers are persisted as unix milliseconds.
func decodeTimers(s string) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	if s == "" {
		return out, nil
	}
	var raw map[string]int64
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, err
	}
	for k, ms := range raw {
		out[k] = time.UnixMilli(ms)
	}
	return out, nil
}

func encodeTimers(m map[string]time.Time) string {
	raw := make(map[string]int64, len(m))
	for k, t := range m {
		raw[k] = t.UnixMilli()
	}
	b, _ := json.Marshal(raw)
	return string(b)
}
