package command

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

var (
	ErrUnknownOption = errors.New("unknown option")
	ErrInvalidOption = errors.New("invalid option")
)

// Option declares a -s/--name flag of a command.
type Option struct {
	Name        string
	Short       string // single letter, optional
	Description string
	Default     string
	TakesValue  bool // false: boolean switch

	Authority int  // minimum authority to pass this option
	Hidden    bool // omitted from help
	NoUsage   bool // calls passing this option are not counted against MaxUsage
}

// AddOption declares an option on c. Redeclaring a name replaces it.
func (c *Command) AddOption(opt Option) *Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.options {
		if o.Name == opt.Name {
			c.options[i] = &opt
			return c
		}
	}
	c.options = append(c.options, &opt)
	return c
}

// Options returns the declared options in declaration order.
func (c *Command) Options() []Option {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Option, len(c.options))
	for i, o := range c.options {
		out[i] = *o
	}
	return out
}

// Option looks up a declared option by long name.
func (c *Command) Option(name string) (Option, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, o := range c.options {
		if o.Name == name {
			return *o, true
		}
	}
	return Option{}, false
}

// Values holds parsed option values.
type Values struct {
	set      map[string]string
	defaults map[string]string
}

func newValues() Values {
	return Values{set: make(map[string]string), defaults: make(map[string]string)}
}

// Has reports whether the option was passed explicitly.
func (v Values) Has(name string) bool {
	_, ok := v.set[name]
	return ok
}

// String returns the passed value, or the declared default.
func (v Values) String(name string) string {
	if s, ok := v.set[name]; ok {
		return s
	}
	return v.defaults[name]
}

// Bool reports whether a switch is on.
func (v Values) Bool(name string) bool {
	b, _ := strconv.ParseBool(v.String(name))
	return b
}

// Int parses the option value as an integer.
func (v Values) Int(name string) (int, error) {
	return strconv.Atoi(v.String(name))
}

// Names lists the explicitly passed option names, sorted.
func (v Values) Names() []string {
	out := make([]string, 0, len(v.set))
	for k := range v.set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Set overrides a value, marking it as passed.
func (v Values) Set(name, value string) { v.set[name] = value }

// ParseArgs splits flags from positional arguments using c's options.
// A bare -h/--help is accepted even if the command never declared it.
func (c *Command) ParseArgs(args []string) ([]string, Values, error) {
	fs := pflag.NewFlagSet(c.FullName(), pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}

	vals := newValues()
	opts := c.Options()
	for _, o := range opts {
		vals.defaults[o.Name] = o.Default
		if o.TakesValue {
			fs.StringP(o.Name, o.Short, o.Default, o.Description)
		} else {
			def, _ := strconv.ParseBool(o.Default)
			fs.BoolP(o.Name, o.Short, def, o.Description)
		}
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			vals.set["help"] = "true"
			return fs.Args(), vals, nil
		}
		if strings.Contains(err.Error(), "unknown") {
			return nil, vals, fmt.Errorf("%w: %s", ErrUnknownOption, err.Error())
		}
		return nil, vals, fmt.Errorf("%w: %s", ErrInvalidOption, err.Error())
	}
	fs.Visit(func(f *pflag.Flag) {
		vals.set[f.Name] = f.Value.String()
	})
	return fs.Args(), vals, nil
}
