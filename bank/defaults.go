package bank

import (
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// GlobalDefaults is the server-wide policy source: which fields a bank may
// override, and the value every non-overriding bank inherits.
type GlobalDefaults interface {
	IsOverridable(f Field) bool
	Default(f Field) any
}

// FieldDefault is the configuration of one field in the `interest` section.
type FieldDefault struct {
	Value       string `mapstructure:"value"`
	Overridable *bool  `mapstructure:"overridable"`
}

// Defaults is the GlobalDefaults implementation backed by configuration.
// It is safe for concurrent use; toggling overridability takes effect on
// the next read of every bank.
type Defaults struct {
	mu          sync.RWMutex
	rules       Rules
	overridable map[Field]bool
}

// NewDefaults starts from BuiltinRules with every field overridable and
// applies the configured entries, keyed by field name.
func NewDefaults(cfg map[string]FieldDefault) (*Defaults, error) {
	d := &Defaults{
		rules:       BuiltinRules(),
		overridable: make(map[Field]bool, len(Fields)),
	}
	for _, f := range Fields {
		d.overridable[f] = true
	}

	for name, fd := range cfg {
		f, ok := ParseField(strings.ReplaceAll(name, "_", "-"))
		if !ok {
			return nil, errors.Newf("unknown interest field %q", name)
		}
		if strings.TrimSpace(fd.Value) != "" {
			v, err := Parse(f, fd.Value)
			if err != nil {
				return nil, errors.Wrapf(err, "default for %s", f)
			}
			d.rules.set(f, v)
		}
		if fd.Overridable != nil {
			d.overridable[f] = *fd.Overridable
		}
	}
	return d, nil
}

func (d *Defaults) IsOverridable(f Field) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.overridable[f]
}

func (d *Defaults) Default(f Field) any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rules.Get(f)
}

// SetOverridable changes the override policy for a field.
func (d *Defaults) SetOverridable(f Field, allowed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.overridable[f] = allowed
}

// SetDefault replaces the global default of a field.
func (d *Defaults) SetDefault(f Field, v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules.set(f, v)
}
