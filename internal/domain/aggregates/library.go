package aggregates

import "strings"

// Library is a named collection of aggregates with an editability flag.
type Library struct {
	Name       string `json:"name" yaml:"name"`
	IsEditable bool   `json:"is_editable" yaml:"is_editable"`
}

// GateOverride replaces the editability default for one library, optionally
// narrowed to a single entity family. Nil fields keep the default.
type GateOverride struct {
	Library string `yaml:"library"`
	Family  string `yaml:"family,omitempty"`
	Create  *bool  `yaml:"create,omitempty"`
	Edit    *bool  `yaml:"edit,omitempty"`
	Delete  *bool  `yaml:"delete,omitempty"`
}

// LibraryGate decides whether items may be created, edited or deleted in a library.
// Every predicate defaults to Library.IsEditable.
type LibraryGate struct {
	overrides []GateOverride
}

func NewLibraryGate(overrides ...GateOverride) LibraryGate {
	out := make([]GateOverride, 0, len(overrides))
	for _, o := range overrides {
		o.Library = strings.TrimSpace(o.Library)
		o.Family = strings.TrimSpace(o.Family)
		if o.Library == "" {
			continue
		}
		out = append(out, o)
	}
	return LibraryGate{overrides: out}
}

func (g LibraryGate) CanCreate(family string, lib Library) bool {
	return g.decide(family, lib, func(o GateOverride) *bool { return o.Create })
}

func (g LibraryGate) CanEdit(family string, lib Library) bool {
	return g.decide(family, lib, func(o GateOverride) *bool { return o.Edit })
}

func (g LibraryGate) CanDelete(family string, lib Library) bool {
	return g.decide(family, lib, func(o GateOverride) *bool { return o.Delete })
}

// decide prefers a family-scoped override over a library-wide one.
func (g LibraryGate) decide(family string, lib Library, pick func(GateOverride) *bool) bool {
	var libraryWide *bool
	for _, o := range g.overrides {
		if o.Library != lib.Name {
			continue
		}
		v := pick(o)
		if v == nil {
			continue
		}
		if o.Family != "" {
			if o.Family == family {
				return *v
			}
			continue
		}
		if libraryWide == nil {
			libraryWide = v
		}
	}
	if libraryWide != nil {
		return *libraryWide
	}
	return lib.IsEditable
}
