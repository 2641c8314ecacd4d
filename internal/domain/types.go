package domain

// Metadata is an unstructured metadata container for domain entities.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	copy := make(Metadata, len(m))
	for k, v := range m {
		copy[k] = v
	}
	return copy
}

// Flags is a named boolean flag set: uploaded documents, signed contracts,
// completed prerequisites. Validations and rule conditions read it; document
// uploads, the e-sign webhook, and committed transitions write it.
type Flags map[string]bool

func (f Flags) Clone() Flags {
	if f == nil {
		return Flags{}
	}
	copy := make(Flags, len(f))
	for k, v := range f {
		copy[k] = v
	}
	return copy
}

// Has reports whether the flag is present and true.
func (f Flags) Has(name string) bool {
	return f[name]
}

// EntityKind distinguishes the two stage-bearing entities.
type EntityKind string

const (
	EntityKindEntry      EntityKind = "entry"
	EntityKindProduction EntityKind = "production"
)

func (k EntityKind) Valid() bool {
	switch k {
	case EntityKindEntry, EntityKindProduction:
		return true
	default:
		return false
	}
}
