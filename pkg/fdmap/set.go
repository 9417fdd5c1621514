package fdmap

// Set is a validated, immutable collection of descriptor mappings
// together with the policy for unmapped standard streams.
type Set struct {
	maps  []Mapping
	stdio StdioPolicy
}

// New validates maps and builds a Set. Mappings may share sources but
// not targets; a second mapping onto an already claimed target is
// rejected with DuplicateTargetError since applying it would silently
// drop one of the files, and detecting that after fork leaves no safe
// error path. Negative numbers are rejected with
// InvalidDescriptorError. The empty set is legal and applies the stdio
// policy only. No descriptor is touched here.
func New(maps []Mapping, stdio StdioPolicy) (*Set, error) {
	targets := make(map[int]bool, len(maps))
	for _, m := range maps {
		if m.Source < 0 {
			return nil, InvalidDescriptorError{Fd: m.Source}
		}
		if m.Target < 0 {
			return nil, InvalidDescriptorError{Fd: m.Target}
		}
		if targets[m.Target] {
			return nil, DuplicateTargetError{Fd: m.Target}
		}
		targets[m.Target] = true
	}
	s := &Set{
		maps:  make([]Mapping, len(maps)),
		stdio: stdio,
	}
	copy(s.maps, maps)
	return s, nil
}

// Mappings returns a copy of the validated mappings in input order.
func (s *Set) Mappings() []Mapping {
	maps := make([]Mapping, len(s.maps))
	copy(maps, s.maps)
	return maps
}

// Stdio returns the policy for unmapped standard streams.
func (s *Set) Stdio() StdioPolicy {
	return s.stdio
}
