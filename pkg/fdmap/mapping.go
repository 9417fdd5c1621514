package fdmap

// Mapping requests that child descriptor Target refer to the file
// currently open at Source. Both are descriptor numbers in the calling
// process; the mapping itself owns neither. Source == Target keeps the
// descriptor open at its current number across execve.
type Mapping struct {
	Source int
	Target int
}

// StdioPolicy selects what happens to descriptors 0, 1 and 2 that are
// not covered by any mapping.
type StdioPolicy int

// Stdio policies, default is to preserve
const (
	StdioPreserve StdioPolicy = iota
	StdioClose
)

var stdioPolicyToString = []string{
	"preserve",
	"close",
}

func (p StdioPolicy) String() string {
	if p >= StdioPreserve && p <= StdioClose {
		return stdioPolicyToString[p]
	}
	return "unknown"
}

// Stdio builds the three conventional standard stream mappings.
func Stdio(in, out, err int) []Mapping {
	return []Mapping{{in, 0}, {out, 1}, {err, 2}}
}
