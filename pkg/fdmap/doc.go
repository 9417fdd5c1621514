// Package fdmap rewrites file descriptor tables: a validated set of
// (source, target) descriptor mappings is compiled into a flat operation
// plan that can be replayed onto a descriptor table, either in process
// through the Table interface or by the forkexec child between clone
// and execve.
//
// Mappings may overlap or form cycles; the compiled plan orders the
// duplications so that no descriptor is overwritten while still needed
// and breaks each cycle with a single temporary obtained above the
// mapped range.
//
// dup3 requires kernel >= 2.6.27
package fdmap
