// Package debugpath locates the debug companion of an ELF binary.
//
// Resolution looks, in order, for a split-DWARF .dwo name in the first unit root, then
// a .gnu_debuglink name, then falls back to classifying the binary by which sections
// carry bits. Candidate names are searched in the configured directories and the
// binary's own directory. A missing companion is a normal outcome and is never an error.
package debugpath
