// Package binary holds the format-agnostic model shared by the ELF, Mach-O and PE loaders:
// sections, segments, address normalization, the debug-file state and the error taxonomy.
//
// Loaders live in the elf, macho and pe subpackages. The binscope package picks one by
// sniffing the file magic.
package binary
