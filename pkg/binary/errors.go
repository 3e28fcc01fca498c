package binary

import "errors"

var (
	// ErrFormatNotRecognized means the input is not a supported container. It is a negative
	// sniff result rather than a failure.
	ErrFormatNotRecognized = errors.New("format not recognized")

	// ErrContainerParse means the section or segment table is malformed. The whole load fails.
	ErrContainerParse = errors.New("container parse error")

	// ErrDebugDecode means a DWARF unit or frame entry is malformed. Only that unit or entry
	// is dropped.
	ErrDebugDecode = errors.New("debug decode error")

	// ErrArtifactNotFound means an expected DWO, debuglink or PDB companion is absent.
	// It is a normal terminal state and is never returned from public accessors.
	ErrArtifactNotFound = errors.New("debug artifact not found")

	// ErrUnsupportedInput means a provenance string could not be decoded.
	ErrUnsupportedInput = errors.New("unsupported input")
)
