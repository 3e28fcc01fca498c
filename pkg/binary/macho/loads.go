package macho

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
	"github.com/lunixbochs/struc"
)

// Load command numbers not decoded by debug/macho.
const (
	lcReqDyld         = 0x80000000
	lcLoadDylib       = 0xc
	lcIDDylib         = 0xd
	lcLoadDylinker    = 0xe
	lcUUID            = 0x1b
	lcLazyLoadDylib   = 0x20
	lcVersionMinMacOS = 0x24
	lcVersionMinIOS   = 0x25
	lcVersionMinTVOS  = 0x2f
	lcVersionMinWatch = 0x30
	lcBuildVersion    = 0x32
	lcLoadWeakDylib   = 0x18 | lcReqDyld
	lcReexportDylib   = 0x1f | lcReqDyld
	lcLoadUpwardDylib = 0x23 | lcReqDyld
)

// Platform is an LC_BUILD_VERSION platform.
type Platform uint32

const (
	PlatformUnknown Platform = iota
	PlatformMacOS
	PlatformIOS
	PlatformTVOS
	PlatformWatchOS
	PlatformBridgeOS
	PlatformMacCatalyst
	PlatformIOSSimulator
	PlatformTVOSSimulator
	PlatformWatchOSSimulator
	PlatformDriverKit
	PlatformVisionOS
	PlatformVisionOSSimulator
)

var platformNames = [...]string{
	PlatformUnknown:           "unknown",
	PlatformMacOS:             "macOS",
	PlatformIOS:               "iOS",
	PlatformTVOS:              "tvOS",
	PlatformWatchOS:           "watchOS",
	PlatformBridgeOS:          "bridgeOS",
	PlatformMacCatalyst:       "macCatalyst",
	PlatformIOSSimulator:      "iOSSimulator",
	PlatformTVOSSimulator:     "tvOSSimulator",
	PlatformWatchOSSimulator:  "watchOSSimulator",
	PlatformDriverKit:         "DriverKit",
	PlatformVisionOS:          "visionOS",
	PlatformVisionOSSimulator: "visionOSSimulator",
}

func (p Platform) String() string {
	if int(p) < len(platformNames) {
		return platformNames[p]
	}
	return fmt.Sprintf("platform(%d)", uint32(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p Platform) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// BuildVersion is the target platform and OS versions from LC_BUILD_VERSION or an
// LC_VERSION_MIN_* command.
type BuildVersion struct {
	Platform Platform `json:"platform"`
	MinOS    string   `json:"min_os"`
	SDK      string   `json:"sdk"`
}

// DylibKind says how a dylib is referenced.
type DylibKind string

const (
	DylibLoad     DylibKind = "load"
	DylibWeak     DylibKind = "weak"
	DylibReexport DylibKind = "reexport"
	DylibLazy     DylibKind = "lazy"
	DylibUpward   DylibKind = "upward"
	DylibID       DylibKind = "id"
)

var dylibKinds = map[uint32]DylibKind{
	lcLoadDylib:       DylibLoad,
	lcLoadWeakDylib:   DylibWeak,
	lcReexportDylib:   DylibReexport,
	lcLazyLoadDylib:   DylibLazy,
	lcLoadUpwardDylib: DylibUpward,
	lcIDDylib:         DylibID,
}

// Dylib is a dylib load command.
type Dylib struct {
	Kind                 DylibKind `json:"kind"`
	Name                 string    `json:"name"`
	CurrentVersion       string    `json:"current_version"`
	CompatibilityVersion string    `json:"compatibility_version"`
}

type buildVersionCommand struct {
	Cmd      uint32
	Size     uint32
	Platform uint32
	MinOS    uint32
	SDK      uint32
	NTools   uint32
}

type versionMinCommand struct {
	Cmd     uint32
	Size    uint32
	Version uint32
	SDK     uint32
}

type dylibCommand struct {
	Cmd            uint32
	Size           uint32
	NameOffset     uint32
	Timestamp      uint32
	CurrentVersion uint32
	CompatVersion  uint32
}

// formatVersion decodes the xxxx.yy.zz nibble encoding.
func formatVersion(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>16, (v>>8)&0xff, v&0xff)
}

// loads calls fn with the command number and raw bytes of every load command.
func (s *Slice) loads(fn func(cmd uint32, raw []byte) bool) {
	for _, l := range s.mf.Loads {
		raw := l.Raw()
		if len(raw) < 8 {
			continue
		}
		if !fn(s.mf.ByteOrder.Uint32(raw), raw) {
			return
		}
	}
}

// UUID returns the LC_UUID of the slice.
func (s *Slice) UUID() (uuid.UUID, bool) {
	var (
		id    uuid.UUID
		found bool
	)
	s.loads(func(cmd uint32, raw []byte) bool {
		if cmd != lcUUID || len(raw) < 24 {
			return true
		}
		u, err := uuid.FromBytes(raw[8:24])
		if err != nil {
			return true
		}
		id, found = u, true
		return false
	})
	return id, found
}

// BuildVersion returns the platform and versions of the first LC_BUILD_VERSION or
// LC_VERSION_MIN_* command.
func (s *Slice) BuildVersion() (BuildVersion, bool) {
	var (
		bv    BuildVersion
		found bool
	)
	s.loads(func(cmd uint32, raw []byte) bool {
		switch cmd {
		case lcBuildVersion:
			var c buildVersionCommand
			if err := struc.UnpackWithOrder(bytes.NewReader(raw), &c, s.mf.ByteOrder); err != nil {
				s.logger.Debug().Err(err).Msg("Malformed LC_BUILD_VERSION")
				return true
			}
			bv = BuildVersion{Platform: Platform(c.Platform), MinOS: formatVersion(c.MinOS), SDK: formatVersion(c.SDK)}
		case lcVersionMinMacOS, lcVersionMinIOS, lcVersionMinTVOS, lcVersionMinWatch:
			var c versionMinCommand
			if err := struc.UnpackWithOrder(bytes.NewReader(raw), &c, s.mf.ByteOrder); err != nil {
				s.logger.Debug().Err(err).Msg("Malformed LC_VERSION_MIN command")
				return true
			}
			bv = BuildVersion{Platform: versionMinPlatform(cmd), MinOS: formatVersion(c.Version), SDK: formatVersion(c.SDK)}
		default:
			return true
		}
		found = true
		return false
	})
	return bv, found
}

func versionMinPlatform(cmd uint32) Platform {
	switch cmd {
	case lcVersionMinMacOS:
		return PlatformMacOS
	case lcVersionMinIOS:
		return PlatformIOS
	case lcVersionMinTVOS:
		return PlatformTVOS
	case lcVersionMinWatch:
		return PlatformWatchOS
	}
	return PlatformUnknown
}

// Dylibs returns every dylib command in load order.
func (s *Slice) Dylibs() []Dylib {
	var out []Dylib
	s.loads(func(cmd uint32, raw []byte) bool {
		kind, ok := dylibKinds[cmd]
		if !ok {
			return true
		}
		var c dylibCommand
		if err := struc.UnpackWithOrder(bytes.NewReader(raw), &c, s.mf.ByteOrder); err != nil || int(c.NameOffset) >= len(raw) {
			s.logger.Debug().Err(err).Uint32("cmd", cmd).Msg("Malformed dylib command")
			return true
		}
		out = append(out, Dylib{
			Kind:                 kind,
			Name:                 cstring(raw[c.NameOffset:]),
			CurrentVersion:       formatVersion(c.CurrentVersion),
			CompatibilityVersion: formatVersion(c.CompatVersion),
		})
		return true
	})
	return out
}

// Dylinker returns the dynamic linker named by LC_LOAD_DYLINKER.
func (s *Slice) Dylinker() string {
	var name string
	s.loads(func(cmd uint32, raw []byte) bool {
		if cmd != lcLoadDylinker || len(raw) < 12 {
			return true
		}
		off := s.mf.ByteOrder.Uint32(raw[8:12])
		if int(off) < len(raw) {
			name = cstring(raw[off:])
		}
		return false
	})
	return name
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
