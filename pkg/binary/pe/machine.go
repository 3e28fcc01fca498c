package pe

import (
	dpe "debug/pe"
	"fmt"
)

// Machine is a COFF machine type.
type Machine uint16

var machineNames = map[Machine]string{
	dpe.IMAGE_FILE_MACHINE_I386:  "x86",
	dpe.IMAGE_FILE_MACHINE_AMD64: "x64",
	dpe.IMAGE_FILE_MACHINE_ARM:   "arm",
	dpe.IMAGE_FILE_MACHINE_ARMNT: "arm",
	dpe.IMAGE_FILE_MACHINE_ARM64: "arm64",
	dpe.IMAGE_FILE_MACHINE_IA64:  "ia64",
}

func (m Machine) String() string {
	if n, ok := machineNames[m]; ok {
		return n
	}
	return fmt.Sprintf("machine(0x%x)", uint16(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m Machine) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Subsystem is the optional header subsystem.
type Subsystem uint16

var subsystemNames = map[Subsystem]string{
	dpe.IMAGE_SUBSYSTEM_NATIVE:                   "native",
	dpe.IMAGE_SUBSYSTEM_WINDOWS_GUI:              "windows-gui",
	dpe.IMAGE_SUBSYSTEM_WINDOWS_CUI:              "windows-cui",
	dpe.IMAGE_SUBSYSTEM_POSIX_CUI:                "posix-cui",
	dpe.IMAGE_SUBSYSTEM_WINDOWS_CE_GUI:           "windows-ce-gui",
	dpe.IMAGE_SUBSYSTEM_EFI_APPLICATION:          "efi-application",
	dpe.IMAGE_SUBSYSTEM_EFI_BOOT_SERVICE_DRIVER:  "efi-boot-driver",
	dpe.IMAGE_SUBSYSTEM_EFI_RUNTIME_DRIVER:       "efi-runtime-driver",
	dpe.IMAGE_SUBSYSTEM_XBOX:                     "xbox",
	dpe.IMAGE_SUBSYSTEM_WINDOWS_BOOT_APPLICATION: "windows-boot-application",
}

func (s Subsystem) String() string {
	if n, ok := subsystemNames[s]; ok {
		return n
	}
	return fmt.Sprintf("subsystem(%d)", uint16(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Subsystem) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
