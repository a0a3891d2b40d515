// Package arch describes the code-generation target: word width, the
// safepoint latch register, and the per-family instruction idioms templates
// depend on.
package arch

import (
	"fmt"
	"strings"
)

// Family enumerates supported instruction-set families.
type Family uint8

const (
	FamilyAMD64 Family = iota
	FamilyARM64
	FamilyARM
	FamilyRISCV64
)

func (f Family) String() string {
	switch f {
	case FamilyAMD64:
		return "amd64"
	case FamilyARM64:
		return "arm64"
	case FamilyARM:
		return "arm"
	case FamilyRISCV64:
		return "riscv64"
	default:
		return "family?"
	}
}

// Arch is the target descriptor handed to the catalog build.
type Arch struct {
	Name     string
	Family   Family
	WordSize int
	// Latch is the register holding the thread-locals pointer; it doubles
	// as the safepoint poll address.
	Latch string
	// Scratch is a register the ARM array-size alignment sequence may
	// clobber.
	Scratch string
}

// AMD64 returns the x86-64 target.
func AMD64() Arch {
	return Arch{Name: "amd64", Family: FamilyAMD64, WordSize: 8, Latch: "r14", Scratch: "r11"}
}

// ARM64 returns the AArch64 target.
func ARM64() Arch {
	return Arch{Name: "arm64", Family: FamilyARM64, WordSize: 8, Latch: "x26", Scratch: "x16"}
}

// ARM returns the 32-bit ARM target.
func ARM() Arch {
	return Arch{Name: "arm", Family: FamilyARM, WordSize: 4, Latch: "r10", Scratch: "r8"}
}

// RISCV64 returns the RV64 target.
func RISCV64() Arch {
	return Arch{Name: "riscv64", Family: FamilyRISCV64, WordSize: 8, Latch: "x27", Scratch: "x31"}
}

// ByName resolves a target by its canonical name.
func ByName(name string) (Arch, error) {
	switch strings.ToLower(name) {
	case "amd64", "x86_64", "x86-64":
		return AMD64(), nil
	case "arm64", "aarch64":
		return ARM64(), nil
	case "arm", "armv7":
		return ARM(), nil
	case "riscv64", "rv64":
		return RISCV64(), nil
	default:
		return Arch{}, fmt.Errorf("unknown target %q (amd64|arm64|arm|riscv64)", name)
	}
}
