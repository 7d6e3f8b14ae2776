package model

import (
	"fmt"
	"strings"
)

// Family is the AMM design a pool belongs to. The set is closed.
type Family uint8

const (
	FamilyUnknown Family = iota
	FamilyConstantProduct
	FamilyConcentrated
	FamilyBin
	FamilyStable
)

// Families lists every supported family in a stable order.
func Families() []Family {
	return []Family{FamilyConstantProduct, FamilyConcentrated, FamilyBin, FamilyStable}
}

func (f Family) String() string {
	switch f {
	case FamilyConstantProduct:
		return "constant_product"
	case FamilyConcentrated:
		return "concentrated"
	case FamilyBin:
		return "bin"
	case FamilyStable:
		return "stable"
	default:
		return "unknown"
	}
}

// ParseFamily accepts the canonical names plus a few venue aliases.
func ParseFamily(input string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "constant_product", "constant-product", "cpmm", "v2":
		return FamilyConstantProduct, nil
	case "concentrated", "clmm", "v3":
		return FamilyConcentrated, nil
	case "bin", "dlmm", "lb":
		return FamilyBin, nil
	case "stable", "stableswap", "curve":
		return FamilyStable, nil
	default:
		return FamilyUnknown, fmt.Errorf("unsupported amm family: %q", input)
	}
}

func (f Family) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *Family) UnmarshalText(text []byte) error {
	parsed, err := ParseFamily(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
