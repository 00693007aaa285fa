package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/pflag"
)

// FlagEnum is a string flag restricted to a fixed set of values.
type FlagEnum struct {
	Allowed []string
	Value   string
}

var _ pflag.Value = (*FlagEnum)(nil)

func NewEnum(allowed []string, d string) *FlagEnum {
	return &FlagEnum{
		Allowed: allowed,
		Value:   d,
	}
}

func (a FlagEnum) String() string {
	return a.Value
}

func (a *FlagEnum) Set(p string) error {
	if !slices.Contains(a.Allowed, p) {
		return fmt.Errorf("invalid value %q, must be one of %v", p, a.Allowed)
	}
	a.Value = p
	return nil
}

func (a *FlagEnum) Type() string {
	return "string"
}
