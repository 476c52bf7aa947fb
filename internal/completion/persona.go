// ABOUTME: Persona definition loaded from TOML describing who the drafted replies speak as
// ABOUTME: Provides the system instruction and the speaker labels used in prompts

package completion

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Persona is the fixed instruction placed at element 0 of every prompt.
type Persona struct {
	Instruction   string `toml:"instruction"`
	OperatorLabel string `toml:"operator_label"`
	PartnerLabel  string `toml:"partner_label"`
}

// DefaultPersona is used when no persona file is configured.
func DefaultPersona() Persona {
	return Persona{
		Instruction: "You are a personal assistant that completes conversations on behalf of User 1. " +
			"Read the conversation and reply as if you were User 1, matching User 1's tone of voice and writing style.",
		OperatorLabel: "User 1",
		PartnerLabel:  "User 2",
	}
}

// LoadPersona reads a persona file. A missing file yields DefaultPersona.
func LoadPersona(path string) (Persona, error) {
	p := DefaultPersona()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p, nil
		}
		return Persona{}, fmt.Errorf("reading persona file: %w", err)
	}
	if _, err := toml.Decode(string(data), &p); err != nil {
		return Persona{}, fmt.Errorf("parsing persona file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Persona{}, fmt.Errorf("validating persona file: %w", err)
	}
	return p, nil
}

// Validate checks that the instruction and labels are present and distinct.
func (p Persona) Validate() error {
	if strings.TrimSpace(p.Instruction) == "" {
		return fmt.Errorf("instruction is required")
	}
	if p.OperatorLabel == "" || p.PartnerLabel == "" {
		return fmt.Errorf("operator_label and partner_label are required")
	}
	if p.OperatorLabel == p.PartnerLabel {
		return fmt.Errorf("operator_label and partner_label must differ")
	}
	return nil
}
