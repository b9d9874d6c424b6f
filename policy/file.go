package policy

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ruteri/treasury-vault/interfaces"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a policy file.
//
//	accounts:
//	  - account: operationsReserve
//	    permissions: [transfer, burn]
//	    requiresApproval: false
//	    dailyLimit: 500000
//	    securityLevel: HIGH
type File struct {
	Accounts []interfaces.AccountPolicy `yaml:"accounts"`
}

// Parse decodes a YAML policy document and builds a registry. Unknown keys are rejected.
func Parse(data []byte) (*Registry, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if len(f.Accounts) == 0 {
		return nil, fmt.Errorf("%w: policy file defines no accounts", interfaces.ErrInvalidRequest)
	}
	return NewRegistry(f.Accounts)
}

// LoadFile reads a YAML policy file. An empty path yields the built-in defaults.
func LoadFile(path string) (*Registry, error) {
	if path == "" {
		return NewDefaultRegistry(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}

// Marshal renders policies in the policy file layout.
func Marshal(policies []interfaces.AccountPolicy) ([]byte, error) {
	return yaml.Marshal(File{Accounts: policies})
}
