// Package monitor checks inbound transaction requests against their JSON
// contract before they reach the transaction builder.
package monitor

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/transaction_request.json
var transactionRequestSchema string

// ContractMonitor validates incoming requests against a JSON schema. The
// schema is compiled once; a ContractMonitor is safe for concurrent use.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewContractMonitor creates a ContractMonitor from the schema file at
// schemaPath. The path should be absolute or relative to the working
// directory.
func NewContractMonitor(schemaPath string) (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewReferenceLoader("file://" + schemaPath))
	if err != nil {
		return nil, fmt.Errorf("error loading or compiling schema %s: %w", schemaPath, err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// NewTransactionRequestMonitor creates a ContractMonitor for the built-in
// transaction request contract.
func NewTransactionRequestMonitor() (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(transactionRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("error compiling transaction request schema: %w", err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// Validate validates the given request body against the schema.
// It returns true if valid, or false and a list of validation errors if invalid.
func (cm *ContractMonitor) Validate(requestBody []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(requestBody))
	if err != nil {
		return false, nil, fmt.Errorf("error during validation: %w", err)
	}

	if result.Valid() {
		return true, nil, nil
	}

	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, desc.String())
	}
	return false, errors, nil
}

// FormatErrors formats a slice of validation error strings into a single string.
func FormatErrors(validationErrors []string) string {
	if len(validationErrors) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(validationErrors, "; ")
}
