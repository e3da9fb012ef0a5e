package presentation

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Formatter handles output formatting
type Formatter struct {
	writer io.Writer
	format string
}

// NewFormatter creates a new JSON formatter
func NewFormatter(writer io.Writer) *Formatter {
	return &Formatter{
		writer: writer,
		format: FormatJSON,
	}
}

// NewFormatterFor creates a formatter for the named format.
func NewFormatterFor(writer io.Writer, format string) (*Formatter, error) {
	switch format {
	case "", FormatJSON:
		return NewFormatter(writer), nil
	case FormatYAML:
		return &Formatter{writer: writer, format: FormatYAML}, nil
	default:
		return nil, fmt.Errorf("unsupported format %q (want json or yaml)", format)
	}
}

// FormatRecords formats deployment records
func (f *Formatter) FormatRecords(records []RecordDTO) error {
	return f.encode(records)
}

// FormatRuns formats run history
func (f *Formatter) FormatRuns(runs []RunDTO) error {
	return f.encode(runs)
}

// FormatNetworks formats network policies
func (f *Formatter) FormatNetworks(networks []NetworkDTO) error {
	return f.encode(networks)
}

// FormatHandover formats a handover status
func (f *Formatter) FormatHandover(status HandoverDTO) error {
	return f.encode(status)
}

// FormatAddressBook formats an address book
func (f *Formatter) FormatAddressBook(book AddressBook) error {
	return f.encode(book)
}

func (f *Formatter) encode(v any) error {
	if f.format == FormatYAML {
		encoder := yaml.NewEncoder(f.writer)
		encoder.SetIndent(2)
		if err := encoder.Encode(v); err != nil {
			return err
		}
		return encoder.Close()
	}
	encoder := json.NewEncoder(f.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
