package logging

import (
	"fmt"

	"github.com/Graylog2/go-gelf/gelf"
)

// EnableGelf opens a GELF UDP writer to the given Graylog address
// (host:port). It must be called before Setup for records to be forwarded.
func (m *SlogManager) EnableGelf(addr string) error {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return fmt.Errorf("gelf writer for %s: %w", addr, err)
	}
	m.gelfWriter = w
	return nil
}
