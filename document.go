package opal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// DocumentPayload is the issuer's claim: Source compiles to Bytecode, and the
// deployed contract serves QueryURI.
type DocumentPayload struct {
	Source   string `json:"source"`
	Bytecode string `json:"bytecode"`
	QueryURI string `json:"queryURI"`

	// Contract names the artifact in the compiler output. Optional.
	Contract string `json:"contract,omitempty"`
}

// SignedDocument is a payload together with its issuer envelope.
type SignedDocument struct {
	Payload  DocumentPayload `json:"payload"`
	Envelope *Envelope       `json:"envelope,omitempty"`
}

// ParseDocument decodes a JSON document.
func ParseDocument(data []byte) (*SignedDocument, error) {
	var doc SignedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("opal: parse document: %w", err)
	}
	if err := doc.Payload.check(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// LoadDocument reads and decodes a JSON document from path.
func LoadDocument(path string) (*SignedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("opal: read document: %w", err)
	}
	return ParseDocument(data)
}

func (p *DocumentPayload) check() error {
	var missing []string
	if strings.TrimSpace(p.Source) == "" {
		missing = append(missing, "source")
	}
	if strings.TrimSpace(p.Bytecode) == "" {
		missing = append(missing, "bytecode")
	}
	if p.QueryURI == "" {
		missing = append(missing, "queryURI")
	}
	if len(missing) > 0 {
		return errors.New("opal: document payload missing " + strings.Join(missing, ", "))
	}
	return nil
}
