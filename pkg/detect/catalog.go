package detect

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/protolens/protolens/pkg/protocol"
)

// CatalogEntry is the YAML form of one custom signature.
//
//	signatures:
//	  - tag: custom:myproto
//	    pattern: "MYPROT"        # ASCII, or "hex:4d595052" for raw bytes
//	    offset: 0
//	    case_fold: false
//	    confidence: 0.9
//	    search: false
//	    description: my protocol banner
type CatalogEntry struct {
	Tag         string      `yaml:"tag"`
	Pattern     string      `yaml:"pattern"`
	Mask        string      `yaml:"mask,omitempty"`
	Offset      interface{} `yaml:"offset,omitempty"`
	CaseFold    bool        `yaml:"case_fold,omitempty"`
	Confidence  interface{} `yaml:"confidence,omitempty"`
	Search      bool        `yaml:"search,omitempty"`
	Description string      `yaml:"description,omitempty"`
}

type catalogFile struct {
	Signatures []CatalogEntry `yaml:"signatures"`
}

// LoadCatalog reads custom signatures from a YAML file.
func LoadCatalog(path string) ([]Signature, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading signature catalog: %w", err)
	}
	return ParseCatalog(raw)
}

// ParseCatalog decodes and validates a YAML signature catalog.
func ParseCatalog(raw []byte) ([]Signature, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decoding signature catalog: %w", err)
	}

	sigs := make([]Signature, 0, len(file.Signatures))
	for i, entry := range file.Signatures {
		sig, err := entry.toSignature()
		if err != nil {
			return nil, fmt.Errorf("signature %d (%s): %w", i, entry.Tag, err)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

func (e CatalogEntry) toSignature() (Signature, error) {
	if e.Tag == "" {
		return Signature{}, &ConfigError{Reason: "tag is required"}
	}
	pattern, err := decodePattern(e.Pattern)
	if err != nil {
		return Signature{}, err
	}

	builder := NewSignature(protocol.Tag(e.Tag), e.Description).
		Pattern(pattern).
		Offset(cast.ToInt(e.Offset))
	if e.Confidence != nil {
		builder.Confidence(cast.ToFloat64(e.Confidence))
	}
	if e.CaseFold {
		builder.CaseFold()
	}
	if e.Search {
		builder.SearchAnywhere()
	}
	if e.Mask != "" {
		mask, err := decodePattern(e.Mask)
		if err != nil {
			return Signature{}, err
		}
		builder.Mask(mask)
	}
	return builder.Build()
}

// decodePattern interprets "hex:..." values as raw bytes and everything
// else as ASCII.
func decodePattern(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "hex:"); ok {
		raw, err := hex.DecodeString(strings.ReplaceAll(rest, " ", ""))
		if err != nil {
			return nil, &ConfigError{Reason: "invalid hex pattern: " + err.Error()}
		}
		return raw, nil
	}
	return []byte(s), nil
}
