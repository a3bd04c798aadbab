// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ontology

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads, validates and returns the ontology at path.
func Load(path string) (*Ontology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrInvalidOntology, path, err)
	}
	o, err := parse(data)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Source = path
			return nil, ve
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return o, nil
}

// Parse decodes and validates an ontology YAML (or JSON) document.
//
// The document is checked in three passes: JSON-schema shape, struct
// rules, then cross references. Absent forecast settings take their
// defaults. The returned Ontology is validated and ready to use.
func Parse(data []byte) (*Ontology, error) {
	return parse(data)
}

func parse(data []byte) (*Ontology, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ValidationError{Problems: []string{"document is empty"}}
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("yaml: %v", err)}}
	}
	if problems := checkShape(doc); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	o := WithDefaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(o); err != nil {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("yaml: %v", err)}}
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// Marshal renders o back to YAML.
func Marshal(o *Ontology) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(o); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
