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
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://schemas.aleutian.ai/adam/ontology.schema.json"

//go:embed schema.json
var schemaJSON []byte

var (
	compiledSchema *jsonschema.Schema
	schemaErr      error
	schemaOnce     sync.Once
)

// Schema returns the raw JSON schema for ontology documents.
func Schema() []byte {
	return bytes.Clone(schemaJSON)
}

func ontologySchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("load ontology schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

// checkShape validates a decoded YAML document against the JSON schema.
// The document is round-tripped through JSON so numbers and maps have the
// types the validator expects.
func checkShape(doc any) []string {
	schema, err := ontologySchema()
	if err != nil {
		return []string{err.Error()}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return []string{fmt.Sprintf("document is not representable as JSON: %v", err)}
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return []string{err.Error()}
	}

	err = schema.Validate(payload)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var problems []string
	for _, be := range ve.BasicOutput().Errors {
		// The root entry only summarises its causes.
		if be.Error == "" || be.KeywordLocation == "" {
			continue
		}
		loc := be.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		problems = append(problems, fmt.Sprintf("schema %s: %s", loc, be.Error))
	}
	if len(problems) == 0 {
		problems = append(problems, ve.Error())
	}
	return problems
}
