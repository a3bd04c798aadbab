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
	"sync/atomic"
	"time"
)

// Holder publishes the current ontology to concurrent readers.
//
// Readers call Current once per request and use that snapshot for the
// whole request; a reload never changes an ontology already handed out.
type Holder struct {
	current  atomic.Pointer[Ontology]
	loadedAt atomic.Int64
	reloads  atomic.Int64
}

// NewHolder creates a Holder publishing o. o must be validated.
func NewHolder(o *Ontology) *Holder {
	h := &Holder{}
	h.Store(o)
	return h
}

// Current returns the active ontology.
func (h *Holder) Current() *Ontology {
	return h.current.Load()
}

// Store replaces the active ontology.
func (h *Holder) Store(o *Ontology) {
	h.current.Store(o)
	h.loadedAt.Store(time.Now().UnixNano())
	h.reloads.Add(1)
}

// LoadedAt returns when the active ontology was published.
func (h *Holder) LoadedAt() time.Time {
	return time.Unix(0, h.loadedAt.Load())
}

// Generation counts how many ontologies have been published.
func (h *Holder) Generation() int64 {
	return h.reloads.Load()
}
