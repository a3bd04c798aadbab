// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"strings"
	"testing"
)

// =============================================================================
// Mode Detection Tests
// =============================================================================

func TestNewPrinter_BufferIsPlain(t *testing.T) {
	p := NewPrinter(&bytes.Buffer{})
	if p.Mode() != ModePlain {
		t.Errorf("expected ModePlain for a buffer, got %v", p.Mode())
	}
}

func TestIsTerminal_NonFile(t *testing.T) {
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("a buffer is not a terminal")
	}
}

// =============================================================================
// Message Tests
// =============================================================================

func TestPrinter_PlainMessages(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterMode(&buf, ModePlain)

	p.Title("Forecast")
	p.Success("done")
	p.Warning("careful")
	p.Error("broken")
	p.Info("note")
	p.Muted("aside")

	want := "Forecast\n✓ done\n⚠ careful\n✗ broken\n│ note\naside\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestPrinter_MachineMessages(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterMode(&buf, ModeMachine)

	p.Title("skipped")
	p.Success("done")
	p.Warning("careful")
	p.Error("broken")
	p.Info("note")
	p.Muted("skipped")

	want := "OK\tdone\nWARN\tcareful\nERROR\tbroken\nINFO\tnote\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestPrinter_RichContainsText(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinterMode(&buf, ModeRich)
	p.Success("styled")
	if !strings.Contains(buf.String(), "styled") {
		t.Errorf("rich output lost its text: %q", buf.String())
	}
}

// =============================================================================
// Layout Tests
// =============================================================================

func TestPrinter_Box(t *testing.T) {
	var buf bytes.Buffer
	NewPrinterMode(&buf, ModePlain).Box("ERI", "0.42")
	if buf.String() != "== ERI ==\n0.42\n" {
		t.Errorf("unexpected plain box %q", buf.String())
	}

	buf.Reset()
	NewPrinterMode(&buf, ModeMachine).WarningBox("Warning", "line one\nline two")
	if buf.String() != "Warning\tline one line two\n" {
		t.Errorf("unexpected machine box %q", buf.String())
	}
}

func TestPrinter_KeyValuesAligned(t *testing.T) {
	var buf bytes.Buffer
	NewPrinterMode(&buf, ModePlain).KeyValues([][2]string{
		{"eri", "0.50"},
		{"top driver", "sla_compliance"},
	})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "  eri         0.50" {
		t.Errorf("unexpected first line %q", lines[0])
	}
	if lines[1] != "  top driver  sla_compliance" {
		t.Errorf("unexpected second line %q", lines[1])
	}
}

func TestPrinter_Table(t *testing.T) {
	var buf bytes.Buffer
	NewPrinterMode(&buf, ModePlain).Table(
		[]string{"day", "eri"},
		[][]string{{"2025-01-01", "0.1"}, {"2025-01-02", "0.75"}},
	)
	want := "day         eri\n2025-01-01  0.1\n2025-01-02  0.75\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}

	buf.Reset()
	NewPrinterMode(&buf, ModeMachine).Table([]string{"a", "b"}, [][]string{{"1", "2"}})
	if buf.String() != "a\tb\n1\t2\n" {
		t.Errorf("unexpected machine table %q", buf.String())
	}
}

func TestPrinter_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := NewPrinterMode(&buf, ModeRich).JSON(map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "{\n  \"n\": 1\n}\n" {
		t.Errorf("unexpected json %q", buf.String())
	}
}

// =============================================================================
// Gauge Tests
// =============================================================================

func TestPrinter_Gauge(t *testing.T) {
	p := NewPrinterMode(&bytes.Buffer{}, ModePlain)
	tests := []struct {
		value float64
		want  string
	}{
		{0, "░░░░░░░░░░   0%"},
		{0.5, "█████░░░░░  50%"},
		{1, "██████████ 100%"},
		{1.7, "██████████ 100%"},
		{-2, "░░░░░░░░░░   0%"},
	}
	for _, tt := range tests {
		if got := p.Gauge(tt.value, 10); got != tt.want {
			t.Errorf("Gauge(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}

	if got := NewPrinterMode(&bytes.Buffer{}, ModeMachine).Gauge(0.25, 10); got != "0.2500" {
		t.Errorf("machine gauge = %q", got)
	}
}

func TestRepeatChar(t *testing.T) {
	if repeatChar('x', 0) != "" || repeatChar('x', -1) != "" {
		t.Error("expected empty for n <= 0")
	}
	if repeatChar('█', 3) != "███" {
		t.Error("expected three blocks")
	}
}
