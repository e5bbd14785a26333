// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders CLI output: styled on a terminal, plain otherwise.
package ux

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// FieldOps palette.
var (
	ColorTealBright = lipgloss.Color("#2CD7C7")
	ColorTealDeep   = lipgloss.Color("#16858E")
	ColorSlate      = lipgloss.Color("#2C4A54")
	ColorWarning    = lipgloss.Color("#F4D03F")
	ColorError      = lipgloss.Color("#E74C3C")
)

// Styles are the pre-configured lipgloss styles.
var Styles = struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Key     lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorTealBright),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Key:     lipgloss.NewStyle().Foreground(ColorTealDeep).Bold(true),
}

// Icon is a status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
)

// Printer writes status lines to w. Styling is applied only when w is a
// terminal, so piped output stays machine-readable.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter creates a Printer for w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, styled: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Styled reports whether output is styled.
func (p *Printer) Styled() bool {
	return p.styled
}

// Value prints a bare value, highlighted on a terminal.
func (p *Printer) Value(v string) {
	if p.styled {
		v = Styles.Title.Render(v)
	}
	fmt.Fprintln(p.w, v)
}

// KeyValue prints "key: value".
func (p *Printer) KeyValue(key, value string) {
	if p.styled {
		key = Styles.Key.Render(key)
	}
	fmt.Fprintf(p.w, "%s: %s\n", key, value)
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	p.status(IconSuccess, Styles.Success, text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	p.status(IconWarning, Styles.Warning, text)
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	p.status(IconError, Styles.Error, text)
}

func (p *Printer) status(icon Icon, style lipgloss.Style, text string) {
	if !p.styled {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", style.Render(string(icon)), text)
}
