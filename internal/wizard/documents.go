package wizard

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mediloan/mediloan/internal/analysis"
)

// Category names one document set of a draft.
type Category string

const (
	CategoryAssets         Category = "assets"
	CategoryHomePhoto      Category = "homeFloorPhoto"
	CategoryShopPhoto      Category = "shopPicture"
	CategoryBankStatements Category = "bankStatements"
	CategoryPayslips       Category = "salaryPayslips"
	CategoryMpesa          Category = "mpesaStatements"
	CategoryCallLogs       Category = "callLogs"
	CategoryGuarantorIDs   Category = "guarantorIds"
)

type categoryRule struct {
	step   Step
	single bool
	accept func(analysis.File) bool
	// internal categories are only filled by the wizard itself.
	internal bool
}

var categories = map[Category]categoryRule{
	CategoryAssets:         {step: StepAssets, accept: analysis.IsImage},
	CategoryHomePhoto:      {step: StepAssets, single: true, accept: analysis.IsImage},
	CategoryShopPhoto:      {step: StepAssets, single: true, accept: analysis.IsImage},
	CategoryBankStatements: {step: StepDocuments, accept: analysis.Any},
	CategoryPayslips:       {step: StepDocuments, accept: analysis.Any},
	CategoryMpesa:          {step: StepDocuments, accept: analysis.Any},
	CategoryCallLogs:       {step: StepDocuments, accept: analysis.IsCSV},
	CategoryGuarantorIDs:   {step: StepLoanDetails, accept: analysis.IsImage, internal: true},
}

// ParseCategory resolves a category applicants may upload to directly. It
// returns the declared constant, never raw itself: route params alias a
// request buffer that is reused once the handler returns.
func ParseCategory(raw string) (Category, error) {
	for c, rule := range categories {
		if string(c) == raw && !rule.internal {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown document category %q", ErrValidation, raw)
}

// Entry is one selected file plus its display name and preview handle.
type Entry struct {
	File        analysis.File
	DisplayName string
	Preview     string
}

// documents holds the selected files of a draft. It is guarded by the
// owning wizard's mutex.
type documents struct {
	entries  map[Category][]Entry
	previews map[string]analysis.File
}

func newDocuments() *documents {
	return &documents{
		entries:  make(map[Category][]Entry),
		previews: make(map[string]analysis.File),
	}
}

func checkTypes(c Category, files []analysis.File) error {
	rule := categories[c]
	for _, f := range files {
		if !rule.accept(f) {
			return fmt.Errorf("%w: %s is not accepted for %s", ErrUnsupportedType, f.Name, c)
		}
	}
	if rule.single && len(files) > 1 {
		return invalid(fmt.Sprintf("%s takes a single file", c))
	}
	return nil
}

// add appends to multi-file categories and replaces single-file ones.
func (d *documents) add(c Category, files []analysis.File) {
	if categories[c].single {
		d.clear(c)
	}
	for _, f := range files {
		token := uuid.NewString()
		d.previews[token] = f
		d.entries[c] = append(d.entries[c], Entry{
			File:        f,
			DisplayName: displayName(f, len(d.entries[c])),
			Preview:     token,
		})
	}
}

func (d *documents) remove(c Category, index int) error {
	list := d.entries[c]
	if index < 0 || index >= len(list) {
		return invalid(fmt.Sprintf("%s has no file at index %d", c, index))
	}
	delete(d.previews, list[index].Preview)
	d.entries[c] = append(list[:index:index], list[index+1:]...)
	return nil
}

func (d *documents) clear(c Category) {
	for _, e := range d.entries[c] {
		delete(d.previews, e.Preview)
	}
	delete(d.entries, c)
}

func (d *documents) count(c Category) int { return len(d.entries[c]) }

func (d *documents) list(c Category) []Entry {
	return append([]Entry(nil), d.entries[c]...)
}

func (d *documents) files(c Category) []analysis.File {
	list := d.entries[c]
	out := make([]analysis.File, len(list))
	for i, e := range list {
		out[i] = e.File
	}
	return out
}

func (d *documents) first(c Category) (analysis.File, bool) {
	if list := d.entries[c]; len(list) > 0 {
		return list[0].File, true
	}
	return analysis.File{}, false
}

func (d *documents) preview(token string) (analysis.File, bool) {
	f, ok := d.previews[token]
	return f, ok
}

func (d *documents) revokeAll() {
	d.previews = make(map[string]analysis.File)
	for c, list := range d.entries {
		for i := range list {
			list[i].Preview = ""
		}
		d.entries[c] = list
	}
}

func displayName(f analysis.File, position int) string {
	name := strings.TrimSuffix(filepath.Base(f.Name), filepath.Ext(f.Name))
	if name == "" || name == "." {
		return fmt.Sprintf("Asset %d", position+1)
	}
	return name
}

// alignPasswords resizes passwords to n entries, keeping existing values
// and padding with empty strings.
func alignPasswords(passwords []string, n int) []string {
	out := make([]string, n)
	copy(out, passwords)
	return out
}
