package wizard

// FileView describes one selected file without its bytes.
type FileView struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
	Preview     string `json:"preview,omitempty"`
}

// Snapshot is a read-only copy of a draft.
type Snapshot struct {
	ID                   string                    `json:"id"`
	LoanID               string                    `json:"loanId"`
	Sector               Sector                    `json:"sector"`
	Step                 Step                      `json:"step"`
	StepLabel            string                    `json:"stepLabel"`
	Processing           bool                      `json:"processing"`
	GuarantorsProcessing bool                      `json:"guarantorsProcessing"`
	Submitting           bool                      `json:"submitting"`
	Closed               bool                      `json:"closed"`
	Fields               Fields                    `json:"fields"`
	Documents            map[Category][]FileView   `json:"documents"`
	Guarantors           [GuarantorCount]Guarantor `json:"guarantors"`
	GuarantorFiles       []FileView                `json:"guarantorFiles"`
	GuarantorsResolved   bool                      `json:"guarantorsResolved"`
	Results              Results                   `json:"results"`
}

func (w *Wizard) snapshotLocked() Snapshot {
	fields := w.fields
	fields.PayslipPasswords = append([]string(nil), w.fields.PayslipPasswords...)

	docs := make(map[Category][]FileView)
	for c, rule := range categories {
		if rule.internal || w.docs.count(c) == 0 {
			continue
		}
		docs[c] = fileViews(c, w.docs.list(c))
	}
	return Snapshot{
		ID:                   w.id,
		LoanID:               w.loanID,
		Sector:               w.profile.Sector,
		Step:                 w.step,
		StepLabel:            w.step.Label(),
		Processing:           w.processing[w.step],
		GuarantorsProcessing: w.guarantorsProcessing,
		Submitting:           w.submitting,
		Closed:               w.closed,
		Fields:               fields,
		Documents:            docs,
		Guarantors:           w.guarantors,
		GuarantorFiles:       fileViews(CategoryGuarantorIDs, w.docs.list(CategoryGuarantorIDs)),
		GuarantorsResolved:   w.guarantorsResolved,
		Results:              w.results.clone(),
	}
}

func fileViews(c Category, entries []Entry) []FileView {
	out := make([]FileView, len(entries))
	for i, e := range entries {
		v := FileView{
			Index:       i,
			Name:        e.File.Name,
			ContentType: e.File.MediaType(),
			Size:        e.File.Size(),
			Preview:     e.Preview,
		}
		if c == CategoryAssets {
			v.DisplayName = e.DisplayName
		}
		out[i] = v
	}
	return out
}
