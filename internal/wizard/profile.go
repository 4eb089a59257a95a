package wizard

import (
	"fmt"
	"strings"
)

// Sector is the applicant employment category.
type Sector string

const (
	SectorFormal   Sector = "formal"
	SectorInformal Sector = "informal"
)

// ParseSector validates a sector taken from the entry route.
func ParseSector(raw string) (Sector, error) {
	switch Sector(strings.ToLower(strings.TrimSpace(raw))) {
	case SectorFormal:
		return SectorFormal, nil
	case SectorInformal:
		return SectorInformal, nil
	}
	return "", fmt.Errorf("%w: unknown sector %q", ErrValidation, raw)
}

// Profile describes what one sector's wizard requires and which document
// categories it analyses. One wizard implementation serves every sector.
type Profile struct {
	Sector Sector

	// AnalyzeBankStatements sends bank statements to the analysis service.
	// When false the category resolves to an empty result without calls.
	AnalyzeBankStatements bool

	// BankAccountToggle lets the applicant declare whether they hold a bank
	// account. Without the toggle the account is assumed to exist.
	BankAccountToggle bool

	AcceptsPayslips bool
	// RequiresPayslips demands at least one payslip on the documents step.
	RequiresPayslips bool
	// RequiresIncomeEvidence demands at least one of bank statements,
	// M-Pesa statements or call logs on the documents step.
	RequiresIncomeEvidence bool

	// SameDayRepayment accepts a repayment date equal to today. Formal
	// applications accept it, informal ones require a future date.
	SameDayRepayment bool
}

// FormalProfile is the salaried applicant flow. Bank statement analysis is
// switched off for it.
func FormalProfile() Profile {
	return Profile{
		Sector:                SectorFormal,
		AnalyzeBankStatements: false,
		AcceptsPayslips:       true,
		RequiresPayslips:      true,
		SameDayRepayment:      true,
	}
}

// InformalProfile is the self-employed applicant flow.
func InformalProfile() Profile {
	return Profile{
		Sector:                 SectorInformal,
		AnalyzeBankStatements:  true,
		BankAccountToggle:      true,
		RequiresIncomeEvidence: true,
	}
}

// ProfileFor returns the profile of sector. formalBankAnalysis re-enables
// bank statement analysis for the formal flow.
func ProfileFor(sector Sector, formalBankAnalysis bool) (Profile, error) {
	switch sector {
	case SectorFormal:
		p := FormalProfile()
		p.AnalyzeBankStatements = formalBankAnalysis
		return p, nil
	case SectorInformal:
		return InformalProfile(), nil
	}
	return Profile{}, fmt.Errorf("%w: unknown sector %q", ErrValidation, sector)
}
