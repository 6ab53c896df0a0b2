package domain

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var fiscalValidate = validator.New()

type fiscalCheck struct {
	Personhood  string `validate:"required,oneof=individual sole_trader company"`
	LegalName   string `validate:"required_unless=Personhood individual"`
	CNP         string `validate:"required_if=Personhood individual,omitempty,len=13,numeric"`
	CUI         string `validate:"required_unless=Personhood individual"`
	AddressLine string `validate:"required"`
	City        string `validate:"required"`
	County      string `validate:"required"`
	PostalCode  string `validate:"required"`
}

// ValidateFiscalProfile checks completeness per personhood type and returns
// *MissingFiscalDataError naming every incomplete field.
func ValidateFiscalProfile(p *FiscalProfile) error {
	if p == nil {
		return &MissingFiscalDataError{Fields: []string{"fiscal_profile"}}
	}

	check := fiscalCheck{
		Personhood:  string(p.Personhood),
		LegalName:   strings.TrimSpace(p.LegalName),
		CNP:         strings.TrimSpace(p.CNP),
		CUI:         strings.TrimSpace(p.CUI),
		AddressLine: strings.TrimSpace(p.AddressLine),
		City:        strings.TrimSpace(p.City),
		County:      strings.TrimSpace(p.County),
		PostalCode:  strings.TrimSpace(p.PostalCode),
	}

	err := fiscalValidate.Struct(check)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	fields := make([]string, 0, len(verrs))
	for _, verr := range verrs {
		fields = append(fields, fieldName(verr.Field()))
	}
	return &MissingFiscalDataError{Fields: fields}
}

func fieldName(field string) string {
	switch field {
	case "Personhood":
		return "personhood"
	case "LegalName":
		return "legal_name"
	case "CNP":
		return "cnp"
	case "CUI":
		return "cui"
	case "AddressLine":
		return "address_line"
	case "City":
		return "city"
	case "County":
		return "county"
	case "PostalCode":
		return "postal_code"
	default:
		return strings.ToLower(field)
	}
}
