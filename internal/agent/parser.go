package agent

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"tally.bridge/internal/core/domain"
)

// Tally exports wrap masters in ENVELOPE/BODY/.../TALLYMESSAGE; the depth varies by
// export type, so the parsers stream tokens and decode each master where it appears.

type xmlLedger struct {
	Name           string   `xml:"NAME,attr"`
	NameField      string   `xml:"NAME"`
	GUID           string   `xml:"GUID"`
	Parent         string   `xml:"PARENT"`
	Email          string   `xml:"EMAIL"`
	Phone          string   `xml:"LEDGERPHONE"`
	Mobile         string   `xml:"LEDGERMOBILE"`
	GSTIN          string   `xml:"PARTYGSTIN"`
	OpeningBalance string   `xml:"OPENINGBALANCE"`
	Address        []string `xml:"ADDRESS.LIST>ADDRESS"`
}

type xmlCompany struct {
	Name         string `xml:"NAME,attr"`
	NameField    string `xml:"NAME"`
	GUID         string `xml:"GUID"`
	StartingFrom string `xml:"STARTINGFROM"`
	EndingAt     string `xml:"ENDINGAT"`
}

// ParseLedgerExport reads the LEDGER masters of a Tally XML export.
func ParseLedgerExport(r io.Reader) ([]domain.LedgerPayload, error) {
	var out []domain.LedgerPayload
	err := walk(r, "LEDGER", func(d *xml.Decoder, start xml.StartElement) error {
		var l xmlLedger
		if err := d.DecodeElement(&l, &start); err != nil {
			return err
		}
		name := firstNonEmpty(l.Name, l.NameField)
		balance, err := parseAmount(l.OpeningBalance)
		if err != nil {
			return fmt.Errorf("ledger %q: %w", name, err)
		}
		out = append(out, domain.LedgerPayload{
			ExternalID:     firstNonEmpty(l.GUID, name),
			Name:           name,
			Email:          strings.TrimSpace(l.Email),
			Phone:          firstNonEmpty(l.Phone, l.Mobile),
			GSTIN:          strings.TrimSpace(l.GSTIN),
			Address:        joinLines(l.Address),
			ParentGroup:    strings.TrimSpace(l.Parent),
			OpeningBalance: balance,
		})
		return nil
	})
	return out, err
}

// ParseCompanyExport reads the COMPANY masters of a Tally XML export.
func ParseCompanyExport(r io.Reader) ([]domain.CompanyPayload, error) {
	var out []domain.CompanyPayload
	err := walk(r, "COMPANY", func(d *xml.Decoder, start xml.StartElement) error {
		var c xmlCompany
		if err := d.DecodeElement(&c, &start); err != nil {
			return err
		}
		name := firstNonEmpty(c.Name, c.NameField)
		out = append(out, domain.CompanyPayload{
			GUID:       strings.TrimSpace(c.GUID),
			ExternalID: firstNonEmpty(c.GUID, name),
			Name:       name,
			StartDate:  strings.TrimSpace(c.StartingFrom),
			EndDate:    strings.TrimSpace(c.EndingAt),
		})
		return nil
	})
	return out, err
}

func walk(r io.Reader, element string, fn func(*xml.Decoder, xml.StartElement) error) error {
	d := xml.NewDecoder(r)
	// Exports declaring a legacy charset are read as-is.
	d.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parsing tally export: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != element {
			continue
		}
		if err := fn(d, start); err != nil {
			return fmt.Errorf("parsing tally export: %w", err)
		}
	}
}

// parseAmount reads Tally amounts such as "-1,200.50" or "1200.00 Dr". Credit balances are negative.
func parseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	sign := 1.0
	switch {
	case strings.HasSuffix(s, "Cr"):
		sign = -1
		s = strings.TrimSpace(strings.TrimSuffix(s, "Cr"))
	case strings.HasSuffix(s, "Dr"):
		s = strings.TrimSpace(strings.TrimSuffix(s, "Dr"))
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return sign * v, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func joinLines(lines []string) string {
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, ", ")
}
