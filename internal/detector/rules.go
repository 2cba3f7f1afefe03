package detector

import (
	"net"
	"regexp"
	"strings"

	"github.com/omers/pii-anonymizer-api/internal/anonymizer"
)

// Rule is a single regex recognizer. Name is the entity type it emits.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Score    float64
	Validate func(match string) bool
}

// GetDefaultRules returns the builtin recognizers in evaluation order.
func GetDefaultRules() []Rule {
	return []Rule{
		{
			Name:    anonymizer.EntityEmailAddress,
			Pattern: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
			Score:   1.0,
		},
		{
			Name:     anonymizer.EntityCreditCard,
			Pattern:  regexp.MustCompile(`\b(?:\d[ \-]?){12,18}\d\b`),
			Score:    1.0,
			Validate: luhnValid,
		},
		{
			Name:     anonymizer.EntityIBANCode,
			Pattern:  regexp.MustCompile(`\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,4})?\b`),
			Score:    1.0,
			Validate: ibanValid,
		},
		{
			Name:     anonymizer.EntityUSSSN,
			Pattern:  regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Score:    0.85,
			Validate: ssnValid,
		},
		{
			Name:    anonymizer.EntityPhoneNumber,
			Pattern: regexp.MustCompile(`(?:\+\d{1,3}[ .\-]?)?(?:\(\d{3}\)|\b\d{3})[ .\-]?\d{3}[ .\-]?\d{4}\b`),
			Score:   0.75,
		},
		{
			Name:     anonymizer.EntityIPAddress,
			Pattern:  regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			Score:    0.6,
			Validate: func(s string) bool { return net.ParseIP(s) != nil },
		},
		{
			Name:    anonymizer.EntityURL,
			Pattern: regexp.MustCompile(`\bhttps?://[^\s<>"']*[^\s<>"'.,;:!?)]`),
			Score:   0.6,
		},
		{
			Name:    anonymizer.EntityDateTime,
			Pattern: regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2})?)?\b|\b\d{1,2}/\d{1,2}/\d{2,4}\b`),
			Score:   0.6,
		},
	}
}

// luhnValid checks the card checksum over the digits of s.
func luhnValid(s string) bool {
	sum, digits := 0, 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
		digits++
	}
	return digits >= 13 && digits <= 19 && sum%10 == 0
}

// ibanValid checks the ISO 13616 mod-97 checksum.
func ibanValid(s string) bool {
	s = strings.ReplaceAll(s, " ", "")
	if len(s) < 15 || len(s) > 34 {
		return false
	}
	s = s[4:] + s[:4]

	rem := 0
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			rem = (rem*10 + int(c-'0')) % 97
		case c >= 'A' && c <= 'Z':
			rem = (rem*100 + int(c-'A') + 10) % 97
		default:
			return false
		}
	}
	return rem == 1
}

// ssnValid rejects area, group and serial numbers that are never issued.
func ssnValid(s string) bool {
	area, group, serial := s[0:3], s[4:6], s[7:11]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	return group != "00" && serial != "0000"
}
