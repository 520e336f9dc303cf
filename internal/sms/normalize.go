// nexus sms-relay - inbound SMS relay
// Copyright (C) 2025  nexus contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.

package sms

import (
	"strings"
	"unicode"
)

// internationalPrefix is the "00" dialing prefix used in place of "+".
const internationalPrefix = "00"

// Normalize strips a phone number down to its canonical digit-only form.
//
// Every character that is not a decimal digit is dropped ("+", spaces,
// dashes, parentheses, letters).  Decimal digits from other scripts are kept
// as written. If the remaining digits start with the international dialing
// prefix "00" it is removed exactly once, so "+1 202-555-1234" and
// "001 202 5551234" both normalize to "12025551234".
//
// Normalize is total: unparseable input simply yields "".
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	var digits strings.Builder
	digits.Grow(len(raw))
	for _, c := range raw {
		if unicode.IsDigit(c) {
			digits.WriteRune(c)
		}
	}

	return strings.TrimPrefix(digits.String(), internationalPrefix)
}
