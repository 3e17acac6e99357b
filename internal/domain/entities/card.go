package entities

import (
	"regexp"
	"strconv"
	"time"
)

var (
	cardNumberRegex = regexp.MustCompile(`^[0-9]{12,19}$`)
	cvvRegex        = regexp.MustCompile(`^[0-9]{3,4}$`)
	expirationRegex = regexp.MustCompile(`^(0[1-9]|1[0-2])([0-9]{2})$`)
	zipRegex        = regexp.MustCompile(`^[0-9A-Za-z \-]{3,10}$`)
	countryRegex    = regexp.MustCompile(`^[A-Z]{2}$`)
)

// Card is the instrument presented to the processor. The number never
// touches persistence; only the token and last four survive the call.
type Card struct {
	Number         string `json:"card_number"`
	ExpirationDate string `json:"expiration_date"` // MMYY
	CVV            string `json:"cvv"`
}

// LastFour returns the trailing four digits of the card number.
func (c Card) LastFour() string {
	if len(c.Number) < 4 {
		return c.Number
	}
	return c.Number[len(c.Number)-4:]
}

// Brand infers the card network from the leading digits.
func (c Card) Brand() string {
	switch {
	case len(c.Number) == 0:
		return "unknown"
	case c.Number[0] == '4':
		return "visa"
	case len(c.Number) >= 2 && c.Number[0] == '5' && c.Number[1] >= '1' && c.Number[1] <= '5':
		return "mastercard"
	case len(c.Number) >= 2 && c.Number[0] == '3' && (c.Number[1] == '4' || c.Number[1] == '7'):
		return "amex"
	case len(c.Number) >= 4 && c.Number[:4] == "6011":
		return "discover"
	default:
		return "unknown"
	}
}

// Expiration parses the MMYY expiration into month and full year.
func (c Card) Expiration() (month, year int, ok bool) {
	m := expirationRegex.FindStringSubmatch(c.ExpirationDate)
	if m == nil {
		return 0, 0, false
	}
	month, _ = strconv.Atoi(m[1])
	yy, _ := strconv.Atoi(m[2])
	return month, 2000 + yy, true
}

// Validate checks the card against the pre-flight rules: Luhn number,
// future MMYY expiration relative to now, 3-4 digit CVV.
func (c Card) Validate(now time.Time) error {
	if !cardNumberRegex.MatchString(c.Number) || !Luhn(c.Number) {
		return errInvalidCardNumber
	}
	month, year, ok := c.Expiration()
	if !ok {
		return errInvalidExpiration
	}
	// Valid through the last instant of the expiration month.
	endOfMonth := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	if !now.Before(endOfMonth) {
		return errCardExpired
	}
	if !cvvRegex.MatchString(c.CVV) {
		return errInvalidCVV
	}
	return nil
}

// BillingAddress is the cardholder address sent to the processor.
type BillingAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
	Country   string `json:"country"`
}

// Validate enforces non-empty name/address/city/state/zip and a 2-letter
// country code.
func (b BillingAddress) Validate() error {
	if b.FirstName == "" || b.LastName == "" {
		return errInvalidBillingName
	}
	if b.Address == "" || b.City == "" || b.State == "" {
		return errInvalidBillingAddress
	}
	if !zipRegex.MatchString(b.Zip) {
		return errInvalidBillingZip
	}
	if !countryRegex.MatchString(b.Country) {
		return errInvalidBillingCountry
	}
	return nil
}

// Luhn reports whether the digit string passes the Luhn checksum.
func Luhn(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if d < 0 || d > 9 {
			return false
		}
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

type cardError string

func (e cardError) Error() string { return string(e) }

const (
	errInvalidCardNumber     = cardError("card number failed validation")
	errInvalidExpiration     = cardError("expiration date must be MMYY")
	errCardExpired           = cardError("card is expired")
	errInvalidCVV            = cardError("cvv must be 3-4 digits")
	errInvalidBillingName    = cardError("billing first and last name are required")
	errInvalidBillingAddress = cardError("billing address, city and state are required")
	errInvalidBillingZip     = cardError("billing zip is invalid")
	errInvalidBillingCountry = cardError("billing country must be a 2-letter code")
)
