package extract

import (
	"errors"
	"regexp"
	"strings"

	"github.com/Sriram-PR/classifieds-crawler/pkg/models"
	"github.com/Sriram-PR/classifieds-crawler/pkg/utils"
)

var errMalformedValue = errors.New("malformed value")

// Rule promotes the value of a labelled key/value pair to a typed listing field.
// Labels are compared after utils.NormalizeLabel. Apply returns errMalformedValue when the
// value is present but cannot be coerced; the raw pair then stays in Listing.Attributes.
type Rule struct {
	Field  string
	Labels []string
	Apply  func(l *models.Listing, value string) error
}

var (
	leadingNumber = regexp.MustCompile(`\d[\d\s\x{a0}.]*`)
	yearPattern   = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	powerKW       = regexp.MustCompile(`(?i)(\d+)\s*kw`)
	powerHP       = regexp.MustCompile(`(?i)(\d+)\s*(le|hp|ps)\b`)
	pricePattern  = regexp.MustCompile(`(\d[\d\s\x{a0}.]*)\s*(Ft|HUF|EUR|€)`)
)

var currencyCodes = map[string]string{
	"Ft":  "HUF",
	"HUF": "HUF",
	"EUR": "EUR",
	"€":   "EUR",
}

// DefaultRules is the ordered field table for hasznaltauto.hu detail pages
var DefaultRules = []Rule{
	{Field: "ad_id", Labels: []string{"hirdeteskod", "hirdetes kod", "hirdetes azonosito"}, Apply: setAdID},
	{Field: "price_huf", Labels: []string{"vetelar", "ar"}, Apply: setPrice},
	{Field: "price_discount_huf", Labels: []string{"akcios ar", "akcios vetelar"}, Apply: setDiscount},
	{Field: "year", Labels: []string{"evjarat", "evjarat (gyartasi ev)", "gyartasi ev"}, Apply: setYear},
	{Field: "mileage_km", Labels: []string{"km. ora allas", "km ora allas", "kilometerora allasa"}, Apply: int64Field(func(l *models.Listing) **int64 { return &l.MileageKM })},
	{Field: "fuel", Labels: []string{"uzemanyag"}, Apply: stringField(func(l *models.Listing) **string { return &l.Fuel })},
	{Field: "engine_cc", Labels: []string{"hengerurtartalom"}, Apply: intField(func(l *models.Listing) **int { return &l.EngineCC })},
	{Field: "power", Labels: []string{"teljesitmeny"}, Apply: setPower},
	{Field: "transmission", Labels: []string{"sebessegvalto", "sebessegvalto fajtaja"}, Apply: stringField(func(l *models.Listing) **string { return &l.Transmission })},
	{Field: "drivetrain", Labels: []string{"hajtas"}, Apply: stringField(func(l *models.Listing) **string { return &l.Drivetrain })},
	{Field: "body_type", Labels: []string{"kivitel"}, Apply: stringField(func(l *models.Listing) **string { return &l.BodyType })},
	{Field: "condition", Labels: []string{"allapot"}, Apply: stringField(func(l *models.Listing) **string { return &l.Condition })},
	{Field: "color", Labels: []string{"szin"}, Apply: stringField(func(l *models.Listing) **string { return &l.Color })},
	{Field: "doors", Labels: []string{"ajtok szama"}, Apply: intField(func(l *models.Listing) **int { return &l.Doors })},
	{Field: "seats", Labels: []string{"szallithato szem. szama", "szallithato szemelyek szama"}, Apply: intField(func(l *models.Listing) **int { return &l.Seats })},
	{Field: "seller_name", Labels: []string{"kereskedes", "hirdeto"}, Apply: setDealer},
	{Field: "location", Labels: []string{"hely", "telephely", "cim"}, Apply: stringField(func(l *models.Listing) **string { return &l.Location })},
}

// ruleIndex maps normalized labels to rules
func ruleIndex(rules []Rule) map[string]*Rule {
	idx := make(map[string]*Rule)
	for i := range rules {
		for _, label := range rules[i].Labels {
			idx[utils.NormalizeLabel(label)] = &rules[i]
		}
	}
	return idx
}

func stringField(field func(*models.Listing) **string) func(*models.Listing, string) error {
	return func(l *models.Listing, value string) error {
		value = utils.CollapseSpace(value)
		if value == "" {
			return errMalformedValue
		}
		if p := field(l); *p == nil {
			*p = models.Ptr(value)
		}
		return nil
	}
}

func intField(field func(*models.Listing) **int) func(*models.Listing, string) error {
	return func(l *models.Listing, value string) error {
		n, ok := firstNumber(value)
		if !ok {
			return errMalformedValue
		}
		if p := field(l); *p == nil {
			*p = models.Ptr(int(n))
		}
		return nil
	}
}

func int64Field(field func(*models.Listing) **int64) func(*models.Listing, string) error {
	return func(l *models.Listing, value string) error {
		n, ok := firstNumber(value)
		if !ok {
			return errMalformedValue
		}
		if p := field(l); *p == nil {
			*p = models.Ptr(n)
		}
		return nil
	}
}

func setAdID(l *models.Listing, value string) error {
	n, ok := utils.ParseDigits(value)
	if !ok || n == 0 {
		return errMalformedValue
	}
	if l.AdID == "" {
		l.AdID = formatID(n)
	}
	return nil
}

// setYear keeps the raw "2016/5" form and the four-digit year
func setYear(l *models.Listing, value string) error {
	value = utils.CollapseSpace(value)
	m := yearPattern.FindString(value)
	if m == "" {
		return errMalformedValue
	}
	n, _ := utils.ParseDigits(m)
	if l.Year == nil {
		l.Year = models.Ptr(int(n))
		l.YearMonth = models.Ptr(value)
	}
	return nil
}

// setPower reads "66 kW, 90 LE"
func setPower(l *models.Listing, value string) error {
	kw := powerKW.FindStringSubmatch(value)
	hp := powerHP.FindStringSubmatch(value)
	if kw == nil && hp == nil {
		return errMalformedValue
	}
	if kw != nil && l.PowerKW == nil {
		n, _ := utils.ParseDigits(kw[1])
		l.PowerKW = models.Ptr(int(n))
	}
	if hp != nil && l.PowerHP == nil {
		n, _ := utils.ParseDigits(hp[1])
		l.PowerHP = models.Ptr(int(n))
	}
	return nil
}

func setPrice(l *models.Listing, value string) error {
	amount, currency, ok := parsePrice(value)
	if !ok {
		return errMalformedValue
	}
	applyPrice(l, amount, currency)
	return nil
}

func setDiscount(l *models.Listing, value string) error {
	amount, _, ok := parsePrice(value)
	if !ok {
		return errMalformedValue
	}
	if l.PriceDiscountHUF == nil {
		l.PriceDiscountHUF = models.Ptr(amount)
	}
	return nil
}

func setDealer(l *models.Listing, value string) error {
	value = utils.CollapseSpace(value)
	if value == "" {
		return errMalformedValue
	}
	if l.SellerName == nil {
		l.SellerName = models.Ptr(value)
		l.SellerType = models.Ptr("dealer")
	}
	return nil
}

// applyPrice sets the asking price. Amounts in another currency are kept out of price_huf.
func applyPrice(l *models.Listing, amount int64, currency string) {
	if l.PriceHUF != nil || l.Currency != nil {
		return
	}
	if currency == "" {
		currency = "HUF"
	}
	l.Currency = models.Ptr(currency)
	if currency == "HUF" {
		l.PriceHUF = models.Ptr(amount)
	}
}

// parsePrice reads "3 990 000 Ft". A bare number is taken as HUF.
func parsePrice(value string) (int64, string, bool) {
	if m := pricePattern.FindStringSubmatch(value); m != nil {
		n, ok := utils.ParseDigits(m[1])
		return n, currencyCodes[m[2]], ok
	}
	n, ok := firstNumber(value)
	return n, "", ok
}

// firstNumber parses the first digit group of value, allowing thousands separators:
// "102 000 km" is 102000, "1 968 cm3" is 1968.
func firstNumber(value string) (int64, bool) {
	m := leadingNumber.FindString(value)
	if m == "" {
		return 0, false
	}
	return utils.ParseDigits(strings.TrimSpace(m))
}
