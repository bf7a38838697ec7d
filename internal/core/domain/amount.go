package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// amountFractionalDigits is the max precision of an amount value.
const amountFractionalDigits = 8

// Amount is a non-negative value expressed in a given currency, serialized
// as "CUR:12.34".
type Amount struct {
	Currency string
	Value    decimal.Decimal
}

// NewAmount returns an amount for the given currency and value.
func NewAmount(currency string, value decimal.Decimal) Amount {
	return Amount{currency, value.Truncate(amountFractionalDigits)}
}

// ZeroAmount returns the zero amount for the given currency.
func ZeroAmount(currency string) Amount {
	return Amount{Currency: currency, Value: decimal.Zero}
}

// ParseAmount parses an amount in the form CUR:VALUE.
func ParseAmount(str string) (Amount, error) {
	chunks := strings.SplitN(str, ":", 2)
	if len(chunks) != 2 || len(chunks[0]) == 0 || len(chunks[0]) > 11 {
		return Amount{}, fmt.Errorf("%w: %q", ErrMalformedAmount, str)
	}
	value, err := decimal.NewFromString(chunks[1])
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrMalformedAmount, str)
	}
	if value.IsNegative() || value.Exponent() < -amountFractionalDigits {
		return Amount{}, fmt.Errorf("%w: %q", ErrMalformedAmount, str)
	}
	return Amount{strings.ToUpper(chunks[0]), value}, nil
}

// MustParseAmount is like ParseAmount but panics on malformed input. It's
// meant for constants and tests.
func MustParseAmount(str string) Amount {
	a, err := ParseAmount(str)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) String() string {
	return fmt.Sprintf("%s:%s", a.Currency, a.Value.String())
}

func (a Amount) IsZero() bool {
	return a.Value.IsZero()
}

// Cmp compares the values of the 2 amounts, regardless of the currency.
func (a Amount) Cmp(b Amount) int {
	return a.Value.Cmp(b.Value)
}

// Add returns the sum of the amounts. It errors if the currencies differ.
func (a Amount) Add(b Amount) (Amount, error) {
	if err := a.checkCurrency(b); err != nil {
		return Amount{}, err
	}
	return Amount{a.Currency, a.Value.Add(b.Value)}, nil
}

// Sub returns a - b. The result saturates at zero, in which case the
// returned boolean is false. A currency mismatch is reported the same way.
func (a Amount) Sub(b Amount) (Amount, bool) {
	if err := a.checkCurrency(b); err != nil {
		return ZeroAmount(a.Currency), false
	}
	res := a.Value.Sub(b.Value)
	if res.IsNegative() {
		return ZeroAmount(a.Currency), false
	}
	return Amount{a.Currency, res}, true
}

// Mul returns the amount multiplied by the given factor.
func (a Amount) Mul(n int) Amount {
	return Amount{a.Currency, a.Value.Mul(decimal.NewFromInt(int64(n)))}
}

// MaxAmount returns the greater of the 2 amounts.
func MaxAmount(a, b Amount) Amount {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

// SumAmounts adds up the given amounts, starting from the zero amount of the
// given currency.
func SumAmounts(currency string, amounts ...Amount) (Amount, error) {
	total := ZeroAmount(currency)
	for _, a := range amounts {
		var err error
		if total, err = total.Add(a); err != nil {
			return Amount{}, err
		}
	}
	return total, nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if a.Currency == "" {
		return json.Marshal("")
	}
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(buf []byte) error {
	var str string
	if err := json.Unmarshal(buf, &str); err != nil {
		return err
	}
	if str == "" {
		*a = Amount{}
		return nil
	}
	amount, err := ParseAmount(str)
	if err != nil {
		return err
	}
	*a = amount
	return nil
}

func (a Amount) checkCurrency(b Amount) error {
	if a.Currency != b.Currency {
		return fmt.Errorf(
			"%w: %s and %s", ErrCurrencyMismatch, a.Currency, b.Currency,
		)
	}
	return nil
}
