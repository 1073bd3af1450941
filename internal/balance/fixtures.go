package balance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type fixtureFile struct {
	Benefits []fixture `yaml:"benefits"`
}

type fixture struct {
	ID          int64  `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Amount      string `yaml:"amount"`
	Active      *bool  `yaml:"active"`
}

// LoadFixtures decodes a YAML document of the form
//
//	benefits:
//	  - id: 1
//	    name: meal
//	    amount: "1000.00"
//	    active: true
//
// Omitted active flags default to true.
func LoadFixtures(r io.Reader) ([]Balance, error) {
	var doc fixtureFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}

	out := make([]Balance, 0, len(doc.Benefits))
	for i, f := range doc.Benefits {
		amount := decimal.Zero
		if f.Amount != "" {
			parsed, err := decimal.NewFromString(f.Amount)
			if err != nil {
				return nil, fmt.Errorf("fixture %d: amount %q: %w", i, f.Amount, err)
			}
			amount = parsed
		}
		active := true
		if f.Active != nil {
			active = *f.Active
		}
		b := Balance{
			ID:          f.ID,
			Name:        f.Name,
			Description: f.Description,
			Amount:      amount,
			Active:      active,
		}
		if err := b.Validate(); err != nil {
			return nil, fmt.Errorf("fixture %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// LoadFixturesFile reads fixtures from path.
func LoadFixturesFile(path string) ([]Balance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadFixtures(f)
}

// Seed creates each balance, leaving already present ids untouched. It
// returns how many records were inserted.
func Seed(ctx context.Context, store Store, balances []Balance) (int, error) {
	created := 0
	for _, b := range balances {
		if _, err := store.Create(ctx, b); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				continue
			}
			return created, fmt.Errorf("seed balance %d: %w", b.ID, err)
		}
		created++
	}
	return created, nil
}
