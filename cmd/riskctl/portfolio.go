package main

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/lending-risk/internal/model"
	"github.com/atmx/lending-risk/internal/reserve"
	"github.com/atmx/lending-risk/internal/risk"
)

// portfolioFile is the YAML layout read by every subcommand. Positions
// reference reserves by symbol.
type portfolioFile struct {
	PreviousTier risk.Tier       `yaml:"previous_tier"`
	Reserves     []model.Reserve `yaml:"reserves"`
	Supplies     []struct {
		Symbol          string          `yaml:"symbol"`
		Quantity        decimal.Decimal `yaml:"quantity"`
		UseAsCollateral *bool           `yaml:"use_as_collateral"`
	} `yaml:"supplies"`
	Borrows []struct {
		Symbol string          `yaml:"symbol"`
		Amount decimal.Decimal `yaml:"amount"`
	} `yaml:"borrows"`
	Prices map[string]decimal.Decimal `yaml:"prices"`
}

// portfolio is a resolved portfolioFile ready for the engine.
type portfolio struct {
	previous risk.Tier
	supplies []model.SupplyPosition
	borrows  []model.BorrowPosition
	prices   risk.Prices
}

func loadPortfolio(path string) (*portfolio, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read portfolio: %w", err)
	}
	return parsePortfolio(data)
}

func parsePortfolio(data []byte) (*portfolio, error) {
	var f portfolioFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse portfolio: %w", err)
	}

	reserves, err := reserve.ValidateAll(f.Reserves)
	if err != nil {
		return nil, err
	}
	bySymbol := make(map[string]model.Reserve, len(reserves))
	for _, r := range reserves {
		bySymbol[r.Symbol] = r
	}
	lookup := func(sym string) (model.Reserve, error) {
		norm, err := reserve.NormalizeSymbol(sym)
		if err != nil {
			return model.Reserve{}, err
		}
		r, ok := bySymbol[norm]
		if !ok {
			return model.Reserve{}, fmt.Errorf("position references unknown reserve %s", norm)
		}
		return r, nil
	}

	p := &portfolio{previous: f.PreviousTier, prices: make(risk.Prices, len(f.Prices))}
	for _, s := range f.Supplies {
		r, err := lookup(s.Symbol)
		if err != nil {
			return nil, err
		}
		use := true
		if s.UseAsCollateral != nil {
			use = *s.UseAsCollateral
		}
		p.supplies = append(p.supplies, model.SupplyPosition{Reserve: r, Quantity: s.Quantity, UseAsCollateral: use})
	}
	for _, b := range f.Borrows {
		r, err := lookup(b.Symbol)
		if err != nil {
			return nil, err
		}
		p.borrows = append(p.borrows, model.BorrowPosition{Reserve: r, Amount: b.Amount})
	}
	for sym, price := range f.Prices {
		norm, err := reserve.NormalizeSymbol(sym)
		if err != nil {
			return nil, err
		}
		p.prices[norm] = price
	}
	return p, nil
}

func (p *portfolio) evaluate() risk.Account {
	return risk.Evaluate(p.supplies, p.borrows, p.prices, p.previous)
}
