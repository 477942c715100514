package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "7.50", formatMoney(decimal.RequireFromString("7.5")))
	assert.Equal(t, "1,234,567.89", formatMoney(decimal.RequireFromString("1234567.891")))
	assert.Equal(t, "-0.05", formatMoney(decimal.RequireFromString("-0.05")))
	assert.Equal(t, "0.00", formatMoney(decimal.Zero))
}

func TestComma(t *testing.T) {
	assert.Equal(t, "999", comma(999))
	assert.Equal(t, "1,000", comma(1000))
	assert.Equal(t, "-12,345", comma(-12345))
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[#####.....]", progressBar(5, 10, 10))
	assert.Equal(t, "[##########]", progressBar(50, 10, 10))
	assert.Equal(t, "[..........]", progressBar(0, 0, 10))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "Giannis...", truncate("Giannis Antetokounmpo", 10))
	assert.Equal(t, "LeBron", truncate(" LeBron ", 10))
}
