package catalog

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	c, err := Parse(strings.NewReader(`{"products":[
		{"id":"P","name":"Widget","price":"10.00","category":"tools","stock":10},
		{"id":"Q","name":"Gadget","price":"2.5","category":"tools","stock":0}
	]}`))
	require.NoError(t, err)

	require.Len(t, c.Products, 2)
	assert.Equal(t, map[string]int{"P": 10, "Q": 0}, c.Stock())

	products := c.ProductList()
	assert.Equal(t, "Widget", products[0].Name)
	assert.True(t, decimal.RequireFromString("2.50").Equal(products[1].Price))
}

func TestParse_Invalid(t *testing.T) {
	for name, input := range map[string]string{
		"duplicate":      `{"products":[{"id":"P","price":"1"},{"id":"P","price":"1"}]}`,
		"missing id":     `{"products":[{"price":"1"}]}`,
		"negative price": `{"products":[{"id":"P","price":"-1"}]}`,
		"negative stock": `{"products":[{"id":"P","price":"1","stock":-3}]}`,
		"unknown field":  `{"products":[{"id":"P","price":"1","image":"x"}]}`,
		"malformed":      `{"products":`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(input))
			require.Error(t, err)
		})
	}
}

func TestLoad_SeedCatalog(t *testing.T) {
	c, err := Load("../../db/seed/catalog.json")
	require.NoError(t, err)
	assert.NotEmpty(t, c.Products)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("does-not-exist.json")
	require.Error(t, err)
}

func TestOpen_BuiltIn(t *testing.T) {
	builtIn, err := Open("")
	require.NoError(t, err)

	fromFile, err := Open("../../db/seed/catalog.json")
	require.NoError(t, err)

	assert.Equal(t, fromFile.Stock(), builtIn.Stock())
	assert.Len(t, builtIn.ProductList(), len(fromFile.Products))
}
