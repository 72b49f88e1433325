package model

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnown_RejectsNonPositive(t *testing.T) {
	assert.False(t, Known(decimal.Zero).IsKnown())
	assert.False(t, Known(decimal.NewFromInt(-1)).IsKnown())

	p := Known(decimal.RequireFromString("187.25"))
	v, ok := p.Value()
	require.True(t, ok)
	assert.Equal(t, "187.25", v.String())
}

func TestPrice_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		A Price `json:"a"`
		B Price `json:"b"`
	}{A: Known(decimal.NewFromInt(12)), B: Unavailable})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"12","b":null}`, string(data))

	var got struct {
		A Price `json:"a"`
		B Price `json:"b"`
		C Price `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12.5","b":null,"c":0}`), &got))
	assert.True(t, got.A.IsKnown())
	assert.False(t, got.B.IsKnown())
	assert.False(t, got.C.IsKnown(), "zero from a provider is unavailable")
}

func TestParseSide(t *testing.T) {
	s, err := ParseSide(" buy ")
	require.NoError(t, err)
	assert.Equal(t, SideBuy, s)

	s, err = ParseSide("SELL")
	require.NoError(t, err)
	assert.Equal(t, SideSell, s)

	_, err = ParseSide("short")
	assert.Error(t, err)
}
