package router

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armature-dev/armature/store"
)

func TestParseListParamsDefaults(t *testing.T) {
	params, err := parseListParams(url.Values{})

	require.NoError(t, err)
	assert.Zero(t, params.Limit)
	assert.Zero(t, params.Offset)
	assert.Empty(t, params.Filter)
	assert.Empty(t, params.Sort)
}

func TestParseListParamsPaging(t *testing.T) {
	params, err := parseListParams(url.Values{"limit": {"25"}, "offset": {"50"}})

	require.NoError(t, err)
	assert.Equal(t, 25, params.Limit)
	assert.Equal(t, 50, params.Offset)
}

func TestParseListParamsRejectsBadPaging(t *testing.T) {
	_, err := parseListParams(url.Values{"limit": {"many"}})
	assert.Error(t, err)

	_, err = parseListParams(url.Values{"offset": {"-1"}})
	assert.Error(t, err)
}

func TestParseListParamsSort(t *testing.T) {
	params, err := parseListParams(url.Values{"sort": {"-price,name"}})

	require.NoError(t, err)
	require.Len(t, params.Sort, 2)
	assert.Equal(t, store.Sort{Field: "price", Desc: true}, params.Sort[0])
	assert.Equal(t, store.Sort{Field: "name", Desc: false}, params.Sort[1])
}

func TestParseListParamsFilterOps(t *testing.T) {
	params, err := parseListParams(url.Values{
		"name":      {"Dune"},
		"price:gte": {"10"},
		"stock:lt":  {"5"},
	})

	require.NoError(t, err)
	require.Len(t, params.Filter["name"], 1)
	assert.Equal(t, store.OpEq, params.Filter["name"][0].Op)
	assert.Equal(t, "Dune", params.Filter["name"][0].Value)

	require.Len(t, params.Filter["price"], 1)
	assert.Equal(t, store.OpGte, params.Filter["price"][0].Op)
	assert.Equal(t, float64(10), params.Filter["price"][0].Value)

	require.Len(t, params.Filter["stock"], 1)
	assert.Equal(t, store.OpLt, params.Filter["stock"][0].Op)
}

func TestParseListParamsUnknownOp(t *testing.T) {
	_, err := parseListParams(url.Values{"price:wat": {"1"}})
	assert.Error(t, err)
}

func TestParseListParamsSkipsReservedKeys(t *testing.T) {
	params, err := parseListParams(url.Values{
		"limit":    {"10"},
		"offset":   {"0"},
		"sort":     {"name"},
		"declared": {"cr"},
	})

	require.NoError(t, err)
	assert.Empty(t, params.Filter)
}

func TestCoerceValue(t *testing.T) {
	assert.Equal(t, float64(3.5), coerceValue("3.5"))
	assert.Equal(t, float64(42), coerceValue("42"))
	assert.Equal(t, true, coerceValue("true"))
	assert.Equal(t, false, coerceValue("false"))
	assert.Equal(t, "Dune", coerceValue("Dune"))
}
