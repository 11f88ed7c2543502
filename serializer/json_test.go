package serializer

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTripNestedBigIntAndDate(t *testing.T) {
	codec := NewJSON(JSONOptions{})

	ts := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	bigNum := big.NewInt(0)
	bigNum.SetString("123456789012345678901234567890", 10)

	original := map[string]any{
		"orderId": "123",
		"amount":  float64(42),
		"items":   []any{"a", "b", "c"},
		"total":   bigNum,
		"placed":  ts,
		"nested": map[string]any{
			"deep": []any{float64(1), float64(2)},
		},
	}

	data, err := codec.Serialize(original)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, codec.Deserialize(data, &out))

	assert.Equal(t, "123", out["orderId"])
	assert.Equal(t, float64(42), out["amount"])

	revivedBig, ok := out["total"].(*big.Int)
	require.True(t, ok)
	assert.Equal(t, bigNum.String(), revivedBig.String())

	revivedDate, ok := out["placed"].(time.Time)
	require.True(t, ok)
	assert.True(t, ts.Equal(revivedDate))
}

func TestJSONDeserializeRevivesBareISODates(t *testing.T) {
	codec := NewJSON(JSONOptions{ReviveDates: true})

	data := []byte(`{"createdAt":"2026-08-06T10:00:00Z"}`)
	var out map[string]any
	require.NoError(t, codec.Deserialize(data, &out))

	_, ok := out["createdAt"].(time.Time)
	assert.True(t, ok)
}

func TestJSONSerializeCyclicStructureFails(t *testing.T) {
	codec := NewJSON(JSONOptions{})

	m := map[string]any{}
	m["self"] = m

	_, err := codec.Serialize(m)
	assert.Error(t, err)
}

func TestJSONStructTargetUsesStandardTags(t *testing.T) {
	type order struct {
		ID string `json:"id"`
	}
	codec := NewJSON(JSONOptions{})

	data, err := codec.Serialize(order{ID: "abc"})
	require.NoError(t, err)

	var out order
	require.NoError(t, codec.Deserialize(data, &out))
	assert.Equal(t, "abc", out.ID)
}
