package oracle

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rand/chatbattery/internal/formula"
)

func TestFuncs(t *testing.T) {
	o := Funcs{
		CapacityFunc: func(f formula.Formula) float64 { return float64(len(f)) },
		DistanceFunc: func(a, b formula.Formula) float64 { return math.Abs(float64(len(a) - len(b))) },
	}

	ctx := context.Background()
	c, err := o.Capacity(ctx, "NaMnO2")
	require.NoError(t, err)
	assert.Equal(t, 6.0, c)

	d, err := o.Distance(ctx, "NaMnO2", "Na3V2(PO4)3")
	require.NoError(t, err)
	assert.Equal(t, 5.0, d)
}

func TestTable(t *testing.T) {
	ctx := context.Background()

	t.Run("lookups", func(t *testing.T) {
		o := &Table{
			Capacities: map[formula.Formula]float64{"NaMnO2": 240},
			Distances: map[formula.Formula]map[formula.Formula]float64{
				"X1Y": {"NaMnO2": 2},
			},
		}

		c, _ := o.Capacity(ctx, "NaMnO2")
		assert.Equal(t, 240.0, c)
		c, _ = o.Capacity(ctx, "Missing1A")
		assert.Equal(t, 0.0, c)

		d, _ := o.Distance(ctx, "NaMnO2", "X1Y")
		assert.Equal(t, 2.0, d)
		d, _ = o.Distance(ctx, "NaCoO2", "X1Y")
		assert.True(t, math.IsInf(d, 1))
	})

	t.Run("fallback", func(t *testing.T) {
		o := &Table{Fallback: func(a, b formula.Formula) float64 { return 7 }}
		d, _ := o.Distance(ctx, "A1B", "C2D")
		assert.Equal(t, 7.0, d)
	})
}

func TestProtocol(t *testing.T) {
	t.Run("encode with params", func(t *testing.T) {
		data, err := encodeRequest(3, methodCapacity, CapacityParams{Formula: "NaMnO2"})
		require.NoError(t, err)

		var req Request
		require.NoError(t, json.Unmarshal(data, &req))
		assert.Equal(t, int64(3), req.ID)
		assert.Equal(t, "capacity", req.Method)
		assert.JSONEq(t, `{"formula":"NaMnO2"}`, string(req.Params))
	})

	t.Run("encode without params", func(t *testing.T) {
		data, err := encodeRequest(0, methodShutdown, nil)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":0,"method":"shutdown"}`, string(data))
	})

	t.Run("decode error", func(t *testing.T) {
		resp, err := decodeResponse([]byte(`{"id":4,"error":{"code":-32603,"message":"boom"}}`))
		require.NoError(t, err)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "domain bridge error -32603: boom", resp.Error.Error())
	})

	t.Run("decode garbage", func(t *testing.T) {
		_, err := decodeResponse([]byte(`not json`))
		assert.Error(t, err)
	})
}

func TestEmbeddedBridge(t *testing.T) {
	assert.NotEmpty(t, embeddedBridge)
	assert.Contains(t, string(embeddedBridge), "calculate_theoretical_capacity")
}
