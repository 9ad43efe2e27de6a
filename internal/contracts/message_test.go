package contracts_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incrisvel/delivery-q/internal/contracts"
	"github.com/incrisvel/delivery-q/internal/domain"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Run("should round trip field for field", func(t *testing.T) {
		original := &domain.Order{
			ID:        "A1B2C3",
			Product:   "cadeira",
			Quantity:  2,
			UnitPrice: 19.99,
			Status:    domain.StatusConfirmed,
		}

		body, err := contracts.Encode(original)
		require.NoError(t, err)

		decoded, err := contracts.Decode(body)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	})

	t.Run("should keep the wire field names stable", func(t *testing.T) {
		o := &domain.Order{ID: "A1B2C3", Product: "cadeira", Quantity: 2, UnitPrice: 19.99, Status: domain.StatusCreated}

		body, err := contracts.Encode(o)
		require.NoError(t, err)

		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(body, &raw))
		for _, field := range []string{"versao", "id_pedido", "produto", "quantidade", "preco_unitario", "status"} {
			assert.Contains(t, raw, field)
		}
		assert.Len(t, raw, 6)
	})

	t.Run("re-encoding a decoded message yields identical bytes", func(t *testing.T) {
		o := &domain.Order{ID: "A1B2C3", Product: "cadeira", Quantity: 2, UnitPrice: 19.99, Status: domain.StatusDelivered}

		first, err := contracts.Encode(o)
		require.NoError(t, err)
		decoded, err := contracts.Decode(first)
		require.NoError(t, err)
		second, err := contracts.Encode(decoded)
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})
}

func TestDecode_Validation(t *testing.T) {
	valid := `{"versao":1,"id_pedido":"A1B2C3","produto":"cadeira","quantidade":2,"preco_unitario":19.99,"status":"CONFIRMED"}`

	t.Run("should accept a tagged message", func(t *testing.T) {
		o, err := contracts.Decode([]byte(valid))
		require.NoError(t, err)
		assert.Equal(t, "A1B2C3", o.ID)
		assert.Equal(t, domain.StatusConfirmed, o.Status)
	})

	t.Run("should accept a legacy message without versao", func(t *testing.T) {
		legacy := `{"id_pedido":"A1B2C3","produto":"cadeira","quantidade":2,"preco_unitario":19.99,"status":"CONFIRMED"}`
		o, err := contracts.Decode([]byte(legacy))
		require.NoError(t, err)
		assert.Equal(t, "A1B2C3", o.ID)
	})

	t.Run("should reject decode failures with DecodeError", func(t *testing.T) {
		cases := []struct {
			name string
			body string
		}{
			{"malformed JSON", `{"id_pedido":`},
			{"wrong field type", `{"id_pedido":"A1B2C3","quantidade":"two"}`},
			{"future schema version", `{"versao":2,"id_pedido":"A1B2C3","produto":"cadeira","quantidade":2,"preco_unitario":19.99,"status":"CONFIRMED"}`},
			{"missing id", `{"produto":"cadeira","quantidade":2,"preco_unitario":19.99,"status":"CONFIRMED"}`},
			{"zero quantity", `{"id_pedido":"A1B2C3","produto":"cadeira","quantidade":0,"preco_unitario":19.99,"status":"CONFIRMED"}`},
			{"negative price", `{"id_pedido":"A1B2C3","produto":"cadeira","quantidade":2,"preco_unitario":-1,"status":"CONFIRMED"}`},
			{"unknown status", `{"id_pedido":"A1B2C3","produto":"cadeira","quantidade":2,"preco_unitario":19.99,"status":"LOST"}`},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				o, err := contracts.Decode([]byte(tc.body))

				require.Error(t, err)
				assert.Nil(t, o)
				var decodeErr *contracts.DecodeError
				assert.ErrorAs(t, err, &decodeErr)
			})
		}
	})

	t.Run("should tolerate an empty status on submissions", func(t *testing.T) {
		// The original system submitted orders before any status was set.
		body := `{"id_pedido":"A1B2C3","produto":"cadeira","quantidade":2,"preco_unitario":19.99}`
		o, err := contracts.Decode([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, domain.Status(""), o.Status)
	})
}
