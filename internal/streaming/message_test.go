package streaming

import (
	"testing"
	"time"

	"memeforge/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_Receipt(t *testing.T) {
	observed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	payload, err := Encode(Message{
		Type:        MessageTypeReceipt,
		ChainID:     122,
		TxHash:      "0xab",
		Status:      "success",
		GasUsed:     "21000",
		BlockNumber: 7,
		ObservedAt:  observed,
	})
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"type":"receipt"`)
	assert.NotContains(t, string(payload), "waited_ms")

	msg, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), msg.BlockNumber)
	assert.True(t, observed.Equal(msg.ObservedAt))

	receipt, err := msg.Receipt()
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusSuccess, receipt.Status)
	assert.Equal(t, "0xab", receipt.Hash)
	assert.Equal(t, uint64(122), receipt.ChainID)
	assert.True(t, observed.Equal(receipt.Timestamp))

	_, err = Message{Type: MessageTypeTimeout, ChainID: 122, TxHash: "0xab"}.Receipt()
	assert.Error(t, err)
}

func TestEncode_Validation(t *testing.T) {
	cases := map[string]Message{
		"missing type":   {ChainID: 1, TxHash: "0xab"},
		"unknown type":   {Type: "reorg", ChainID: 1, TxHash: "0xab"},
		"missing chain":  {Type: MessageTypeTimeout, TxHash: "0xab"},
		"missing hash":   {Type: MessageTypeTimeout, ChainID: 1},
		"receipt status": {Type: MessageTypeReceipt, ChainID: 1, TxHash: "0xab"},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Encode(msg)
			assert.Error(t, err)
		})
	}

	_, err := Encode(Message{Type: MessageTypeTimeout, ChainID: 1, TxHash: "0xab", WaitedMs: 120000})
	assert.NoError(t, err)
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode([]byte(`{"type":"timeout","tx_hash":"0xab"}`))
	assert.Error(t, err)
	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}
