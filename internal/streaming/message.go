package streaming

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"memeforge/internal/domain"
)

type MessageType string

const (
	MessageTypeReceipt MessageType = "receipt"
	MessageTypeTimeout MessageType = "timeout"
)

// TypeHeader carries the message type alongside the payload.
const TypeHeader = "message-type"

// Message is the event published when a transaction is confirmed or when a
// wait gives up. Receipt fields are empty on timeout messages.
type Message struct {
	Type        MessageType `json:"type"`
	ChainID     uint64      `json:"chain_id"`
	TraceID     string      `json:"trace_id,omitempty"`
	TxHash      string      `json:"tx_hash"`
	From        string      `json:"from,omitempty"`
	To          string      `json:"to,omitempty"`
	Value       string      `json:"value,omitempty"`
	GasUsed     string      `json:"gas_used,omitempty"`
	GasPrice    string      `json:"gas_price,omitempty"`
	Status      string      `json:"status,omitempty"`
	BlockNumber uint64      `json:"block_number,omitempty"`
	ObservedAt  time.Time   `json:"observed_at"`
	WaitedMs    int64       `json:"waited_ms,omitempty"`
}

func Encode(msg Message) ([]byte, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	if err := validate(msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func validate(msg Message) error {
	switch msg.Type {
	case MessageTypeReceipt, MessageTypeTimeout:
	case "":
		return errors.New("message type is missing")
	default:
		return errors.New("unknown message type " + string(msg.Type))
	}
	if msg.ChainID == 0 {
		return errors.New("chain_id is missing")
	}
	if msg.TxHash == "" {
		return errors.New("tx_hash is missing")
	}
	if msg.Type == MessageTypeReceipt && msg.Status == "" {
		return errors.New("receipt status is missing")
	}
	return nil
}

// Receipt rebuilds the confirmed receipt carried by a receipt message.
func (m Message) Receipt() (domain.TransactionReceipt, error) {
	if m.Type != MessageTypeReceipt {
		return domain.TransactionReceipt{}, fmt.Errorf("message type %q carries no receipt", m.Type)
	}
	return domain.TransactionReceipt{
		ChainID:     m.ChainID,
		Hash:        m.TxHash,
		From:        m.From,
		To:          m.To,
		Value:       m.Value,
		GasUsed:     m.GasUsed,
		GasPrice:    m.GasPrice,
		Status:      domain.TxStatus(m.Status),
		BlockNumber: m.BlockNumber,
		Timestamp:   m.ObservedAt,
	}, nil
}
