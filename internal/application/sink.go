package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"memeforge/internal/streaming"
)

// ApplyMessage journals the receipt carried by a streamed event. Timeout
// events only record that a wait gave up and are not journaled.
func ApplyMessage(ctx context.Context, journal ReceiptJournal, msg streaming.Message) error {
	if journal == nil {
		return errors.New("journal is required")
	}
	switch msg.Type {
	case streaming.MessageTypeReceipt:
		receipt, err := msg.Receipt()
		if err != nil {
			return err
		}
		if err := journal.StoreReceipt(ctx, receipt); err != nil {
			return fmt.Errorf("journal receipt %s: %w", receipt.Hash, err)
		}
		return nil
	case streaming.MessageTypeTimeout:
		slog.Info("wait timed out upstream", "chain_id", msg.ChainID, "tx_hash", msg.TxHash, "waited_ms", msg.WaitedMs)
		return nil
	default:
		return fmt.Errorf("unsupported message type %q", msg.Type)
	}
}
