package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// Ledger is the external distributed-ledger node, reduced to the one
// operation the pipeline depends on. Submit may fail or time out; the
// caller owns retries.
type Ledger interface {
	Submit(ctx context.Context, hash string) (transactionHash string, err error)
}

// SimulatedNode stands in for a real ledger node. It returns a random
// transaction hash after a fixed latency, matching the shape of the real
// integration without the network.
type SimulatedNode struct {
	Latency time.Duration
}

func (n SimulatedNode) Submit(ctx context.Context, hash string) (string, error) {
	if hash == "" {
		return "", errors.New("empty hash")
	}
	delay := n.Latency
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(delay):
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(buf), nil
}
