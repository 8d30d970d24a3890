package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

func receiptHash(prev string, event Event, from, to State, actor string, at time.Time) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		prev,
		string(event),
		string(from),
		string(to),
		actor,
		at.UTC().Format(time.RFC3339Nano),
	}, "|")))
	return hex.EncodeToString(sum[:])
}

func appendReceipt(a *Approval, event Event, from State, actor, note string, at time.Time) Receipt {
	prev := ""
	if n := len(a.Receipts); n > 0 {
		prev = a.Receipts[n-1].Hash
	}
	r := Receipt{
		Sequence: len(a.Receipts) + 1,
		Event:    event,
		From:     from,
		To:       a.State,
		Actor:    actor,
		Note:     note,
		At:       at,
		PrevHash: prev,
		Hash:     receiptHash(prev, event, from, a.State, actor, at),
	}
	a.Receipts = append(a.Receipts, r)
	return r
}

// VerifyReceipts recomputes the chain and reports the first broken link.
func VerifyReceipts(receipts []Receipt) error {
	prev := ""
	for i, r := range receipts {
		if r.Sequence != i+1 {
			return fmt.Errorf("approval: receipt %d out of sequence", i+1)
		}
		if r.PrevHash != prev {
			return fmt.Errorf("approval: receipt %d does not link to its predecessor", r.Sequence)
		}
		if want := receiptHash(prev, r.Event, r.From, r.To, r.Actor, r.At); r.Hash != want {
			return fmt.Errorf("approval: receipt %d hash mismatch", r.Sequence)
		}
		prev = r.Hash
	}
	return nil
}
