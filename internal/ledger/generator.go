package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// OpKind classifies a settlement instruction.
type OpKind uint8

const (
	OpTransfer OpKind = iota
	OpMint
	OpBurn
	OpRegister
	OpDeposit
	OpWithdraw
)

func (k OpKind) String() string {
	switch k {
	case OpTransfer:
		return "transfer"
	case OpMint:
		return "mint"
	case OpBurn:
		return "burn"
	case OpRegister:
		return "register"
	case OpDeposit:
		return "deposit"
	case OpWithdraw:
		return "withdraw"
	default:
		return "unknown"
	}
}

// Op is one custody or share-token instruction. Settle applies a slice of
// them as a single batch.
//
//	OpTransfer: From -> To
//	OpMint:     issuance -> To
//	OpBurn:     From -> issuance
//	OpRegister: registers To as a holder of Asset (no journal)
//	OpDeposit:  external deposits -> To
//	OpWithdraw: From -> external withdrawals
type Op struct {
	Kind   OpKind
	Asset  AssetID
	From   uuid.UUID
	To     uuid.UUID
	Amount int64
}

// JournalGenerator creates balanced journal batches from settlement ops
type JournalGenerator struct {
	sequence int64
}

func NewJournalGenerator(startSequence int64) *JournalGenerator {
	return &JournalGenerator{
		sequence: startSequence,
	}
}

// Generate converts ops into one batch. Register ops carry no value and are
// skipped. Returns nil when no op moves value.
func (jg *JournalGenerator) Generate(ops []Op) (*Batch, error) {
	batchID := uuid.New()

	batch := &Batch{
		BatchID:  batchID,
		Sequence: jg.sequence,
		Journals: make([]Journal, 0, len(ops)),
	}

	for i, op := range ops {
		if op.Kind == OpRegister {
			continue
		}
		if err := op.Asset.Validate(); err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
		if op.Amount <= 0 {
			return nil, fmt.Errorf("op %d (%s): non-positive amount %d", i, op.Kind, op.Amount)
		}

		var debit, credit AccountKey
		var jt JournalType

		switch op.Kind {
		case OpTransfer:
			debit = NewHolderAccountKey(op.To, op.Asset)
			credit = NewHolderAccountKey(op.From, op.Asset)
			jt = JournalTypeTransfer
		case OpMint:
			debit = NewHolderAccountKey(op.To, op.Asset)
			credit = IssuanceAccount(op.Asset)
			jt = JournalTypeShareMint
		case OpBurn:
			debit = IssuanceAccount(op.Asset)
			credit = NewHolderAccountKey(op.From, op.Asset)
			jt = JournalTypeShareBurn
		case OpDeposit:
			debit = NewHolderAccountKey(op.To, op.Asset)
			credit = NewExternalAccountKey(SubTypeExternalDeposits, op.Asset)
			jt = JournalTypeDeposit
		case OpWithdraw:
			debit = NewExternalAccountKey(SubTypeExternalWithdrawals, op.Asset)
			credit = NewHolderAccountKey(op.From, op.Asset)
			jt = JournalTypeWithdrawal
		default:
			return nil, fmt.Errorf("op %d: unknown kind %d", i, op.Kind)
		}

		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			Sequence:      jg.sequence,
			DebitAccount:  debit,
			CreditAccount: credit,
			AssetID:       op.Asset,
			Amount:        op.Amount,
			JournalType:   jt,
		})
	}

	if len(batch.Journals) == 0 {
		return nil, nil
	}

	jg.sequence++
	return batch, nil
}

// Sequence returns the next batch sequence.
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}
