package trade

import (
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Stage tags where in the prepare -> sign -> split -> send pipeline an
// error occurred, so partial failures are uniformly reportable.
type Stage string

const (
	StagePrepare Stage = "prepare"
	StageSign    Stage = "sign"
	StageSplit   Stage = "split"
	StageSend    Stage = "send"
)

type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// signBundle completes client-side signing of a partially-prepared bundle.
// Each payload is decoded, signed with whatever wallet keys the keyring
// holds, and re-encoded; backend-provided signatures are preserved. The
// returned count is the number of transactions this client actually signed.
// A zero count means none of our wallets participate and the bundle should
// be skipped, not failed.
func signBundle(bundle Bundle, keyring func(solana.PublicKey) *solana.PrivateKey) (Bundle, int, error) {
	signed := make(Bundle, 0, len(bundle))
	signable := 0

	for i, payload := range bundle {
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, 0, stageErr(StageSign, fmt.Errorf("transaction %d: decode: %w", i, err))
		}
		tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
		if err != nil {
			return nil, 0, stageErr(StageSign, fmt.Errorf("transaction %d: parse: %w", i, err))
		}

		if !holdsSigner(tx, keyring) {
			signed = append(signed, payload)
			continue
		}

		if _, err := tx.PartialSign(keyring); err != nil {
			return nil, 0, stageErr(StageSign, fmt.Errorf("transaction %d: sign: %w", i, err))
		}
		out, err := tx.MarshalBinary()
		if err != nil {
			return nil, 0, stageErr(StageSign, fmt.Errorf("transaction %d: encode: %w", i, err))
		}
		signed = append(signed, base64.StdEncoding.EncodeToString(out))
		signable++
	}

	return signed, signable, nil
}

func holdsSigner(tx *solana.Transaction, keyring func(solana.PublicKey) *solana.PrivateKey) bool {
	numSigners := int(tx.Message.Header.NumRequiredSignatures)
	if numSigners > len(tx.Message.AccountKeys) {
		numSigners = len(tx.Message.AccountKeys)
	}
	for _, key := range tx.Message.AccountKeys[:numSigners] {
		if keyring(key) != nil {
			return true
		}
	}
	return false
}

// splitBundle fans an oversized bundle out into sub-bundles of at most
// maxPerBundle transactions. The fan-out is bounded: when the natural split
// would exceed maxSubBundles, the chunk size grows instead so the cap holds.
func splitBundle(txs Bundle, maxPerBundle, maxSubBundles int) []Bundle {
	if len(txs) == 0 {
		return nil
	}

	chunkSize := maxPerBundle
	if (len(txs)+chunkSize-1)/chunkSize > maxSubBundles {
		chunkSize = (len(txs) + maxSubBundles - 1) / maxSubBundles
	}

	out := make([]Bundle, 0, (len(txs)+chunkSize-1)/chunkSize)
	for start := 0; start < len(txs); start += chunkSize {
		end := start + chunkSize
		if end > len(txs) {
			end = len(txs)
		}
		out = append(out, txs[start:end])
	}
	return out
}

// chunkWallets splits n wallet indices into stable-order chunks of size.
func chunkWallets[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
