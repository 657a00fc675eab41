package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Envelope is one invocation as read from disk or stdin. Data is base58.
type Envelope struct {
	ProgramID string            `json:"program_id"`
	Accounts  []EnvelopeAccount `json:"accounts"`
	Data      string            `json:"data"`
}

type EnvelopeAccount struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"is_signer"`
	IsWritable bool   `json:"is_writable"`
}

type Invocation struct {
	ProgramID solana.PublicKey
	Accounts  []*solana.AccountMeta
	Data      []byte
}

var errEmptyEnvelope = errors.New("empty invocation envelope")

func ReadEnvelope(r io.Reader) (Envelope, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()

	var envelope Envelope
	if err := decoder.Decode(&envelope); err != nil {
		if errors.Is(err, io.EOF) {
			return Envelope{}, errEmptyEnvelope
		}
		return Envelope{}, fmt.Errorf("decode invocation envelope: %w", err)
	}
	return envelope, nil
}

func (e Envelope) Invocation() (Invocation, error) {
	programID, err := solana.PublicKeyFromBase58(strings.TrimSpace(e.ProgramID))
	if err != nil {
		return Invocation{}, fmt.Errorf("invalid program_id: %w", err)
	}

	accounts := make([]*solana.AccountMeta, 0, len(e.Accounts))
	for i, account := range e.Accounts {
		pubkey, err := solana.PublicKeyFromBase58(strings.TrimSpace(account.Pubkey))
		if err != nil {
			return Invocation{}, fmt.Errorf("invalid accounts[%d].pubkey: %w", i, err)
		}
		accounts = append(accounts, solana.NewAccountMeta(pubkey, account.IsWritable, account.IsSigner))
	}

	var data []byte
	if raw := strings.TrimSpace(e.Data); raw != "" {
		data, err = base58.Decode(raw)
		if err != nil {
			return Invocation{}, fmt.Errorf("invalid data: %w", err)
		}
	}

	return Invocation{
		ProgramID: programID,
		Accounts:  accounts,
		Data:      data,
	}, nil
}

// EnvelopeFromInstruction renders a built instruction in envelope form.
func EnvelopeFromInstruction(ix solana.Instruction) (Envelope, error) {
	data, err := ix.Data()
	if err != nil {
		return Envelope{}, fmt.Errorf("instruction data: %w", err)
	}

	metas := ix.Accounts()
	accounts := make([]EnvelopeAccount, 0, len(metas))
	for _, meta := range metas {
		accounts = append(accounts, EnvelopeAccount{
			Pubkey:     meta.PublicKey.String(),
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
		})
	}

	return Envelope{
		ProgramID: ix.ProgramID().String(),
		Accounts:  accounts,
		Data:      base58.Encode(data),
	}, nil
}
