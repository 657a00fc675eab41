package program

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const unknownInstructionLabel = "unknown"

// Execute is the program entrypoint. It rejects invocations addressed to
// another program before looking at the instruction data.
func (p *Processor) Execute(ctx context.Context, programID solana.PublicKey, accounts []*solana.AccountMeta, data []byte) (err error) {
	label := unknownInstructionLabel
	defer func() {
		p.metrics.recordResult(label, err)
	}()

	if !programID.Equals(p.cfg.ProgramID) {
		return fmt.Errorf("%w: invocation for %s, program is %s", ErrIncorrectProgramID, programID, p.cfg.ProgramID)
	}

	ix, err := DecodeInstruction(data)
	if err != nil {
		p.logger.Warn("instruction rejected", "instruction", label, "err", err)
		return err
	}
	label = ix.ID().String()

	return p.Process(ctx, accounts, ix)
}

// ExecuteInstruction runs an instruction produced by one of the builders.
func (p *Processor) ExecuteInstruction(ctx context.Context, ix solana.Instruction) error {
	data, err := ix.Data()
	if err != nil {
		return fmt.Errorf("instruction data: %w", err)
	}
	return p.Execute(ctx, ix.ProgramID(), ix.Accounts(), data)
}
