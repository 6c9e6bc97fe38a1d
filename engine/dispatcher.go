package engine

import (
	"context"

	"go.uber.org/zap"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// ExecuteOperation runs op on the current chain.
//
// On the home chain every operation completes in this call. Elsewhere,
// StakeNative, StakeLst, Swap and Stake perform their local step and send
// exactly one message to the home chain. Validation always runs before the
// first external call.
func (e *Engine) ExecuteOperation(ctx context.Context, op liquidstake.Operation) error {
	if err := liquidstake.ValidateOperation(op); err != nil {
		return err
	}
	if owner := liquidstake.OperationSigner(op); owner != "" {
		if err := e.requireSigner(owner); err != nil {
			return err
		}
	}

	var err error
	switch v := op.(type) {
	case liquidstake.NewLst:
		err = e.newLst(v)
	case liquidstake.Stake:
		err = e.stake(ctx, v)
	case liquidstake.StakeNative:
		err = e.stakeNative(ctx, v)
	case liquidstake.StakeLst:
		err = e.stakeLst(ctx, v)
	case liquidstake.Unstake:
		err = e.unstake(v)
	case liquidstake.Swap:
		err = e.swap(ctx, v)
	default:
		err = errors.NewEngineError(errors.UNKNOWN_KIND, "unknown operation", nil)
	}
	if err != nil {
		Logger().Debug("operation rejected",
			zap.String("chain", string(e.rt.ChainID())),
			zap.String("op", string(op.OperationKind())),
			zap.Error(err))
		return err
	}
	Logger().Info("operation executed",
		zap.String("chain", string(e.rt.ChainID())),
		zap.String("op", string(op.OperationKind())),
		zap.Bool("home", e.onHome()))
	return nil
}

func (e *Engine) newLst(op liquidstake.NewLst) error {
	if err := e.requireHome("token registration"); err != nil {
		return err
	}
	if admin := e.params.Admin; admin != "" {
		if err := e.requireSigner(admin); err != nil {
			return err
		}
	}
	e.Registry().Register(op.TokenID)
	return nil
}

func (e *Engine) stake(ctx context.Context, op liquidstake.Stake) error {
	if err := requirePositive(op.Amount); err != nil {
		return err
	}
	if e.onHome() {
		return e.stakeFromLocalAccount(ctx, op.Owner, op.Amount)
	}
	if err := e.escrow.Relocate(ctx, op.Owner, op.Amount, e.params.ProtocolToken); err != nil {
		return err
	}
	return e.send(ctx, liquidstake.StakeLocalAccountMessage{Owner: op.Owner, Amount: op.Amount})
}

func (e *Engine) stakeNative(ctx context.Context, op liquidstake.StakeNative) error {
	if err := requirePositive(op.Amount); err != nil {
		return err
	}
	reg, err := e.homeRegistry(ctx)
	if err != nil {
		return err
	}
	if err := requireExchangeable(reg, op.LstTypeOut); err != nil {
		return err
	}

	if !e.onHome() {
		if err := e.escrow.DepositNative(ctx, op.User, op.Amount); err != nil {
			return err
		}
		return e.send(ctx, liquidstake.StakeNativeMessage{
			User:        op.User,
			Amount:      op.Amount,
			LstTypeOut:  op.LstTypeOut,
			UserChainID: e.rt.ChainID(),
		})
	}

	if err := e.requireReserve(ctx, op.LstTypeOut, op.Amount); err != nil {
		return err
	}
	if err := e.escrow.DepositNative(ctx, op.User, op.Amount); err != nil {
		return err
	}
	return e.payNativeStake(ctx, op.User, op.Amount, op.LstTypeOut, e.rt.ChainID())
}

func (e *Engine) stakeLst(ctx context.Context, op liquidstake.StakeLst) error {
	if err := requirePositive(op.Amount); err != nil {
		return err
	}
	reg, err := e.homeRegistry(ctx)
	if err != nil {
		return err
	}
	if err := requireExchangeable(reg, op.LstTypeIn); err != nil {
		return err
	}

	if !e.onHome() {
		if err := e.escrow.Pull(ctx, op.User, op.Amount, op.LstTypeIn); err != nil {
			return err
		}
		return e.send(ctx, liquidstake.StakeLstMessage{
			User:        op.User,
			AmountIn:    op.Amount,
			UserChainID: e.rt.ChainID(),
		})
	}

	if err := e.requireReserve(ctx, e.params.ProtocolToken, op.Amount); err != nil {
		return err
	}
	if err := e.escrow.Pull(ctx, op.User, op.Amount, op.LstTypeIn); err != nil {
		return err
	}
	return e.payAtPar(ctx, op.User, op.Amount, e.params.ProtocolToken, e.rt.ChainID())
}

// unstake only adjusts the bookkeeping ledger. No custody funds are returned
// to the owner; the ledger is not reconciled with custody balances.
// A zero amount succeeds whenever the owner has an entry.
func (e *Engine) unstake(op liquidstake.Unstake) error {
	remaining, err := e.Ledger().Debit(op.Owner, op.Amount)
	if err != nil {
		return err
	}
	Logger().Warn("unstake debited the ledger without returning custody funds",
		zap.String("chain", string(e.rt.ChainID())),
		zap.String("owner", string(op.Owner)),
		zap.Stringer("amount", op.Amount),
		zap.Stringer("remaining", remaining))
	return nil
}

func (e *Engine) swap(ctx context.Context, op liquidstake.Swap) error {
	if err := requirePositive(op.AmountIn); err != nil {
		return err
	}
	reg, err := e.homeRegistry(ctx)
	if err != nil {
		return err
	}
	if err := requireExchangeable(reg, op.LstTypeIn, op.LstTypeOut); err != nil {
		return err
	}
	if err := e.requireReserve(ctx, op.LstTypeOut, op.AmountIn); err != nil {
		return err
	}
	if err := e.escrow.Pull(ctx, op.User, op.AmountIn, op.LstTypeIn); err != nil {
		return err
	}

	if !e.onHome() {
		return e.send(ctx, liquidstake.SwapMessage{
			User:        op.User,
			AmountIn:    op.AmountIn,
			UserChainID: e.rt.ChainID(),
			LstTypeIn:   op.LstTypeIn,
			LstTypeOut:  op.LstTypeOut,
		})
	}
	return e.payAtPar(ctx, op.User, op.AmountIn, op.LstTypeOut, e.rt.ChainID())
}

func (e *Engine) send(ctx context.Context, msg liquidstake.Message) error {
	id, err := e.rt.SendMessage(ctx, e.rt.HomeChainID(), msg)
	if err != nil {
		return errors.NewEngineError(errors.EXTERNAL_CALL_FAILED, "failed to send message", err).
			With("kind", string(msg.MessageKind()))
	}
	Logger().Debug("message sent",
		zap.String("chain", string(e.rt.ChainID())),
		zap.String("kind", string(msg.MessageKind())),
		zap.String("message_id", id))
	return nil
}
