package engine

import (
	"context"

	"go.uber.org/zap"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// ExecuteMessage completes the home-chain half of a cross-chain operation.
// Messages are only valid on the home chain. A message whose id was already
// executed is acknowledged without effect.
func (e *Engine) ExecuteMessage(ctx context.Context, env liquidstake.MessageEnvelope) error {
	if err := e.requireHome("message " + string(kindOf(env.Message))); err != nil {
		return err
	}
	if env.ID != "" && e.Processed(env.ID) {
		Logger().Info("duplicate message ignored",
			zap.String("chain", string(e.rt.ChainID())),
			zap.String("message_id", env.ID))
		return nil
	}

	var err error
	switch m := env.Message.(type) {
	case liquidstake.StakeNativeMessage:
		err = e.handleStakeNative(ctx, m)
	case liquidstake.StakeLocalAccountMessage:
		err = e.handleStakeLocalAccount(ctx, m)
	case liquidstake.StakeLstMessage:
		err = e.handleStakeLst(ctx, m)
	case liquidstake.SwapMessage:
		err = e.handleSwap(ctx, m)
	default:
		err = errors.NewEngineError(errors.UNKNOWN_KIND, "unknown message", nil)
	}
	if err != nil {
		return err
	}

	if env.ID != "" {
		e.state.Processed().Insert(env.ID)
	}
	Logger().Info("message executed",
		zap.String("chain", string(e.rt.ChainID())),
		zap.String("kind", string(kindOf(env.Message))),
		zap.String("message_id", env.ID),
		zap.String("origin", string(env.Origin)))
	return nil
}

func kindOf(m liquidstake.Message) liquidstake.MessageKind {
	if m == nil {
		return ""
	}
	return m.MessageKind()
}

func (e *Engine) handleStakeNative(ctx context.Context, m liquidstake.StakeNativeMessage) error {
	if err := requirePositive(m.Amount); err != nil {
		return err
	}
	if err := requireExchangeable(e.Registry(), m.LstTypeOut); err != nil {
		return err
	}
	if err := e.requireReserve(ctx, m.LstTypeOut, m.Amount); err != nil {
		return err
	}
	return e.payNativeStake(ctx, m.User, m.Amount, m.LstTypeOut, m.UserChainID)
}

func (e *Engine) handleStakeLocalAccount(ctx context.Context, m liquidstake.StakeLocalAccountMessage) error {
	if err := requirePositive(m.Amount); err != nil {
		return err
	}
	return e.stakeFromLocalAccount(ctx, m.Owner, m.Amount)
}

func (e *Engine) handleStakeLst(ctx context.Context, m liquidstake.StakeLstMessage) error {
	if err := requirePositive(m.AmountIn); err != nil {
		return err
	}
	if err := e.requireReserve(ctx, e.params.ProtocolToken, m.AmountIn); err != nil {
		return err
	}
	return e.payAtPar(ctx, m.User, m.AmountIn, e.params.ProtocolToken, m.UserChainID)
}

// handleSwap pays out the output token. The input token pulled on the origin
// chain stays in the reserve.
func (e *Engine) handleSwap(ctx context.Context, m liquidstake.SwapMessage) error {
	if err := requirePositive(m.AmountIn); err != nil {
		return err
	}
	if err := requireExchangeable(e.Registry(), m.LstTypeIn, m.LstTypeOut); err != nil {
		return err
	}
	if err := e.requireReserve(ctx, m.LstTypeOut, m.AmountIn); err != nil {
		return err
	}
	return e.payAtPar(ctx, m.User, m.AmountIn, m.LstTypeOut, m.UserChainID)
}

// stakeFromLocalAccount pulls protocol tokens the owner holds on the home
// chain into custody and credits the ledger.
func (e *Engine) stakeFromLocalAccount(ctx context.Context, owner liquidstake.Owner, amount liquidstake.Amount) error {
	if err := e.precheckCredit(owner, amount); err != nil {
		return err
	}
	if err := e.escrow.Pull(ctx, owner, amount, e.params.ProtocolToken); err != nil {
		return err
	}
	_, err := e.Ledger().Credit(owner, amount)
	return err
}

func (e *Engine) payNativeStake(ctx context.Context, user liquidstake.Owner, amount liquidstake.Amount, out liquidstake.TokenID, dest liquidstake.ChainID) error {
	if err := e.payAtPar(ctx, user, amount, out, dest); err != nil {
		return err
	}
	e.state.NativeFunded().Insert(string(out))
	return nil
}

func (e *Engine) payAtPar(ctx context.Context, user liquidstake.Owner, amountIn liquidstake.Amount, out liquidstake.TokenID, dest liquidstake.ChainID) error {
	amountOut, err := Quote(amountIn, ParRate)
	if err != nil {
		return err
	}
	return e.escrow.Push(ctx, amountOut, user, out, dest)
}
