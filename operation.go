package liquidstake

import (
	"time"

	"github.com/marwen-abid/liquidstake-go/errors"
)

// OperationKind names an operation submitted by a client to a chain.
type OperationKind string

const (
	KindNewLst      OperationKind = "NewLst"
	KindStake       OperationKind = "Stake"
	KindStakeNative OperationKind = "StakeNative"
	KindStakeLst    OperationKind = "StakeLst"
	KindUnstake     OperationKind = "Unstake"
	KindSwap        OperationKind = "Swap"
)

// Operation is one of NewLst, Stake, StakeNative, StakeLst, Unstake or Swap.
type Operation interface {
	OperationKind() OperationKind
}

// NewLst approves token for exchange.
type NewLst struct {
	TokenID TokenID `json:"token_id"`
}

// Stake pledges protocol tokens from Owner into the stake ledger.
type Stake struct {
	Owner  Owner  `json:"owner"`
	Amount Amount `json:"amount"`
}

// StakeNative stakes the chain's native asset in exchange for LstTypeOut.
type StakeNative struct {
	User       Owner   `json:"user"`
	Amount     Amount  `json:"amount"`
	LstTypeOut TokenID `json:"lst_type_out"`
}

// StakeLst stakes an approved token in exchange for the protocol token.
type StakeLst struct {
	User      Owner   `json:"user"`
	Amount    Amount  `json:"amount"`
	LstTypeIn TokenID `json:"lst_type_in"`
}

// Unstake removes Amount from Owner's stake ledger entry.
type Unstake struct {
	Owner  Owner  `json:"owner"`
	Amount Amount `json:"amount"`
}

// Swap exchanges AmountIn of LstTypeIn for LstTypeOut at par.
type Swap struct {
	User       Owner   `json:"user"`
	AmountIn   Amount  `json:"amount_in"`
	LstTypeIn  TokenID `json:"lst_type_in"`
	LstTypeOut TokenID `json:"lst_type_out"`
}

func (NewLst) OperationKind() OperationKind      { return KindNewLst }
func (Stake) OperationKind() OperationKind       { return KindStake }
func (StakeNative) OperationKind() OperationKind { return KindStakeNative }
func (StakeLst) OperationKind() OperationKind    { return KindStakeLst }
func (Unstake) OperationKind() OperationKind     { return KindUnstake }
func (Swap) OperationKind() OperationKind        { return KindSwap }

// MessageKind names an engine-to-engine message.
type MessageKind string

const (
	KindStakeNativeMessage       MessageKind = "StakeNative"
	KindStakeLocalAccountMessage MessageKind = "StakeLocalAccount"
	KindStakeLstMessage          MessageKind = "StakeLst"
	KindSwapMessage              MessageKind = "Swap"
)

// Message is one of the asynchronous messages an engine sends to its home chain.
type Message interface {
	MessageKind() MessageKind
}

// StakeNativeMessage completes a native stake on the home chain.
type StakeNativeMessage struct {
	User        Owner   `json:"user"`
	Amount      Amount  `json:"amount"`
	LstTypeOut  TokenID `json:"lst_type_out"`
	UserChainID ChainID `json:"user_chain_id"`
}

// StakeLocalAccountMessage credits Owner's stake ledger from funds already on the home chain.
type StakeLocalAccountMessage struct {
	Owner  Owner  `json:"owner"`
	Amount Amount `json:"amount"`
}

// StakeLstMessage pays out the protocol token for a token stake.
type StakeLstMessage struct {
	User        Owner   `json:"user"`
	AmountIn    Amount  `json:"amount_in"`
	UserChainID ChainID `json:"user_chain_id"`
}

// SwapMessage pays out LstTypeOut for a swap whose input is already in custody.
type SwapMessage struct {
	User        Owner   `json:"user"`
	AmountIn    Amount  `json:"amount_in"`
	UserChainID ChainID `json:"user_chain_id"`
	LstTypeIn   TokenID `json:"lst_type_in"`
	LstTypeOut  TokenID `json:"lst_type_out"`
}

func (StakeNativeMessage) MessageKind() MessageKind       { return KindStakeNativeMessage }
func (StakeLocalAccountMessage) MessageKind() MessageKind { return KindStakeLocalAccountMessage }
func (StakeLstMessage) MessageKind() MessageKind          { return KindStakeLstMessage }
func (SwapMessage) MessageKind() MessageKind              { return KindSwapMessage }

// MessageEnvelope carries a message from its origin chain to its destination.
// ID is unique per message and is used by the receiver to drop redeliveries.
type MessageEnvelope struct {
	ID                  string
	Origin              ChainID
	Destination         ChainID
	AuthenticatedSigner Owner
	Message             Message
	SentAt              time.Time
}

// MessageOwner returns the owner a message acts on behalf of.
func MessageOwner(m Message) Owner {
	switch v := m.(type) {
	case StakeNativeMessage:
		return v.User
	case StakeLocalAccountMessage:
		return v.Owner
	case StakeLstMessage:
		return v.User
	case SwapMessage:
		return v.User
	default:
		return ""
	}
}

// MessageAmount returns the amount a message moves.
func MessageAmount(m Message) Amount {
	switch v := m.(type) {
	case StakeNativeMessage:
		return v.Amount
	case StakeLocalAccountMessage:
		return v.Amount
	case StakeLstMessage:
		return v.AmountIn
	case SwapMessage:
		return v.AmountIn
	default:
		return 0
	}
}

// MessageTokens returns the input and output token ids a message refers to, if any.
func MessageTokens(m Message) (in, out TokenID) {
	switch v := m.(type) {
	case StakeNativeMessage:
		return "", v.LstTypeOut
	case SwapMessage:
		return v.LstTypeIn, v.LstTypeOut
	default:
		return "", ""
	}
}

// OperationSigner returns the owner that must authorize op, or "" when any caller may submit it.
func OperationSigner(op Operation) Owner {
	switch v := op.(type) {
	case Stake:
		return v.Owner
	case StakeNative:
		return v.User
	case StakeLst:
		return v.User
	case Unstake:
		return v.Owner
	case Swap:
		return v.User
	default:
		return ""
	}
}

// ValidateOperation checks owner addresses and the operation kind.
// Amount and token checks are left to the dispatcher so they produce their own error codes.
func ValidateOperation(op Operation) error {
	switch v := op.(type) {
	case NewLst:
		if v.TokenID == "" {
			return errors.NewEngineError(errors.UNAPPROVED_TOKEN, "token id is empty", nil)
		}
		return nil
	case Stake, StakeNative, StakeLst, Unstake, Swap:
		return OperationSigner(v).Validate()
	default:
		return errors.NewEngineError(errors.UNKNOWN_KIND, "unknown operation", nil)
	}
}
