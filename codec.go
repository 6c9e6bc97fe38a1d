package liquidstake

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/marwen-abid/liquidstake-go/errors"
)

// envelope is the wire form of an operation or message: a kind tag plus its payload.
type envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeOperation serializes op with its kind tag.
func EncodeOperation(op Operation) ([]byte, error) {
	if op == nil {
		return nil, errors.NewStoreError(errors.CODEC_ERROR, "operation is nil", nil)
	}
	payload, err := json.Marshal(op)
	if err != nil {
		return nil, errors.NewStoreError(errors.CODEC_ERROR, "failed to encode operation", err)
	}
	return json.Marshal(envelope{Kind: string(op.OperationKind()), Payload: payload})
}

// DecodeOperation parses bytes produced by EncodeOperation.
func DecodeOperation(data []byte) (Operation, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.NewStoreError(errors.CODEC_ERROR, "failed to decode operation envelope", err)
	}
	var (
		op  Operation
		err error
	)
	switch OperationKind(env.Kind) {
	case KindNewLst:
		op, err = decodeAs[NewLst](env.Payload)
	case KindStake:
		op, err = decodeAs[Stake](env.Payload)
	case KindStakeNative:
		op, err = decodeAs[StakeNative](env.Payload)
	case KindStakeLst:
		op, err = decodeAs[StakeLst](env.Payload)
	case KindUnstake:
		op, err = decodeAs[Unstake](env.Payload)
	case KindSwap:
		op, err = decodeAs[Swap](env.Payload)
	default:
		return nil, errors.NewEngineError(errors.UNKNOWN_KIND, fmt.Sprintf("unknown operation kind %q", env.Kind), nil)
	}
	if err != nil {
		return nil, err
	}
	return op, nil
}

// EncodeMessage serializes m with its kind tag.
func EncodeMessage(m Message) ([]byte, error) {
	if m == nil {
		return nil, errors.NewStoreError(errors.CODEC_ERROR, "message is nil", nil)
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, errors.NewStoreError(errors.CODEC_ERROR, "failed to encode message", err)
	}
	return json.Marshal(envelope{Kind: string(m.MessageKind()), Payload: payload})
}

// DecodeMessage parses bytes produced by EncodeMessage.
func DecodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.NewStoreError(errors.CODEC_ERROR, "failed to decode message envelope", err)
	}
	var (
		m   Message
		err error
	)
	switch MessageKind(env.Kind) {
	case KindStakeNativeMessage:
		m, err = decodeAs[StakeNativeMessage](env.Payload)
	case KindStakeLocalAccountMessage:
		m, err = decodeAs[StakeLocalAccountMessage](env.Payload)
	case KindStakeLstMessage:
		m, err = decodeAs[StakeLstMessage](env.Payload)
	case KindSwapMessage:
		m, err = decodeAs[SwapMessage](env.Payload)
	default:
		return nil, errors.NewEngineError(errors.UNKNOWN_KIND, fmt.Sprintf("unknown message kind %q", env.Kind), nil)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func decodeAs[T any](payload json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, errors.NewStoreError(errors.CODEC_ERROR, fmt.Sprintf("failed to decode %T", v), err)
	}
	return v, nil
}

// SignedOperation is an operation plus the signer's signature over its encoding.
// Chains verify the signature before the operation reaches the engine.
// The nonce makes each submission single-use until ExpiresAt.
type SignedOperation struct {
	Chain     ChainID         `json:"chain_id"`
	Signer    Owner           `json:"signer"`
	Nonce     string          `json:"nonce"`
	ExpiresAt time.Time       `json:"expires_at"`
	Operation json.RawMessage `json:"operation"`
	Signature []byte          `json:"signature"`
}

// SigningPayload returns the bytes a signer signs for a submission.
func (s *SignedOperation) SigningPayload() []byte {
	expires := s.ExpiresAt.UTC().Format(time.RFC3339)
	buf := make([]byte, 0, len(s.Chain)+len(s.Nonce)+len(expires)+len(s.Operation)+3)
	buf = append(buf, s.Chain...)
	buf = append(buf, 0)
	buf = append(buf, s.Nonce...)
	buf = append(buf, 0)
	buf = append(buf, expires...)
	buf = append(buf, 0)
	buf = append(buf, s.Operation...)
	return buf
}
