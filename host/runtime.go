package host

import (
	"context"
	"fmt"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/engine"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// runtime binds the engine to one chain and one transaction.
type runtime struct {
	net    *Network
	chain  *Chain
	signer liquidstake.Owner
	tx     *txn
}

var _ engine.Runtime = (*runtime)(nil)

func (r *runtime) ChainID() liquidstake.ChainID           { return r.chain.id }
func (r *runtime) HomeChainID() liquidstake.ChainID       { return r.net.home }
func (r *runtime) ApplicationOwner() liquidstake.Owner    { return r.net.appOwner }
func (r *runtime) AuthenticatedSigner() liquidstake.Owner { return r.signer }
func (r *runtime) Parameters() liquidstake.Parameters     { return r.net.params }
func (r *runtime) Storage() liquidstake.KVStore           { return r.chain.kv }

func (r *runtime) HomeStorage() liquidstake.KVStore {
	return readOnlyKV{r.net.chains[r.net.home].kv}
}

func (r *runtime) Tokens() liquidstake.TokenService {
	if r.net.external != nil {
		return r.net.external
	}
	return &fungible{net: r.net, tx: r.tx}
}

func (r *runtime) TransferNative(ctx context.Context, source liquidstake.Owner, amount liquidstake.Amount, target liquidstake.Account) error {
	if r.signer != source {
		return errors.NewHostError(errors.UNAUTHORIZED,
			fmt.Sprintf("native funds of %s can only be moved by their owner", source), nil)
	}
	return r.tx.move(NativeAsset, source, amount, target)
}

func (r *runtime) SendMessage(ctx context.Context, destination liquidstake.ChainID, msg liquidstake.Message) (string, error) {
	return r.tx.send(destination, r.signer, msg)
}

// readOnlyKV exposes another chain's committed state without write access.
type readOnlyKV struct {
	kv liquidstake.KVStore
}

func (r readOnlyKV) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	return r.kv.Get(ctx, key)
}

func (r readOnlyKV) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	return r.kv.Iterate(ctx, prefix, fn)
}

func (r readOnlyKV) Write(ctx context.Context, batch *liquidstake.Batch) error {
	return errors.NewHostError(errors.PROTOCOL_VIOLATION, "home chain state is read-only here", nil)
}
