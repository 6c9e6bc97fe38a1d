package host

import (
	"fmt"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// Route is an ordered chain pair. Deliveries on one route are FIFO.
type Route struct {
	From liquidstake.ChainID `json:"from"`
	To   liquidstake.ChainID `json:"to"`
}

func (r Route) String() string {
	return fmt.Sprintf("%s->%s", r.From, r.To)
}

// delivery is one queued item: either a credit or a message.
type delivery struct {
	credit   *Credit
	envelope *liquidstake.MessageEnvelope
}

// txn buffers the effects of one execution. Nothing reaches the network
// until commit.
type txn struct {
	net    *Network
	chain  liquidstake.ChainID
	writes map[balanceKey]liquidstake.Amount
	outbox []queued
}

type queued struct {
	route Route
	item  delivery
}

func newTxn(net *Network, chain liquidstake.ChainID) *txn {
	return &txn{
		net:    net,
		chain:  chain,
		writes: make(map[balanceKey]liquidstake.Amount),
	}
}

func (t *txn) balance(key balanceKey) liquidstake.Amount {
	if v, ok := t.writes[key]; ok {
		return v
	}
	v, _ := t.net.book.get(key)
	return v
}

// move debits owner on the executing chain and credits target. Credits to
// another chain are queued on the route to that chain.
func (t *txn) move(asset Asset, owner liquidstake.Owner, amount liquidstake.Amount, target liquidstake.Account) error {
	if !amount.IsPositive() {
		return errors.NewHostError(errors.INVALID_AMOUNT, fmt.Sprintf("transfer amount must be positive, got %s", amount), nil)
	}
	if _, ok := t.net.chains[target.Chain]; !ok {
		return errors.NewHostError(errors.NOT_FOUND, fmt.Sprintf("unknown chain %q", target.Chain), nil)
	}
	if err := target.Owner.Validate(); err != nil {
		return err
	}

	src := balanceKey{asset: asset, account: liquidstake.Account{Chain: t.chain, Owner: owner}}
	have := t.balance(src)
	if have < amount {
		return insufficientFunds(asset, src.account, have, amount)
	}
	t.writes[src] = have - amount

	if target.Chain == t.chain {
		dst := balanceKey{asset: asset, account: target}
		next, err := t.balance(dst).CheckedAdd(amount)
		if err != nil {
			return err
		}
		t.writes[dst] = next
		return nil
	}

	t.enqueue(target.Chain, delivery{credit: &Credit{Asset: asset, Target: target, Amount: amount}})
	return nil
}

func (t *txn) send(destination liquidstake.ChainID, signer liquidstake.Owner, msg liquidstake.Message) (string, error) {
	if _, ok := t.net.chains[destination]; !ok {
		return "", errors.NewHostError(errors.NOT_FOUND, fmt.Sprintf("unknown chain %q", destination), nil)
	}
	env := &liquidstake.MessageEnvelope{
		ID:                  t.net.newID(),
		Origin:              t.chain,
		Destination:         destination,
		AuthenticatedSigner: signer,
		Message:             msg,
		SentAt:              t.net.now(),
	}
	t.enqueue(destination, delivery{envelope: env})
	return env.ID, nil
}

func (t *txn) enqueue(destination liquidstake.ChainID, item delivery) {
	t.outbox = append(t.outbox, queued{route: Route{From: t.chain, To: destination}, item: item})
}

// commit applies buffered balances and queues. It returns the envelopes sent.
func (t *txn) commit() []liquidstake.MessageEnvelope {
	for k, v := range t.writes {
		t.net.book.balances[k] = v
	}
	var sent []liquidstake.MessageEnvelope
	for _, out := range t.outbox {
		t.net.push(out.route, out.item)
		if out.item.envelope != nil {
			sent = append(sent, *out.item.envelope)
		}
	}
	return sent
}
