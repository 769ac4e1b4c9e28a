package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/pilacorp/go-pop-sdk/poperr"
)

var errNotAuthorized = errors.New("not authorized to sign for this account")

const (
	msgReverted        = "Transaction reverted on-chain."
	msgConfirmTimedOut = "Transaction confirmation timed out."
)

// getTransactOpts builds auth options that sign with the client's tx signer.
func (c *Client) getTransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.txSigner == nil {
		return nil, errors.New("tx signer is required")
	}
	from := common.HexToAddress(c.txSigner.GetAddress())
	txSigner := types.LatestSignerForChainID(c.chainID)

	signerFn := func(addr common.Address, tx *types.Transaction) (*types.Transaction, error) {
		if addr != from {
			return nil, errNotAuthorized
		}
		h := txSigner.Hash(tx)
		sig, err := c.txSigner.Sign(h.Bytes())
		if err != nil {
			return nil, fmt.Errorf("failed to sign transaction: %w", err)
		}
		if len(sig) != 65 {
			return nil, fmt.Errorf("invalid signature length: expected 65 bytes, got %d", len(sig))
		}
		if sig[64] >= 27 {
			sig = append([]byte(nil), sig...)
			sig[64] -= 27
		}
		return tx.WithSignature(txSigner, sig)
	}

	opts := &bind.TransactOpts{
		From:     from,
		Value:    big.NewInt(0),
		GasLimit: c.gasLimit,
		Context:  ctx,
		Signer:   signerFn,
	}
	if c.gasPrice != nil {
		opts.GasPrice = c.gasPrice
	}
	return opts, nil
}

// transact sends method on contract and waits for it to be mined.
func (c *Client) transact(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) (common.Hash, error) {
	auth, err := c.getTransactOpts(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := contract.Transact(auth, method, args...)
	if err != nil {
		return common.Hash{}, classifyTxError(method, err)
	}
	log := c.logger.With(zap.String("method", method), zap.String("tx_hash", tx.Hash().Hex()))
	log.Info("transaction sent")

	if _, err := c.WaitMined(ctx, tx.Hash()); err != nil {
		log.Warn("transaction failed", zap.Error(err))
		return tx.Hash(), err
	}
	log.Info("transaction confirmed")
	return tx.Hash(), nil
}

// WaitMined polls for the receipt of txHash. A receipt with failed status is
// poperr.ErrOnChainRevert; running out of time is poperr.ErrNetworkUnreachable.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	var receipt *types.Receipt
	err := retry.Do(
		func() error {
			r, err := c.backend.TransactionReceipt(ctx, txHash)
			if err != nil {
				return err
			}
			receipt = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(c.pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ethereum.NotFound)
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, poperr.Wrap(poperr.ErrNetworkUnreachable, msgConfirmTimedOut, ctx.Err())
		}
		return nil, fmt.Errorf("failed to fetch receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, poperr.Wrap(poperr.ErrOnChainRevert, msgReverted,
			fmt.Errorf("transaction %s reverted in block %v", txHash.Hex(), receipt.BlockNumber))
	}
	return receipt, nil
}

// classifyTxError maps a failed estimation or send to the error taxonomy.
// Nodes report contract rejections during gas estimation as
// "execution reverted: <reason>".
func classifyTxError(method string, err error) error {
	msg := err.Error()
	if i := strings.Index(msg, "execution reverted"); i >= 0 {
		return poperr.Wrap(poperr.ErrOnChainRevert, poperr.Truncate(msg[i:]), err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return poperr.Wrap(poperr.ErrNetworkUnreachable, msgConfirmTimedOut, err)
	}
	return fmt.Errorf("failed to send %s transaction: %w", method, err)
}
