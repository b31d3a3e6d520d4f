// Package blockchain anchors signed documents on an EVM chain: a
// zero-value, self-addressed transaction carrying the document metadata
// in its data field, and the lookup operation decoding it back out.
package blockchain

import (
	"blocksign/internal/model"
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"go.uber.org/zap"
)

var (
	ErrAnchorFailed        = errors.New("anchoring transaction failed")
	ErrAnchorTimeout       = errors.New("timed out waiting for the anchor confirmation")
	ErrTransactionNotFound = errors.New("transaction not found on chain")
)

type Config struct {
	RPCURL        string
	PrivateKeyHex string
	Network       string
	ExplorerBase  string

	GasLimit                uint64
	PriorityFeeBoostPercent int64
	ConfirmTimeout          time.Duration
}

// Anchorer talks to one EVM chain with one company wallet. Constructed
// once at the composition root and passed by reference; a nil Anchorer
// means anchoring is not configured and gets skipped.
type Anchorer struct {
	logger  *zap.Logger
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int

	network      string
	explorerBase string
	gasLimit     uint64
	boostPercent int64
	confirmWait  time.Duration
}

func NewAnchorer(ctx context.Context, logger *zap.Logger, cfg Config) (*Anchorer, error) {
	if cfg.RPCURL == "" || cfg.PrivateKeyHex == "" {
		return nil, errors.New("anchoring requires both the RPC URL and the wallet private key")
	}

	key, err := crypto.HexToECDSA(cfg.PrivateKeyHex)
	if err != nil {
		return nil, errors.New("failed to parse the wallet private key: " + err.Error())
	}

	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.New("failed to dial the RPC endpoint: " + err.Error())
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.New("failed to query the chain id: " + err.Error())
	}

	address := crypto.PubkeyToAddress(key.PublicKey)
	logger.Info("anchoring client ready",
		zap.String("network", cfg.Network),
		zap.String("wallet", address.Hex()),
		zap.String("chainID", chainID.String()))

	return &Anchorer{
		logger:       logger,
		client:       client,
		key:          key,
		address:      address,
		chainID:      chainID,
		network:      cfg.Network,
		explorerBase: cfg.ExplorerBase,
		gasLimit:     cfg.GasLimit,
		boostPercent: cfg.PriorityFeeBoostPercent,
		confirmWait:  cfg.ConfirmTimeout,
	}, nil
}

// Anchor submits the metadata record and waits for one confirmation,
// bounded by the configured timeout.
func (a *Anchorer) Anchor(ctx context.Context, meta Metadata) (model.Anchor, error) {
	payload, err := EncodeMetadata(meta)
	if err != nil {
		return model.Anchor{}, err
	}

	a.logger.Info("anchoring document", zap.String("docID", meta.DocID), zap.Int("payloadBytes", len(payload)))

	tx, err := a.submit(ctx, payload)
	if err != nil {
		return model.Anchor{}, errors.New(ErrAnchorFailed.Error() + ": " + err.Error())
	}

	a.logger.Info("anchor transaction sent", zap.String("docID", meta.DocID), zap.String("txID", tx.Hash().Hex()))

	waitCtx, cancel := context.WithTimeout(ctx, a.confirmWait)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, a.client, tx)
	if err != nil {
		if waitCtx.Err() != nil {
			return model.Anchor{}, ErrAnchorTimeout
		}
		return model.Anchor{}, errors.New(ErrAnchorFailed.Error() + ": " + err.Error())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return model.Anchor{}, ErrAnchorFailed
	}

	a.logger.Info("anchor transaction confirmed",
		zap.String("docID", meta.DocID),
		zap.String("txID", receipt.TxHash.Hex()),
		zap.Uint64("block", receipt.BlockNumber.Uint64()))

	return model.Anchor{
		TxID:        receipt.TxHash.Hex(),
		Network:     a.network,
		ExplorerURL: a.explorerBase + "/tx/" + receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		AnchoredAt:  time.Now().UTC(),
	}, nil
}

func (a *Anchorer) submit(ctx context.Context, payload []byte) (*types.Transaction, error) {
	nonce, err := a.client.PendingNonceAt(ctx, a.address)
	if err != nil {
		return nil, errors.New("failed to get the wallet nonce: " + err.Error())
	}

	tipCap, err := a.client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, errors.New("failed to get the fee estimate: " + err.Error())
	}
	head, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, errors.New("failed to get the chain head: " + err.Error())
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}

	boostedTip := boostFee(tipCap, a.boostPercent)
	maxFee := new(big.Int).Add(baseFee, boostedTip)

	a.logger.Debug("anchor gas bid",
		zap.String("maxFeeGwei", new(big.Int).Div(maxFee, big.NewInt(params.GWei)).String()),
		zap.String("priorityFeeGwei", new(big.Int).Div(boostedTip, big.NewInt(params.GWei)).String()))

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     nonce,
		GasTipCap: boostedTip,
		GasFeeCap: maxFee,
		Gas:       a.gasLimit,
		To:        &a.address,
		Value:     big.NewInt(0),
		Data:      payload,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(a.chainID), a.key)
	if err != nil {
		return nil, errors.New("failed to sign the transaction: " + err.Error())
	}

	if err := a.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, errors.New("failed to send the transaction: " + err.Error())
	}

	return signedTx, nil
}

// Verification is the public view of an anchor transaction lookup.
type Verification struct {
	TxID        string
	From        string
	Confirmed   bool
	BlockNumber uint64
	ExplorerURL string
	Metadata    *Metadata
}

// VerifyTransaction fetches the transaction, decodes the metadata out of
// its data field and reports the confirmation status.
func (a *Anchorer) VerifyTransaction(ctx context.Context, txID string) (Verification, error) {
	hash := common.HexToHash(txID)

	tx, pending, err := a.client.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Verification{}, ErrTransactionNotFound
		}
		return Verification{}, errors.New("failed to fetch the transaction: " + err.Error())
	}

	verification := Verification{
		TxID:        tx.Hash().Hex(),
		ExplorerURL: a.explorerBase + "/tx/" + tx.Hash().Hex(),
	}

	if from, err := types.Sender(types.LatestSignerForChainID(a.chainID), tx); err == nil {
		verification.From = from.Hex()
	}

	if meta, err := DecodeMetadata(tx.Data()); err == nil {
		verification.Metadata = &meta
	} else {
		a.logger.Warn("failed to decode the transaction data", zap.String("txID", txID), zap.Error(err))
	}

	if pending {
		return verification, nil
	}

	receipt, err := a.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return verification, nil
		}
		return Verification{}, errors.New("failed to fetch the receipt: " + err.Error())
	}

	verification.Confirmed = receipt.Status == types.ReceiptStatusSuccessful
	verification.BlockNumber = receipt.BlockNumber.Uint64()

	return verification, nil
}

func (a *Anchorer) Address() string {
	return a.address.Hex()
}

func (a *Anchorer) Network() string {
	return a.network
}

// Balance returns the wallet balance in the chain's native currency.
func (a *Anchorer) Balance(ctx context.Context) (string, error) {
	wei, err := a.client.BalanceAt(ctx, a.address, nil)
	if err != nil {
		return "", errors.New("failed to get the wallet balance: " + err.Error())
	}

	native := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(params.Ether))
	return native.Text('f', 6), nil
}
