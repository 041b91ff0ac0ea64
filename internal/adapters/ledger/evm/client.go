// Package evm talks to the MedicalAccessControl contract. It is the
// only component holding the RPC endpoint and the service signing key;
// the rest of the system sees the domain.Ledger port.
package evm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/medicrypt/medicrypt/internal/domain"
)

// The contract exposes no revoke method; revocation is off-chain only.
const contractABI = `[
  {"type":"function","name":"latestRecordCID","stateMutability":"view","inputs":[{"name":"patient","type":"address"}],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"updateRecord","stateMutability":"nonpayable","inputs":[{"name":"cid","type":"string"}],"outputs":[]},
  {"type":"function","name":"requestAccess","stateMutability":"nonpayable","inputs":[{"name":"patient","type":"address"}],"outputs":[]},
  {"type":"function","name":"grantAccess","stateMutability":"nonpayable","inputs":[{"name":"doctor","type":"address"}],"outputs":[]}
]`

const DefaultCallTimeout = 15 * time.Second

type Client struct {
	contract *bind.BoundContract
	signer   *bind.TransactOpts
	timeout  time.Duration
}

type Config struct {
	RPCURL          string
	ContractAddress string
	// ServiceKeyHex signs every transaction. Patients do not sign their
	// own pointer updates in this deployment.
	ServiceKeyHex string
	CallTimeout   time.Duration
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RPCURL == "" || cfg.ContractAddress == "" || cfg.ServiceKeyHex == "" {
		return nil, errors.New("rpc url, contract address and service key are required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrLedgerUnavailable, cfg.RPCURL, err)
	}

	chainID, err := ec.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id: %v", domain.ErrLedgerUnavailable, err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.ServiceKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse service key: %w", err)
	}
	signer, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, err
	}

	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, err
	}

	return &Client{
		contract: bind.NewBoundContract(common.HexToAddress(cfg.ContractAddress), parsed, ec, ec, ec),
		signer:   signer,
		timeout:  timeout,
	}, nil
}

func (c *Client) UpdatePointer(ctx context.Context, ownerWallet, cid string) (string, error) {
	// ownerWallet is not part of the contract call: updateRecord writes
	// under msg.sender, which is always the service wallet here.
	return c.transact(ctx, "updateRecord", cid)
}

func (c *Client) RequestAccess(ctx context.Context, patientWallet, doctorWallet string) (string, error) {
	if !common.IsHexAddress(patientWallet) {
		return "", fmt.Errorf("invalid patient wallet %q", patientWallet)
	}
	return c.transact(ctx, "requestAccess", common.HexToAddress(patientWallet))
}

func (c *Client) GrantAccess(ctx context.Context, patientWallet, doctorWallet string) (string, error) {
	if !common.IsHexAddress(doctorWallet) {
		return "", fmt.Errorf("invalid doctor wallet %q", doctorWallet)
	}
	return c.transact(ctx, "grantAccess", common.HexToAddress(doctorWallet))
}

func (c *Client) LatestPointer(ctx context.Context, wallet string) (string, error) {
	if !common.IsHexAddress(wallet) {
		return "", fmt.Errorf("invalid wallet %q", wallet)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out []any
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "latestRecordCID", common.HexToAddress(wallet))
	if err != nil {
		return "", classify(err)
	}
	if len(out) != 1 {
		return "", fmt.Errorf("%w: unexpected output arity %d", domain.ErrLedgerRejected, len(out))
	}
	cid, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%w: unexpected output type %T", domain.ErrLedgerRejected, out[0])
	}
	return cid, nil
}

// transact submits a state-changing call and returns the tx hash without
// waiting for the transaction to be mined.
func (c *Client) transact(ctx context.Context, method string, args ...any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := *c.signer
	opts.Context = ctx

	tx, err := c.contract.Transact(&opts, method, args...)
	if err != nil {
		return "", classify(err)
	}
	return tx.Hash().Hex(), nil
}

// classify maps transport errors onto the domain's ledger taxonomy.
func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrLedgerTimeout, err)
	case isRevert(err):
		return fmt.Errorf("%w: %v", domain.ErrLedgerRejected, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrLedgerUnavailable, err)
	}
}

func isRevert(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert")
}

var _ domain.Ledger = (*Client)(nil)
