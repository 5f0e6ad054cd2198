/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"escrow-sync-go/internal/ledger"
	"escrow-sync-go/internal/models"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Compile-time check: *Client must satisfy ledger.Client.
var _ ledger.Client = (*Client)(nil)

// Backend is the node surface the client needs; *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client deploys one Escrow contract per agreement and watches its Approved
// logs.
type Client struct {
	backend  Backend
	artifact *Artifact
	chainId  *big.Int
	closer   func()
	watcher  *ledger.Watcher
}

func NewClient(ctx context.Context, cfg models.EthereumConfig, pollingInterval time.Duration, httpClient *http.Client) (*Client, error) {
	if cfg.RpcUrl == "" {
		return nil, fmt.Errorf("ethereum rpc url cannot be empty")
	}

	artifact, err := LoadArtifact(cfg.ArtifactPath)
	if err != nil {
		return nil, err
	}

	var opts []rpc.ClientOption
	if httpClient != nil {
		opts = append(opts, rpc.WithHTTPClient(httpClient))
	}
	rpcClient, err := rpc.DialOptions(ctx, cfg.RpcUrl, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ethereum node: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	chainId, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	if cfg.ChainId != 0 && chainId.Int64() != cfg.ChainId {
		eth.Close()
		return nil, fmt.Errorf("connected to chain %s, expected %d", chainId, cfg.ChainId)
	}

	c, err := NewWithBackend(ctx, eth, artifact, chainId, pollingInterval)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closer = eth.Close

	zap.L().Info("Ethereum ledger client initialized",
		zap.String("rpc_url", cfg.RpcUrl),
		zap.String("chain_id", chainId.String()),
		zap.String("contract", artifact.ContractName))
	return c, nil
}

// NewWithBackend builds a client on an existing backend, such as a simulated chain.
func NewWithBackend(ctx context.Context, backend Backend, artifact *Artifact, chainId *big.Int, pollingInterval time.Duration) (*Client, error) {
	c := &Client{
		backend:  backend,
		artifact: artifact,
		chainId:  chainId,
		closer:   func() {},
	}
	c.watcher = ledger.NewWatcher(ledger.WatcherConfig{
		Source:          &logSource{backend: backend, topic: artifact.ABI.Events[ledger.EventApproved].ID},
		PollingInterval: pollingInterval,
	})
	if err := c.watcher.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) Fund(ctx context.Context, depositor ledger.Signer, arbiter, beneficiary string, value *big.Int) (string, error) {
	if !common.IsHexAddress(arbiter) || !common.IsHexAddress(beneficiary) {
		return "", fmt.Errorf("arbiter and beneficiary must be hex addresses")
	}
	opts, err := c.transactOpts(ctx, depositor)
	if err != nil {
		return "", err
	}
	opts.Value = value

	_, tx, _, err := bind.DeployContract(opts, c.artifact.ABI, c.artifact.Bytecode, c.backend,
		common.HexToAddress(arbiter), common.HexToAddress(beneficiary))
	if err != nil {
		return "", fmt.Errorf("failed to send deployment: %w", err)
	}

	zap.L().Info("Escrow deployment sent",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("depositor", depositor.Address()))

	address, err := bind.WaitDeployed(ctx, c.backend, tx)
	if errors.Is(err, bind.ErrNoCodeAfterDeploy) {
		return "", fmt.Errorf("%w: deployment %s left no code", ledger.ErrReverted, tx.Hash().Hex())
	}
	if err != nil {
		return "", fmt.Errorf("failed waiting for deployment: %w", err)
	}

	return address.Hex(), nil
}

func (c *Client) SubmitApproval(ctx context.Context, approver ledger.Signer, address string) (*ledger.TxHandle, error) {
	contract, addr, err := c.bind(ctx, address)
	if err != nil {
		return nil, err
	}

	arbiter, err := c.callAddress(ctx, contract, "arbiter")
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(approver.Address()) || common.HexToAddress(approver.Address()) != arbiter {
		return nil, fmt.Errorf("%w: %w", ledger.ErrReverted, ledger.ErrNotArbiter)
	}

	opts, err := c.transactOpts(ctx, approver)
	if err != nil {
		return nil, err
	}
	tx, err := contract.Transact(opts, "approve")
	if err != nil {
		return nil, fmt.Errorf("failed to send approval: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for approval: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: approval %s", ledger.ErrReverted, tx.Hash().Hex())
	}

	return &ledger.TxHandle{Hash: tx.Hash().Hex(), Address: addr.Hex()}, nil
}

func (c *Client) Subscribe(address, event string, cb ledger.Callback) (ledger.Subscription, error) {
	return c.watcher.Subscribe(address, event, cb)
}

func (c *Client) IsApproved(ctx context.Context, address string) (bool, error) {
	contract, _, err := c.bind(ctx, address)
	if err != nil {
		return false, err
	}

	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "isApproved"); err != nil {
		return false, fmt.Errorf("failed to call isApproved: %w", err)
	}
	approved, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected isApproved result %T", out[0])
	}
	return approved, nil
}

func (c *Client) Close() {
	c.watcher.Stop()
	c.closer()
}

// bind resolves address to a deployed contract.
func (c *Client) bind(ctx context.Context, address string) (*bind.BoundContract, common.Address, error) {
	if !common.IsHexAddress(address) {
		return nil, common.Address{}, fmt.Errorf("%w: %s", ledger.ErrUnknownAgreement, address)
	}
	addr := common.HexToAddress(address)

	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, addr, fmt.Errorf("failed to read contract code: %w", err)
	}
	if len(code) == 0 {
		return nil, addr, fmt.Errorf("%w: %s", ledger.ErrUnknownAgreement, address)
	}

	return bind.NewBoundContract(addr, c.artifact.ABI, c.backend, c.backend, c.backend), addr, nil
}

func (c *Client) callAddress(ctx context.Context, contract *bind.BoundContract, method string) (common.Address, error) {
	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
		return common.Address{}, fmt.Errorf("failed to call %s: %w", method, err)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected %s result %T", method, out[0])
	}
	return addr, nil
}

func (c *Client) transactOpts(ctx context.Context, signer ledger.Signer) (*bind.TransactOpts, error) {
	ts, ok := signer.(TransactSigner)
	if !ok {
		return nil, fmt.Errorf("signer %s cannot sign ethereum transactions", signer.Address())
	}
	return ts.TransactOpts(ctx, c.chainId)
}

// logSource feeds the watcher with Approved logs, one block range per poll.
type logSource struct {
	backend Backend
	topic   common.Hash
}

func (s *logSource) Head(ctx context.Context) (uint64, error) {
	return s.backend.BlockNumber(ctx)
}

func (s *logSource) Poll(ctx context.Context, cursor uint64) ([]ledger.Event, uint64, error) {
	head, err := s.backend.BlockNumber(ctx)
	if err != nil {
		return nil, cursor, fmt.Errorf("failed to read block number: %w", err)
	}
	if head <= cursor {
		return nil, cursor, nil
	}

	logs, err := s.backend.FilterLogs(ctx, goethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(cursor + 1),
		ToBlock:   new(big.Int).SetUint64(head),
		Topics:    [][]common.Hash{{s.topic}},
	})
	if err != nil {
		return nil, cursor, fmt.Errorf("failed to filter logs: %w", err)
	}

	return logsToEvents(logs), head, nil
}

func logsToEvents(logs []types.Log) []ledger.Event {
	events := make([]ledger.Event, 0, len(logs))
	for _, l := range logs {
		if l.Removed {
			continue
		}
		events = append(events, ledger.Event{
			Id:         fmt.Sprintf("%s:%d", l.TxHash.Hex(), l.Index),
			Name:       ledger.EventApproved,
			Address:    l.Address.Hex(),
			TxHash:     l.TxHash.Hex(),
			ObservedAt: time.Now(),
		})
	}
	return events
}
