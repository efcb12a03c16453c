// Package attestation records insight fingerprints with the Ethereum
// Attestation Service (EAS).
package attestation

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	DefaultRPCURL          = "https://rpc.ankr.com/eth_sepolia"
	DefaultContractAddress = "0xC2679fBD37d54388Ce493F1DB75320D236e1815e"
	DefaultSchemaUID       = "0xb16fa048b0d597f5a821747eba2d9079916671d9e7cddfab63618bfb1f740150"
	DefaultNetwork         = "sepolia"

	// SchemaDefinition is the EAS schema the payload is encoded against.
	SchemaDefinition = "string meetingId,string[] topics,string source,uint256 confidence,string checksum"
)

var (
	// ErrNotConfigured means no attester key is set; callers treat it as a skip.
	ErrNotConfigured = errors.New("attestation: attester key not configured")
	ErrReverted      = errors.New("attestation: transaction reverted")
	ErrNoUID         = errors.New("attestation: Attested event not found in receipt")
)

const easABI = `[
	{
		"type": "function",
		"name": "attest",
		"stateMutability": "payable",
		"inputs": [{
			"name": "request",
			"type": "tuple",
			"components": [
				{"name": "schema", "type": "bytes32"},
				{"name": "data", "type": "tuple", "components": [
					{"name": "recipient", "type": "address"},
					{"name": "expirationTime", "type": "uint64"},
					{"name": "revocable", "type": "bool"},
					{"name": "refUID", "type": "bytes32"},
					{"name": "data", "type": "bytes"},
					{"name": "value", "type": "uint256"}
				]}
			]
		}],
		"outputs": [{"name": "", "type": "bytes32"}]
	},
	{
		"type": "event",
		"name": "Attested",
		"anonymous": false,
		"inputs": [
			{"name": "recipient", "type": "address", "indexed": true},
			{"name": "attester", "type": "address", "indexed": true},
			{"name": "uid", "type": "bytes32", "indexed": false},
			{"name": "schemaUID", "type": "bytes32", "indexed": true}
		]
	}
]`

// Payload is the data attested for one insight.
type Payload struct {
	MeetingID  string
	Topics     []string
	Source     string
	Confidence float64
	Checksum   string
}

// Result describes a mined attestation.
type Result struct {
	UID       string
	TxHash    string
	Recipient string
	Revocable bool
	Network   string
}

// Config configures the EAS attester.
type Config struct {
	PrivateKey      string
	RPCURL          string
	ContractAddress string
	SchemaUID       string
	Network         string
	PollInterval    time.Duration
}

// Backend is the subset of an Ethereum client used to submit and confirm attestations.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EAS submits attestations to an EAS contract.
type EAS struct {
	cfg      Config
	logger   *log.Logger
	key      *ecdsa.PrivateKey
	from     common.Address
	contract common.Address
	schema   common.Hash
	abi      abi.ABI
	dataArgs abi.Arguments

	// sendMu serializes nonce allocation.
	sendMu  sync.Mutex
	mu      sync.Mutex
	backend Backend
}

type attestationRequestData struct {
	Recipient      common.Address
	ExpirationTime uint64
	Revocable      bool
	RefUID         [32]byte
	Data           []byte
	Value          *big.Int
}

type attestationRequest struct {
	Schema [32]byte
	Data   attestationRequestData
}

// NewEAS builds an attester. A missing private key yields an attester whose
// Attest always returns ErrNotConfigured. The RPC connection is opened lazily.
func NewEAS(cfg Config, logger *log.Logger) (*EAS, error) {
	if cfg.RPCURL == "" {
		cfg.RPCURL = DefaultRPCURL
	}
	if cfg.ContractAddress == "" {
		cfg.ContractAddress = DefaultContractAddress
	}
	if cfg.SchemaUID == "" {
		cfg.SchemaUID = DefaultSchemaUID
	}
	if cfg.Network == "" {
		cfg.Network = DefaultNetwork
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("attestation: invalid contract address %q", cfg.ContractAddress)
	}

	parsed, err := abi.JSON(strings.NewReader(easABI))
	if err != nil {
		return nil, fmt.Errorf("attestation: parse abi: %w", err)
	}
	dataArgs, err := schemaArguments()
	if err != nil {
		return nil, err
	}

	e := &EAS{
		cfg:      cfg,
		logger:   logger,
		contract: common.HexToAddress(cfg.ContractAddress),
		schema:   common.HexToHash(cfg.SchemaUID),
		abi:      parsed,
		dataArgs: dataArgs,
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("attestation: invalid private key: %w", err)
		}
		e.key = key
		e.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return e, nil
}

// WithBackend replaces the RPC client, mainly for tests.
func (e *EAS) WithBackend(b Backend) *EAS {
	e.mu.Lock()
	e.backend = b
	e.mu.Unlock()
	return e
}

// Configured reports whether a signing key is present.
func (e *EAS) Configured() bool {
	return e != nil && e.key != nil
}

// Network returns the configured network name.
func (e *EAS) Network() string {
	return e.cfg.Network
}

func schemaArguments() (abi.Arguments, error) {
	var args abi.Arguments
	for _, typ := range []string{"string", "string[]", "string", "uint256", "string"} {
		t, err := abi.NewType(typ, "", nil)
		if err != nil {
			return nil, fmt.Errorf("attestation: schema type %s: %w", typ, err)
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args, nil
}

// ConfidenceBasisPoints converts a [0,1] confidence to floor(c*10000).
func ConfidenceBasisPoints(c float64) *big.Int {
	if c != c || c <= 0 {
		return big.NewInt(0)
	}
	return big.NewInt(int64(math.Floor(c * 10000)))
}

// EncodeData ABI-encodes p against SchemaDefinition.
func (e *EAS) EncodeData(p Payload) ([]byte, error) {
	topics := p.Topics
	if topics == nil {
		topics = []string{}
	}
	return e.dataArgs.Pack(p.MeetingID, topics, p.Source, ConfidenceBasisPoints(p.Confidence), p.Checksum)
}

// Attest submits p and waits for the transaction to be mined.
func (e *EAS) Attest(ctx context.Context, p Payload) (*Result, error) {
	if !e.Configured() {
		return nil, ErrNotConfigured
	}

	data, err := e.EncodeData(p)
	if err != nil {
		return nil, fmt.Errorf("attestation: encode payload: %w", err)
	}
	callData, err := e.abi.Pack("attest", attestationRequest{
		Schema: [32]byte(e.schema),
		Data: attestationRequestData{
			Recipient:      common.Address{},
			ExpirationTime: 0,
			Revocable:      true,
			Data:           data,
			Value:          big.NewInt(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("attestation: encode call: %w", err)
	}

	backend, err := e.client(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := e.send(ctx, backend, callData)
	if err != nil {
		return nil, err
	}
	e.logger.Printf("attestation: submitted tx %s for meeting %s", tx.Hash().Hex(), p.MeetingID)

	receipt, err := e.waitMined(ctx, backend, tx.Hash())
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: tx %s", ErrReverted, tx.Hash().Hex())
	}

	uid, err := e.uidFromReceipt(receipt)
	if err != nil {
		return nil, err
	}
	return &Result{
		UID:       uid,
		TxHash:    tx.Hash().Hex(),
		Recipient: common.Address{}.Hex(),
		Revocable: true,
		Network:   e.cfg.Network,
	}, nil
}

func (e *EAS) client(ctx context.Context) (Backend, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend != nil {
		return e.backend, nil
	}
	c, err := ethclient.DialContext(ctx, e.cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("attestation: dial rpc: %w", err)
	}
	e.backend = c
	return c, nil
}

func (e *EAS) send(ctx context.Context, backend Backend, callData []byte) (*types.Transaction, error) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("attestation: chain id: %w", err)
	}
	nonce, err := backend.PendingNonceAt(ctx, e.from)
	if err != nil {
		return nil, fmt.Errorf("attestation: nonce: %w", err)
	}
	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("attestation: gas price: %w", err)
	}
	to := e.contract
	gas, err := backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     e.from,
		To:       &to,
		GasPrice: gasPrice,
		Value:    big.NewInt(0),
		Data:     callData,
	})
	if err != nil {
		return nil, fmt.Errorf("attestation: estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gas + gas/5,
		GasPrice: gasPrice,
		Data:     callData,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), e.key)
	if err != nil {
		return nil, fmt.Errorf("attestation: sign: %w", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("attestation: send: %w", err)
	}
	return signed, nil
}

func (e *EAS) waitMined(ctx context.Context, backend Backend, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			e.logger.Printf("attestation: receipt lookup for %s: %v", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("attestation: waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (e *EAS) uidFromReceipt(receipt *types.Receipt) (string, error) {
	eventID := e.abi.Events["Attested"].ID
	for _, l := range receipt.Logs {
		if l == nil || l.Address != e.contract || len(l.Topics) == 0 || l.Topics[0] != eventID {
			continue
		}
		if len(l.Data) < 32 {
			continue
		}
		return common.BytesToHash(l.Data[:32]).Hex(), nil
	}
	return "", ErrNoUID
}
