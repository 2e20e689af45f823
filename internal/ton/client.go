package ton

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"github.com/xssnick/tonutils-go/tvm/cell"
	"go.uber.org/zap"
)

// ContractState is the minimal account view the money core needs.
type ContractState struct {
	BalanceNano int64
	Deployed    bool
}

// TxRecord is one observed transfer on an address.
type TxRecord struct {
	Hash       string // hex of the transaction hash
	LT         uint64
	From       string
	To         string
	AmountNano int64
	Incoming   bool
	Comment    string
	ObservedAt time.Time
}

// Client abstracts the blockchain for the payout/sweep/reconciliation
// services. Seeds are space-joined 24-word phrases; the caller owns
// decryption.
type Client interface {
	GetBalance(ctx context.Context, addr string) (int64, error)
	GetContractState(ctx context.Context, addr string) (ContractState, error)
	ListTransactions(ctx context.Context, addr string, limit int) ([]TxRecord, error)
	SendTransfer(ctx context.Context, fromSeed, toAddr string, amountNano int64, comment string) (txHash string, err error)
	Deploy(ctx context.Context, fromSeed string) error
	AddressFromSeed(seed string) (string, error)
	GenerateWallet() (seed, addr string, err error)
}

type LiteClient struct {
	api ton.APIClientWrapped
	log *zap.Logger
}

var _ Client = (*LiteClient)(nil)

// ConnectOptions mirrors the lite server configuration surface.
type ConnectOptions struct {
	Network        string // mainnet/testnet
	LiteServerHost string
	LiteServerPort int
	LiteServerKey  string
}

// Connect establishes a connection to the TON network. If a specific lite
// server is configured it is used directly, otherwise servers are
// discovered from the global config matching the network.
func Connect(ctx context.Context, opts ConnectOptions, log *zap.Logger) (*LiteClient, error) {
	client := liteclient.NewConnectionPool()

	if opts.LiteServerHost != "" && opts.LiteServerKey != "" {
		addr := fmt.Sprintf("%s:%d", opts.LiteServerHost, opts.LiteServerPort)
		log.Info("connecting to lite server", zap.String("addr", addr))
		if err := client.AddConnection(ctx, addr, opts.LiteServerKey); err != nil {
			return nil, fmt.Errorf("connect to lite server %s: %w", addr, err)
		}
	} else {
		var configURL string
		switch strings.ToLower(opts.Network) {
		case "mainnet":
			configURL = "https://ton.org/global.config.json"
		default:
			configURL = "https://ton.org/testnet-global.config.json"
		}
		log.Info("connecting via global config", zap.String("url", configURL), zap.String("network", opts.Network))
		if err := client.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
			return nil, fmt.Errorf("connect via config %s: %w", configURL, err)
		}
	}

	proofPolicy := ton.ProofCheckPolicyFast
	if strings.ToLower(opts.Network) == "mainnet" {
		proofPolicy = ton.ProofCheckPolicySecure
	}

	api := ton.NewAPIClient(client, proofPolicy).WithRetry()
	return &LiteClient{api: api, log: log}, nil
}

func (c *LiteClient) account(ctx context.Context, addrStr string) (*tlb.Account, error) {
	addr, err := address.ParseAddr(addrStr)
	if err != nil {
		return nil, fmt.Errorf("invalid TON address %q: %w", addrStr, err)
	}
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("get master block: %w", err)
	}
	account, err := c.api.GetAccount(ctx, block, addr)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", addrStr, err)
	}
	return account, nil
}

func (c *LiteClient) GetBalance(ctx context.Context, addrStr string) (int64, error) {
	state, err := c.GetContractState(ctx, addrStr)
	if err != nil {
		return 0, err
	}
	return state.BalanceNano, nil
}

func (c *LiteClient) GetContractState(ctx context.Context, addrStr string) (ContractState, error) {
	account, err := c.account(ctx, addrStr)
	if err != nil {
		return ContractState{}, err
	}
	if account == nil || account.State == nil {
		return ContractState{}, nil
	}
	return ContractState{
		BalanceNano: account.State.Balance.Nano().Int64(),
		Deployed:    account.IsActive,
	}, nil
}

func (c *LiteClient) ListTransactions(ctx context.Context, addrStr string, limit int) ([]TxRecord, error) {
	addr, err := address.ParseAddr(addrStr)
	if err != nil {
		return nil, fmt.Errorf("invalid TON address %q: %w", addrStr, err)
	}
	account, err := c.account(ctx, addrStr)
	if err != nil {
		return nil, err
	}
	if account == nil || !account.IsActive || account.LastTxLT == 0 {
		return nil, nil
	}

	txs, err := c.api.ListTransactions(ctx, addr, uint32(limit), account.LastTxLT, account.LastTxHash)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", addrStr, err)
	}

	var records []TxRecord
	for _, tx := range txs {
		records = append(records, txToRecords(tx, addrStr)...)
	}
	return records, nil
}

// txToRecords flattens one on-chain transaction into observed transfers:
// at most one incoming internal message plus any outgoing ones.
func txToRecords(tx *tlb.Transaction, ownAddr string) []TxRecord {
	var records []TxRecord
	observedAt := time.Unix(int64(tx.Now), 0)
	hash := hex.EncodeToString(tx.Hash)

	if tx.IO.In != nil {
		if in, ok := tx.IO.In.Msg.(*tlb.InternalMessage); ok && in != nil && !in.Bounced && in.Amount.Nano().Sign() > 0 {
			records = append(records, TxRecord{
				Hash:       hash,
				LT:         tx.LT,
				From:       in.SrcAddr.String(),
				To:         ownAddr,
				AmountNano: in.Amount.Nano().Int64(),
				Incoming:   true,
				Comment:    extractComment(in),
				ObservedAt: observedAt,
			})
		}
	}

	if tx.IO.Out != nil {
		outs, err := tx.IO.Out.ToSlice()
		if err == nil {
			for _, m := range outs {
				if m.MsgType != tlb.MsgTypeInternal {
					continue
				}
				out := m.AsInternal()
				if out.Amount.Nano().Sign() <= 0 {
					continue
				}
				records = append(records, TxRecord{
					Hash:       hash,
					LT:         tx.LT,
					From:       ownAddr,
					To:         out.DstAddr.String(),
					AmountNano: out.Amount.Nano().Int64(),
					Incoming:   false,
					Comment:    extractComment(out),
					ObservedAt: observedAt,
				})
			}
		}
	}

	return records
}

func (c *LiteClient) SendTransfer(ctx context.Context, fromSeed, toAddr string, amountNano int64, comment string) (string, error) {
	w, err := c.walletFromSeed(fromSeed)
	if err != nil {
		return "", err
	}
	to, err := address.ParseAddr(toAddr)
	if err != nil {
		return "", fmt.Errorf("invalid destination address %q: %w", toAddr, err)
	}
	if amountNano <= 0 {
		return "", fmt.Errorf("non-positive transfer amount %d", amountNano)
	}

	var body *cell.Cell
	if comment != "" {
		body, err = wallet.CreateCommentCell(comment)
		if err != nil {
			return "", fmt.Errorf("build comment cell: %w", err)
		}
	}

	msg := wallet.SimpleMessage(to, tlb.FromNanoTON(big.NewInt(amountNano)), body)
	tx, _, err := w.SendWaitTransaction(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("send transfer: %w", err)
	}
	return hex.EncodeToString(tx.Hash), nil
}

// Deploy activates an undeployed wallet contract by sending a no-bounce
// message to itself; the first external message carries the state init.
func (c *LiteClient) Deploy(ctx context.Context, fromSeed string) error {
	w, err := c.walletFromSeed(fromSeed)
	if err != nil {
		return err
	}
	if err := w.TransferNoBounce(ctx, w.WalletAddress(), tlb.FromNanoTONU(0), "", true); err != nil {
		return fmt.Errorf("deploy wallet %s: %w", w.WalletAddress().String(), err)
	}
	return nil
}

func (c *LiteClient) AddressFromSeed(seed string) (string, error) {
	w, err := c.walletFromSeed(seed)
	if err != nil {
		return "", err
	}
	return w.WalletAddress().String(), nil
}

func (c *LiteClient) GenerateWallet() (string, string, error) {
	words := wallet.NewSeed()
	seed := strings.Join(words, " ")
	addr, err := c.AddressFromSeed(seed)
	if err != nil {
		return "", "", err
	}
	return seed, addr, nil
}

func (c *LiteClient) walletFromSeed(seed string) (*wallet.Wallet, error) {
	words := strings.Fields(seed)
	w, err := wallet.FromSeed(c.api, words, wallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("derive wallet from seed: %w", err)
	}
	return w, nil
}

// extractComment parses a text comment from an InternalMessage body.
// TON text comments have opcode 0x00000000 followed by UTF-8 text.
func extractComment(inMsg *tlb.InternalMessage) string {
	body := inMsg.Body
	if body == nil {
		return ""
	}

	slice := body.BeginParse()
	if slice.BitsLeft() < 32 {
		return ""
	}

	op, err := slice.LoadUInt(32)
	if err != nil || op != 0 {
		return ""
	}

	remaining := slice.BitsLeft()
	if remaining < 8 {
		return ""
	}

	data, err := slice.LoadSlice(remaining)
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}
