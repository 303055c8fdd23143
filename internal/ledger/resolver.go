package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/web3-frozen/overlay-monitor/internal/event"
	"github.com/web3-frozen/overlay-monitor/internal/resolve"
)

// DefaultStateContract is the Overlay state contract on Arbitrum One.
const DefaultStateContract = "0xC3cB99652111e7828f38544E3e94c714D8F9a51a"

const stateABIJSON = `[{"inputs":[{"internalType":"contract IOverlayV1Market","name":"market","type":"address"},{"internalType":"address","name":"owner","type":"address"},{"internalType":"uint256","name":"id","type":"uint256"}],"name":"value","outputs":[{"internalType":"uint256","name":"value_","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var stateABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(stateABIJSON))
	if err != nil {
		panic("failed to parse Overlay state ABI: " + err.Error())
	}
	stateABI = parsed
}

// Resolver reads position values from the Overlay state contract. Each
// ResolveBatch is one JSON-RPC batch of eth_call requests.
type Resolver struct {
	rpcURL string
	state  common.Address
	logger *slog.Logger

	mu     sync.Mutex
	client *rpc.Client
}

// NewResolver creates a Resolver. The RPC connection is dialed lazily.
func NewResolver(rpcURL, stateContract string, logger *slog.Logger) *Resolver {
	if stateContract == "" {
		stateContract = DefaultStateContract
	}
	return &Resolver{
		rpcURL: rpcURL,
		state:  common.HexToAddress(stateContract),
		logger: logger.With("component", "ledger"),
	}
}

// ResolveBatch implements resolve.ValueResolver.
func (r *Resolver) ResolveBatch(ctx context.Context, keys []event.PositionKey) []resolve.Result {
	results := make([]resolve.Result, len(keys))
	if len(keys) == 0 {
		return results
	}

	client, err := r.getClient(ctx)
	if err != nil {
		return failAll(results, err)
	}

	elems := make([]rpc.BatchElem, 0, len(keys))
	slots := make([]int, 0, len(keys))
	outs := make([]hexutil.Bytes, len(keys))
	for i, k := range keys {
		payload, err := packValue(k)
		if err != nil {
			results[i].Err = err
			continue
		}
		call := map[string]any{
			"to":   r.state,
			"data": hexutil.Bytes(payload),
		}
		elems = append(elems, rpc.BatchElem{
			Method: "eth_call",
			Args:   []any{call, "latest"},
			Result: &outs[i],
		})
		slots = append(slots, i)
	}
	if len(elems) == 0 {
		return results
	}

	if err := client.BatchCallContext(ctx, elems); err != nil {
		r.logger.Warn("batch call failed", "size", len(elems), "error", err)
		for _, i := range slots {
			if results[i].Err == nil {
				results[i].Err = fmt.Errorf("batch call: %w", err)
			}
		}
		return results
	}

	for j, i := range slots {
		if elems[j].Error != nil {
			results[i].Err = elems[j].Error
			continue
		}
		v, err := unpackValue(outs[i])
		if err != nil {
			results[i].Err = err
			continue
		}
		results[i].Value = v
	}
	return results
}

// Ping checks the RPC endpoint by reading the latest block number.
func (r *Resolver) Ping(ctx context.Context) error {
	client, err := r.getClient(ctx)
	if err != nil {
		return err
	}
	_, err = ethclient.NewClient(client).BlockNumber(ctx)
	return err
}

// Close releases the RPC connection.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}

func (r *Resolver) getClient(ctx context.Context) (*rpc.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}
	if r.rpcURL == "" {
		return nil, errors.New("rpc url not configured")
	}
	client, err := rpc.DialContext(ctx, r.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	r.client = client
	return client, nil
}

func packValue(k event.PositionKey) ([]byte, error) {
	if k.PositionID == nil || !common.IsHexAddress(k.MarketID) || !common.IsHexAddress(k.Owner) {
		return nil, fmt.Errorf("invalid position key %s/%s/%v", k.MarketID, k.Owner, k.PositionID)
	}
	return stateABI.Pack("value", common.HexToAddress(k.MarketID), common.HexToAddress(k.Owner), k.PositionID)
}

func unpackValue(out []byte) (*big.Int, error) {
	if len(out) == 0 {
		return nil, errors.New("empty eth_call result")
	}
	values, err := stateABI.Unpack("value", out)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, errors.New("unexpected value response")
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.New("failed to decode value output")
	}
	return v, nil
}

func failAll(results []resolve.Result, err error) []resolve.Result {
	for i := range results {
		results[i].Err = err
	}
	return results
}

var _ resolve.ValueResolver = (*Resolver)(nil)
