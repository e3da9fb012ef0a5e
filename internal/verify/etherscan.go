package verify

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zjrosen/arbor/internal/log"
)

// DefaultEtherscanURL is the multichain (v2) API endpoint.
const DefaultEtherscanURL = "https://api.etherscan.io/v2/api"

const (
	defaultPollInterval = 3 * time.Second
	defaultMaxAttempts  = 20
)

// ErrMissingBuildInfo is returned when the artifact has no compiler input to
// publish.
var ErrMissingBuildInfo = errors.New("artifact has no build info")

// Etherscan verifies contracts through the Etherscan-compatible API using
// the standard-json-input format.
type Etherscan struct {
	apiURL       string
	apiKey       string
	client       *http.Client
	pollInterval time.Duration
	maxAttempts  int
}

// EtherscanOption configures an Etherscan verifier.
type EtherscanOption func(*Etherscan)

// WithAPIURL overrides the API endpoint.
func WithAPIURL(u string) EtherscanOption {
	return func(e *Etherscan) {
		if u != "" {
			e.apiURL = u
		}
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) EtherscanOption {
	return func(e *Etherscan) { e.client = c }
}

// WithPolling sets how often and how many times the status is checked.
func WithPolling(interval time.Duration, attempts int) EtherscanOption {
	return func(e *Etherscan) {
		if interval > 0 {
			e.pollInterval = interval
		}
		if attempts > 0 {
			e.maxAttempts = attempts
		}
	}
}

// NewEtherscan creates a verifier authenticating with apiKey.
func NewEtherscan(apiKey string, opts ...EtherscanOption) *Etherscan {
	e := &Etherscan{
		apiURL:       DefaultEtherscanURL,
		apiKey:       apiKey,
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: defaultPollInterval,
		maxAttempts:  defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

func (r apiResponse) ok() bool { return r.Status == "1" }

func isAlreadyVerified(result string) bool {
	return strings.Contains(strings.ToLower(result), "already verified")
}

// Verify submits the source and waits for the explorer's verdict. A contract
// that is already verified counts as success.
func (e *Etherscan) Verify(ctx context.Context, req Request) error {
	if err := e.verify(ctx, req); err != nil {
		return &VerificationFailure{Name: req.Name, Address: req.Address, Err: err}
	}
	return nil
}

func (e *Etherscan) verify(ctx context.Context, req Request) error {
	if req.Artifact == nil || req.Artifact.BuildInfo == nil {
		return ErrMissingBuildInfo
	}

	var guid string
	for attempt := 1; ; attempt++ {
		resp, err := e.submit(ctx, req)
		if err != nil {
			return err
		}
		if resp.ok() {
			guid = resp.Result
			break
		}
		if isAlreadyVerified(resp.Result) {
			log.Info(log.CatVerify, "Contract already verified", "contract", req.Name, "address", req.Address.Hex())
			return nil
		}
		// The explorer may not have indexed freshly deployed bytecode yet.
		if strings.Contains(resp.Result, "Unable to locate ContractCode") && attempt < e.maxAttempts {
			if err := e.sleep(ctx); err != nil {
				return err
			}
			continue
		}
		return fmt.Errorf("submission rejected: %s", resp.Result)
	}

	log.Debug(log.CatVerify, "Verification submitted", "contract", req.Name, "guid", guid)

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if err := e.sleep(ctx); err != nil {
			return err
		}
		resp, err := e.status(ctx, req.ChainID, guid)
		if err != nil {
			return err
		}
		switch {
		case resp.ok(), isAlreadyVerified(resp.Result):
			log.Info(log.CatVerify, "Contract verified", "contract", req.Name, "address", req.Address.Hex())
			return nil
		case strings.Contains(strings.ToLower(resp.Result), "pending"):
			continue
		default:
			return fmt.Errorf("verification failed: %s", resp.Result)
		}
	}
	return fmt.Errorf("verification still pending after %d checks", e.maxAttempts)
}

func (e *Etherscan) submit(ctx context.Context, req Request) (apiResponse, error) {
	form := url.Values{}
	form.Set("apikey", e.apiKey)
	form.Set("module", "contract")
	form.Set("action", "verifysourcecode")
	form.Set("contractaddress", req.Address.Hex())
	form.Set("sourceCode", string(req.Artifact.BuildInfo.Input))
	form.Set("codeformat", "solidity-standard-json-input")
	form.Set("contractname", req.Artifact.FullyQualifiedName())
	form.Set("compilerversion", "v"+req.Artifact.BuildInfo.SolcLongVersion)
	// The misspelling is part of the API.
	form.Set("constructorArguements", hex.EncodeToString(req.ConstructorArgs))

	endpoint := e.apiURL + "?chainid=" + strconv.FormatUint(req.ChainID, 10)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return apiResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(httpReq)
}

func (e *Etherscan) status(ctx context.Context, chainID uint64, guid string) (apiResponse, error) {
	q := url.Values{}
	q.Set("chainid", strconv.FormatUint(chainID, 10))
	q.Set("apikey", e.apiKey)
	q.Set("module", "contract")
	q.Set("action", "checkverifystatus")
	q.Set("guid", guid)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return apiResponse{}, err
	}
	return e.do(httpReq)
}

func (e *Etherscan) do(req *http.Request) (apiResponse, error) {
	resp, err := e.client.Do(req)
	if err != nil {
		return apiResponse{}, fmt.Errorf("calling explorer: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apiResponse{}, fmt.Errorf("reading explorer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apiResponse{}, fmt.Errorf("explorer returned %s", resp.Status)
	}
	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return apiResponse{}, fmt.Errorf("decoding explorer response: %w", err)
	}
	return out, nil
}

func (e *Etherscan) sleep(ctx context.Context) error {
	timer := time.NewTimer(e.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
