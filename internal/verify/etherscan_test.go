package verify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/arbor/internal/artifacts"
	"github.com/zjrosen/arbor/internal/artifacts/artifactstest"
	"github.com/zjrosen/arbor/internal/verify"
)

type fakeExplorer struct {
	mu          sync.Mutex
	submissions []map[string]string
	statusCalls int
	chainIDs    []string

	submitResults []map[string]string // consumed in order; last one repeats
	statusResults []map[string]string
}

func (f *fakeExplorer) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.chainIDs = append(f.chainIDs, r.URL.Query().Get("chainid"))

		var body map[string]string
		switch r.Method {
		case http.MethodPost:
			require.NoError(t, r.ParseForm())
			form := map[string]string{}
			for k := range r.PostForm {
				form[k] = r.PostForm.Get(k)
			}
			f.submissions = append(f.submissions, form)
			body = next(&f.submitResults)
		default:
			require.Equal(t, "checkverifystatus", r.URL.Query().Get("action"))
			f.statusCalls++
			body = next(&f.statusResults)
		}
		_ = json.NewEncoder(w).Encode(body)
	})
}

func next(results *[]map[string]string) map[string]string {
	r := (*results)[0]
	if len(*results) > 1 {
		*results = (*results)[1:]
	}
	return r
}

func resp(status, result string) map[string]string {
	return map[string]string{"status": status, "message": "", "result": result}
}

func request(t *testing.T) verify.Request {
	t.Helper()
	shop, err := artifactstest.Source(t).Load("Shop")
	require.NoError(t, err)
	withBuild := *shop
	withBuild.BuildInfo = &artifacts.BuildInfo{
		SolcLongVersion: "0.8.20+commit.a1b79de6",
		Input:           json.RawMessage(`{"language":"Solidity","sources":{}}`),
	}
	return verify.Request{
		Name:            "Shop",
		ChainID:         11155111,
		Address:         common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		ConstructorArgs: []byte{0xca, 0xfe},
		Artifact:        &withBuild,
	}
}

func newVerifier(t *testing.T, f *fakeExplorer) *verify.Etherscan {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return verify.NewEtherscan("secret",
		verify.WithAPIURL(srv.URL),
		verify.WithHTTPClient(srv.Client()),
		verify.WithPolling(time.Millisecond, 5),
	)
}

func TestEtherscan_VerifySuccess(t *testing.T) {
	f := &fakeExplorer{
		submitResults: []map[string]string{resp("1", "guid-123")},
		statusResults: []map[string]string{resp("0", "Pending in queue"), resp("1", "Pass - Verified")},
	}
	v := newVerifier(t, f)

	require.NoError(t, v.Verify(context.Background(), request(t)))

	require.Len(t, f.submissions, 1)
	form := f.submissions[0]
	require.Equal(t, "verifysourcecode", form["action"])
	require.Equal(t, "secret", form["apikey"])
	require.Equal(t, "solidity-standard-json-input", form["codeformat"])
	require.Equal(t, "contracts/Shop.sol:Shop", form["contractname"])
	require.Equal(t, "v0.8.20+commit.a1b79de6", form["compilerversion"])
	require.Equal(t, "cafe", form["constructorArguements"])
	require.Equal(t, `{"language":"Solidity","sources":{}}`, form["sourceCode"])
	require.Equal(t, 2, f.statusCalls)
	for _, id := range f.chainIDs {
		require.Equal(t, "11155111", id)
	}
}

func TestEtherscan_AlreadyVerifiedIsSuccess(t *testing.T) {
	f := &fakeExplorer{
		submitResults: []map[string]string{resp("0", "Contract source code already verified")},
	}
	v := newVerifier(t, f)

	require.NoError(t, v.Verify(context.Background(), request(t)))
	require.Zero(t, f.statusCalls)
}

func TestEtherscan_RetriesUntilBytecodeIndexed(t *testing.T) {
	f := &fakeExplorer{
		submitResults: []map[string]string{
			resp("0", "Unable to locate ContractCode at 0xaa"),
			resp("1", "guid-1"),
		},
		statusResults: []map[string]string{resp("0", "Already Verified")},
	}
	v := newVerifier(t, f)

	require.NoError(t, v.Verify(context.Background(), request(t)))
	require.Len(t, f.submissions, 2)
}

func TestEtherscan_Failures(t *testing.T) {
	tests := []struct {
		name     string
		explorer *fakeExplorer
		contains string
	}{
		{
			name:     "rejected submission",
			explorer: &fakeExplorer{submitResults: []map[string]string{resp("0", "Invalid API Key")}},
			contains: "Invalid API Key",
		},
		{
			name: "failed verification",
			explorer: &fakeExplorer{
				submitResults: []map[string]string{resp("1", "guid")},
				statusResults: []map[string]string{resp("0", "Fail - Unable to verify")},
			},
			contains: "Unable to verify",
		},
		{
			name: "never leaves pending",
			explorer: &fakeExplorer{
				submitResults: []map[string]string{resp("1", "guid")},
				statusResults: []map[string]string{resp("0", "Pending in queue")},
			},
			contains: "still pending",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newVerifier(t, tt.explorer)
			err := v.Verify(context.Background(), request(t))

			var failure *verify.VerificationFailure
			require.ErrorAs(t, err, &failure)
			require.Equal(t, "Shop", failure.Name)
			require.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestEtherscan_MissingBuildInfo(t *testing.T) {
	v := verify.NewEtherscan("secret")
	req := request(t)
	req.Artifact.BuildInfo = nil

	err := v.Verify(context.Background(), req)
	require.ErrorIs(t, err, verify.ErrMissingBuildInfo)
}

func TestEtherscan_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	v := verify.NewEtherscan("secret", verify.WithAPIURL(srv.URL))

	err := v.Verify(context.Background(), request(t))
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestEtherscan_ContextCancelled(t *testing.T) {
	f := &fakeExplorer{
		submitResults: []map[string]string{resp("1", "guid")},
		statusResults: []map[string]string{resp("0", "Pending in queue")},
	}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()
	v := verify.NewEtherscan("secret", verify.WithAPIURL(srv.URL), verify.WithPolling(time.Hour, 5))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := v.Verify(ctx, request(t))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNoopAndFunc(t *testing.T) {
	require.NoError(t, verify.Noop{}.Verify(context.Background(), verify.Request{}))

	boom := errors.New("boom")
	var called verify.Request
	fn := verify.Func(func(_ context.Context, req verify.Request) error {
		called = req
		return boom
	})
	require.ErrorIs(t, fn.Verify(context.Background(), verify.Request{Name: "TimeLock"}), boom)
	require.Equal(t, "TimeLock", called.Name)
}
