// Package artifacts loads compiled contract artifacts (ABI and creation
// bytecode) and encodes constructor arguments against them.
package artifacts

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Artifact is a compiled contract ready to deploy.
type Artifact struct {
	Name       string
	SourceName string
	ABI        abi.ABI
	Bytecode   []byte

	// BuildInfo is the compiler input used for explorer verification.
	// Nil when the build-info file is not available.
	BuildInfo *BuildInfo
}

// BuildInfo is the subset of a hardhat build-info file needed to publish
// source code.
type BuildInfo struct {
	SolcLongVersion string          `json:"solcLongVersion"`
	Input           json.RawMessage `json:"input"`
}

// FullyQualifiedName returns "path/To.sol:Name", the form explorers expect.
func (a *Artifact) FullyQualifiedName() string {
	if a.SourceName == "" {
		return a.Name
	}
	return a.SourceName + ":" + a.Name
}

// Source provides artifacts by contract name.
type Source interface {
	Load(name string) (*Artifact, error)
}

// NotFoundError is returned when a source has no artifact for a name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact %q not found", e.Name)
}

// hardhatArtifact mirrors the JSON written by the hardhat compiler task.
type hardhatArtifact struct {
	ContractName string          `json:"contractName"`
	SourceName   string          `json:"sourceName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

// Parse decodes a hardhat artifact document.
func Parse(data []byte) (*Artifact, error) {
	var raw hardhatArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding artifact: %w", err)
	}
	if raw.ContractName == "" {
		return nil, fmt.Errorf("artifact has no contractName")
	}
	return New(raw.ContractName, raw.SourceName, string(raw.ABI), raw.Bytecode)
}

// New builds an artifact from an ABI JSON document and hex bytecode.
func New(name, sourceName, abiJSON, bytecodeHex string) (*Artifact, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parsing abi for %s: %w", name, err)
	}
	if !strings.HasPrefix(bytecodeHex, "0x") {
		bytecodeHex = "0x" + bytecodeHex
	}
	code, err := hexutil.Decode(bytecodeHex)
	if err != nil {
		return nil, fmt.Errorf("decoding bytecode for %s: %w", name, err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("artifact %s has empty bytecode (abstract contract or interface)", name)
	}
	return &Artifact{
		Name:       name,
		SourceName: sourceName,
		ABI:        parsed,
		Bytecode:   code,
	}, nil
}

// ConstructorArgsError reports a constructor argument list that does not
// match the artifact's constructor. Arguments are never coerced.
type ConstructorArgsError struct {
	Artifact string
	Want     int
	Got      int
	Err      error
}

func (e *ConstructorArgsError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("constructor arguments for %s: %v", e.Artifact, e.Err)
	}
	return fmt.Sprintf("constructor arguments for %s: want %d, got %d", e.Artifact, e.Want, e.Got)
}

func (e *ConstructorArgsError) Unwrap() error { return e.Err }

// EncodeConstructorArgs ABI-encodes args against the artifact constructor,
// in declaration order.
func EncodeConstructorArgs(a *Artifact, args ...any) ([]byte, error) {
	want := len(a.ABI.Constructor.Inputs)
	if want != len(args) {
		return nil, &ConstructorArgsError{Artifact: a.Name, Want: want, Got: len(args)}
	}
	if want == 0 {
		return []byte{}, nil
	}
	encoded, err := a.ABI.Pack("", args...)
	if err != nil {
		return nil, &ConstructorArgsError{Artifact: a.Name, Want: want, Got: len(args), Err: err}
	}
	return encoded, nil
}

// FormatArgs renders constructor arguments as the ordered strings stored
// in deployment records.
func FormatArgs(args []any) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = formatArg(arg)
	}
	return out
}

func formatArg(arg any) string {
	switch v := arg.(type) {
	case common.Address:
		return v.Hex()
	case *big.Int:
		if v == nil {
			return "0"
		}
		return v.String()
	case [32]byte:
		return hexutil.Encode(v[:])
	case []byte:
		return hexutil.Encode(v)
	case []common.Address:
		parts := make([]string, len(v))
		for i, a := range v {
			parts[i] = a.Hex()
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprintf("%v", v)
	}
}
