package contracts

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abi/*.json
var abiFiles embed.FS

var (
	// ERC20ABI covers approve, allowance, balanceOf, decimals and symbol.
	ERC20ABI = mustParse("erc20.json")
	// Permit2ABI covers the registry views used before signing.
	Permit2ABI = mustParse("permit2.json")
	// AppABI is the default Permit2App interface.
	AppABI = mustParse("permit2app.json")
)

// AppMethods are the entry points an app ABI must expose.
var AppMethods = []string{
	"allowanceTransferWithPermit",
	"allowanceTransferWithoutPermit",
	"signatureTransfer",
	"signatureTransferWithWitness",
}

var ErrMissingMethod = errors.New("abi is missing a required method")

func mustParse(name string) abi.ABI {
	raw, err := abiFiles.ReadFile(path.Join("abi", name))
	if err != nil {
		panic(fmt.Sprintf("read embedded abi %s: %v", name, err))
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse embedded abi %s: %v", name, err))
	}
	return parsed
}

// LoadArtifact reads an app ABI from disk. Both a bare ABI array and a
// compiler artifact with a top-level "abi" field are accepted.
func LoadArtifact(file string) (abi.ABI, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read artifact: %w", err)
	}
	return ParseArtifact(raw)
}

// ParseArtifact is LoadArtifact for bytes already in memory.
func ParseArtifact(raw []byte) (abi.ABI, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return abi.ABI{}, fmt.Errorf("decode artifact: %w", err)
		}
		if len(artifact.ABI) == 0 {
			return abi.ABI{}, fmt.Errorf("artifact has no abi field")
		}
		raw = artifact.ABI
	}

	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	for _, name := range AppMethods {
		if _, ok := parsed.Methods[name]; !ok {
			return abi.ABI{}, fmt.Errorf("%w: %s", ErrMissingMethod, name)
		}
	}
	return parsed, nil
}
