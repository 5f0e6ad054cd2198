package ethereum

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Artifact is the subset of a Hardhat compilation artifact needed to deploy
// and drive the Escrow contract.
type Artifact struct {
	ContractName string
	ABI          abi.ABI
	Bytecode     []byte
}

type hardhatArtifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     string          `json:"bytecode"`
}

var (
	requiredMethods = []string{"approve", "arbiter", "isApproved"}
	requiredEvents  = []string{"Approved"}
)

func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", path, err)
	}
	return ParseArtifact(data)
}

func ParseArtifact(data []byte) (*Artifact, error) {
	var raw hardhatArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse artifact: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(string(raw.ABI)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse contract abi: %w", err)
	}
	for _, m := range requiredMethods {
		if _, ok := parsed.Methods[m]; !ok {
			return nil, fmt.Errorf("artifact abi is missing method %s", m)
		}
	}
	for _, e := range requiredEvents {
		if _, ok := parsed.Events[e]; !ok {
			return nil, fmt.Errorf("artifact abi is missing event %s", e)
		}
	}

	bytecode := common.FromHex(raw.Bytecode)
	if len(bytecode) == 0 {
		return nil, fmt.Errorf("artifact has no bytecode")
	}

	return &Artifact{ContractName: raw.ContractName, ABI: parsed, Bytecode: bytecode}, nil
}
