package decoder

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const dataRegistryABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "dataId", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "owner", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "dataHash", "type": "string"},
      {"indexed": false, "internalType": "string", "name": "metadataURI", "type": "string"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "DataRegistered",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "dataId", "type": "bytes32"},
      {"indexed": false, "internalType": "string", "name": "newDataHash", "type": "string"},
      {"indexed": false, "internalType": "uint32", "name": "version", "type": "uint32"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "DataUpdated",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "dataId", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "grantee", "type": "address"},
      {"indexed": false, "internalType": "uint64", "name": "expiresAt", "type": "uint64"}
    ],
    "name": "AccessGranted",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "bytes32", "name": "dataId", "type": "bytes32"},
      {"indexed": true, "internalType": "address", "name": "grantee", "type": "address"}
    ],
    "name": "AccessRevoked",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "patient", "type": "address"},
      {"indexed": true, "internalType": "bytes32", "name": "consentId", "type": "bytes32"},
      {
        "indexed": false,
        "internalType": "struct DataRegistry.ConsentScope[]",
        "name": "scopes",
        "type": "tuple[]",
        "components": [
          {"internalType": "string", "name": "purpose", "type": "string"},
          {"internalType": "address", "name": "recipient", "type": "address"},
          {"internalType": "uint64", "name": "expiresAt", "type": "uint64"},
          {"internalType": "bool", "name": "granted", "type": "bool"}
        ]
      }
    ],
    "name": "ConsentRecorded",
    "type": "event"
  }
]`

var (
	dataRegistryABI     abi.ABI
	dataRegistryABIOnce sync.Once
	dataRegistryABIErr  error
)

// DataRegistryABI returns the parsed data registry event ABI.
func DataRegistryABI() (abi.ABI, error) {
	dataRegistryABIOnce.Do(func() {
		dataRegistryABI, dataRegistryABIErr = abi.JSON(strings.NewReader(dataRegistryABIJSON))
	})
	return dataRegistryABI, dataRegistryABIErr
}

// NewDataRegistryDecoder builds the data registry decoder variant.
func NewDataRegistryDecoder(cfg Config) (Decoder, error) {
	parsed, err := DataRegistryABI()
	if err != nil {
		return nil, err
	}
	return NewABIDecoder(SourceDataRegistry, parsed, cfg)
}
