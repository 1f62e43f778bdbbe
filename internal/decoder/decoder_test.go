package decoder

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"ledgerSync/internal/model"
)

func TestERC20DecoderTransfer(t *testing.T) {
	erc20, err := ERC20ABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewERC20Decoder(Config{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	token := common.HexToAddress("0x1111111111111111111111111111111111111111")
	from := common.HexToAddress("0x2222222222222222222222222222222222222222")
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")

	value, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	data, err := erc20.Events["Transfer"].Inputs.NonIndexed().Pack(value)
	if err != nil {
		t.Fatalf("pack transfer: %v", err)
	}

	log := buildRawLog(token, erc20.Events["Transfer"].ID, data, []common.Hash{
		topicFromAddress(from),
		topicFromAddress(to),
	})

	decoded, err := decoder.Decode(log)
	if err != nil {
		t.Fatalf("decode transfer: %v", err)
	}
	if decoded.Name != "Transfer" {
		t.Fatalf("name mismatch: %s", decoded.Name)
	}
	if decoded.Args["value"] != "123456789012345678901234567890" {
		t.Fatalf("value mismatch: %#v", decoded.Args["value"])
	}
	if decoded.Args["from"] != from.Hex() || decoded.Args["to"] != to.Hex() {
		t.Fatalf("address mismatch: %#v", decoded.Args)
	}
	if decoded.Signature != log.Topics[0] {
		t.Fatalf("signature mismatch: %s", decoded.Signature)
	}
}

func TestDataRegistryDecoderEvents(t *testing.T) {
	registryABI, err := DataRegistryABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDataRegistryDecoder(Config{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	contract := common.HexToAddress("0x4444444444444444444444444444444444444444")
	owner := common.HexToAddress("0x5555555555555555555555555555555555555555")
	dataID := common.HexToHash("0x01")

	registeredData, err := registryABI.Events["DataRegistered"].Inputs.NonIndexed().Pack(
		"sha256:abc", "ipfs://meta", big.NewInt(1700000000),
	)
	if err != nil {
		t.Fatalf("pack registered: %v", err)
	}
	registered, err := decoder.Decode(buildRawLog(contract, registryABI.Events["DataRegistered"].ID, registeredData, []common.Hash{
		dataID,
		topicFromAddress(owner),
	}))
	if err != nil {
		t.Fatalf("decode registered: %v", err)
	}
	if registered.Args["dataId"] != dataID.Hex() {
		t.Fatalf("data id mismatch: %#v", registered.Args["dataId"])
	}
	if registered.Args["owner"] != owner.Hex() || registered.Args["dataHash"] != "sha256:abc" {
		t.Fatalf("registered args mismatch: %#v", registered.Args)
	}
	if registered.Args["timestamp"] != "1700000000" {
		t.Fatalf("timestamp should be a decimal string: %#v", registered.Args["timestamp"])
	}

	updatedData, err := registryABI.Events["DataUpdated"].Inputs.NonIndexed().Pack(
		"sha256:def", uint32(2), big.NewInt(1700000100),
	)
	if err != nil {
		t.Fatalf("pack updated: %v", err)
	}
	updated, err := decoder.Decode(buildRawLog(contract, registryABI.Events["DataUpdated"].ID, updatedData, []common.Hash{dataID}))
	if err != nil {
		t.Fatalf("decode updated: %v", err)
	}
	if updated.Args["version"] != uint32(2) {
		t.Fatalf("small ints stay numeric: %#v", updated.Args["version"])
	}

	revoked, err := decoder.Decode(buildRawLog(contract, registryABI.Events["AccessRevoked"].ID, nil, []common.Hash{
		dataID,
		topicFromAddress(owner),
	}))
	if err != nil {
		t.Fatalf("decode revoked: %v", err)
	}
	if revoked.Name != "AccessRevoked" || revoked.Args["grantee"] != owner.Hex() {
		t.Fatalf("revoked mismatch: %+v", revoked)
	}
}

func TestDataRegistryDecoderTupleArray(t *testing.T) {
	registryABI, err := DataRegistryABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewDataRegistryDecoder(Config{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	type consentScope struct {
		Purpose   string
		Recipient common.Address
		ExpiresAt uint64
		Granted   bool
	}
	recipient := common.HexToAddress("0x6666666666666666666666666666666666666666")
	scopes := []consentScope{
		{Purpose: "research", Recipient: recipient, ExpiresAt: 1800000000, Granted: true},
		{Purpose: "billing", Recipient: recipient, ExpiresAt: 0, Granted: false},
	}
	data, err := registryABI.Events["ConsentRecorded"].Inputs.NonIndexed().Pack(scopes)
	if err != nil {
		t.Fatalf("pack consent: %v", err)
	}

	patient := common.HexToAddress("0x7777777777777777777777777777777777777777")
	decoded, err := decoder.Decode(buildRawLog(common.HexToAddress("0x01"), registryABI.Events["ConsentRecorded"].ID, data, []common.Hash{
		topicFromAddress(patient),
		common.HexToHash("0xff"),
	}))
	if err != nil {
		t.Fatalf("decode consent: %v", err)
	}

	list, ok := decoded.Args["scopes"].([]interface{})
	if !ok || len(list) != 2 {
		t.Fatalf("scopes should be a sequence of 2: %#v", decoded.Args["scopes"])
	}
	first, ok := list[0].(map[string]interface{})
	if !ok {
		t.Fatalf("scope should be a mapping: %#v", list[0])
	}
	if first["purpose"] != "research" || first["recipient"] != recipient.Hex() {
		t.Fatalf("scope fields mismatch: %#v", first)
	}
	if first["expiresAt"] != "1800000000" || first["granted"] != true {
		t.Fatalf("scope values mismatch: %#v", first)
	}
}

func TestDecoderUnknownTopic(t *testing.T) {
	decoder, err := NewERC20Decoder(Config{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	log := buildRawLog(common.HexToAddress("0x01"), common.HexToHash("0xbeef"), nil, nil)
	if decoder.CanDecode(log.Topics[0]) {
		t.Fatalf("unexpected support for unknown topic")
	}
	if _, err := decoder.Decode(log); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if _, err := decoder.Decode(model.RawLog{}); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent for missing topics, got %v", err)
	}
}

func TestDecoderTopicCountMismatch(t *testing.T) {
	erc20, err := ERC20ABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder, err := NewERC20Decoder(Config{})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	log := buildRawLog(common.HexToAddress("0x01"), erc20.Events["Transfer"].ID, nil, []common.Hash{
		topicFromAddress(common.HexToAddress("0x02")),
	})
	if _, err := decoder.Decode(log); err == nil {
		t.Fatalf("expected topic count error")
	}
}

func TestDecoderTopic0Alias(t *testing.T) {
	alias := "0x000000000000000000000000000000000000000000000000000000000000abcd"
	decoder, err := NewERC20Decoder(Config{Topic0Map: map[string]string{alias: "transfer"}})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	if !decoder.CanDecode(alias) {
		t.Fatalf("alias not registered")
	}

	erc20, _ := ERC20ABI()
	data, err := erc20.Events["Transfer"].Inputs.NonIndexed().Pack(big.NewInt(5))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	decoded, err := decoder.Decode(buildRawLog(common.HexToAddress("0x01"), common.HexToHash(alias), data, []common.Hash{
		topicFromAddress(common.HexToAddress("0x02")),
		topicFromAddress(common.HexToAddress("0x03")),
	}))
	if err != nil {
		t.Fatalf("decode alias: %v", err)
	}
	if decoded.Name != "Transfer" || decoded.Args["value"] != "5" {
		t.Fatalf("alias decode mismatch: %+v", decoded)
	}

	if _, err := NewERC20Decoder(Config{Topic0Map: map[string]string{alias: "Swap"}}); err == nil {
		t.Fatalf("expected error for unknown alias target")
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(Config{})
	first, err := registry.Get(SourceDataRegistry)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second, err := registry.Get(SourceDataRegistry)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first != second {
		t.Fatalf("decoder should be cached")
	}
	if first.SourceType() != SourceDataRegistry {
		t.Fatalf("source type mismatch: %s", first.SourceType())
	}
	if _, err := registry.Get(SourceType("nft")); !errors.Is(err, ErrUnknownSourceType) {
		t.Fatalf("expected ErrUnknownSourceType, got %v", err)
	}
	if got := registry.Types(); len(got) != 2 || got[0] != SourceDataRegistry || got[1] != SourceERC20 {
		t.Fatalf("types mismatch: %v", got)
	}
}

func TestParseSourceType(t *testing.T) {
	got, err := ParseSourceType(" Data-Registry ")
	if err != nil || got != SourceDataRegistry {
		t.Fatalf("parse mismatch: %v %v", got, err)
	}
	if _, err := ParseSourceType("bridge"); !errors.Is(err, ErrUnknownSourceType) {
		t.Fatalf("expected ErrUnknownSourceType, got %v", err)
	}
}

func buildRawLog(contract common.Address, topic0 common.Hash, data []byte, indexed []common.Hash) model.RawLog {
	topics := []string{topic0.Hex()}
	for _, topic := range indexed {
		topics = append(topics, topic.Hex())
	}
	return model.RawLog{
		Address:     contract.Hex(),
		BlockNumber: 100,
		BlockHash:   "0xblock",
		TxHash:      "0xtx",
		LogIndex:    1,
		Topics:      topics,
		Data:        hexutil.Encode(data),
	}
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}
