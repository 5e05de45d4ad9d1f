package decoder

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Event fragments of the two contracts the indexer consumes. The schemas
// are fixed and given; the indexer never deploys or calls mutating methods.
const shareTokenABI = `[
	{"type":"event","name":"PropertyCreated","inputs":[
		{"name":"propertyId","type":"uint256","indexed":true},
		{"name":"name","type":"string","indexed":false},
		{"name":"location","type":"string","indexed":false},
		{"name":"totalShares","type":"uint256","indexed":false},
		{"name":"pricePerShare","type":"uint256","indexed":false}]},
	{"type":"event","name":"TransferSingle","inputs":[
		{"name":"operator","type":"address","indexed":true},
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"id","type":"uint256","indexed":false},
		{"name":"value","type":"uint256","indexed":false}]},
	{"type":"event","name":"TransferBatch","inputs":[
		{"name":"operator","type":"address","indexed":true},
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"ids","type":"uint256[]","indexed":false},
		{"name":"values","type":"uint256[]","indexed":false}]},
	{"type":"event","name":"RentDeposited","inputs":[
		{"name":"propertyId","type":"uint256","indexed":true},
		{"name":"grossAmount","type":"uint256","indexed":false},
		{"name":"feeAmount","type":"uint256","indexed":false},
		{"name":"netAmount","type":"uint256","indexed":false}]},
	{"type":"event","name":"RewardClaimed","inputs":[
		{"name":"propertyId","type":"uint256","indexed":true},
		{"name":"holder","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
		{"name":"account","type":"address"},
		{"name":"id","type":"uint256"}],
		"outputs":[{"name":"","type":"uint256"}]}
]`

const marketplaceABI = `[
	{"type":"event","name":"ListingCreated","inputs":[
		{"name":"listingId","type":"uint256","indexed":true},
		{"name":"propertyId","type":"uint256","indexed":true},
		{"name":"seller","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"pricePerShare","type":"uint256","indexed":false}]},
	{"type":"event","name":"ListingCancelled","inputs":[
		{"name":"listingId","type":"uint256","indexed":true}]},
	{"type":"event","name":"ListingPurchased","inputs":[
		{"name":"listingId","type":"uint256","indexed":true},
		{"name":"buyer","type":"address","indexed":true}]}
]`

// ShareTokenABI returns the parsed share token contract ABI.
func ShareTokenABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(shareTokenABI))
}

// MarketplaceABI returns the parsed marketplace contract ABI.
func MarketplaceABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(marketplaceABI))
}
