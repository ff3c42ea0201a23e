package historicalsync

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestAddressFilterOrWildcardKeepsSetWithinCap(t *testing.T) {
	addrs := make([]common.Address, AddressFilterLimit)
	for i := range addrs {
		addrs[i] = common.BigToAddress(int64ToBig(i + 1))
	}
	got := addressFilterOrWildcard(addrs)
	require.Equal(t, addrs, got)
}

func TestAddressFilterOrWildcardFallsBackAboveCap(t *testing.T) {
	addrs := make([]common.Address, AddressFilterLimit*2)
	for i := range addrs {
		addrs[i] = common.BigToAddress(int64ToBig(i + 1))
	}
	got := addressFilterOrWildcard(addrs)
	require.Nil(t, got, "above the cap eth_getLogs must omit the address argument")
}

func int64ToBig(n int) *big.Int { return big.NewInt(int64(n)) }
