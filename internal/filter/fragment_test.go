package filter

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/chainindex/syncengine/pkg/models"
)

func TestCanonicalizeLogSplitsTopicArrayIntoFragments(t *testing.T) {
	a := common.HexToHash("0xaaaa")
	b := common.HexToHash("0xbbbb")
	f := &models.LogFilter{
		ChainID: 1,
		Topics:  [4]models.TopicSlot{models.NewTopicSlot(a, b)},
	}
	frags, err := Canonicalize(f)
	require.NoError(t, err)
	require.Len(t, frags, 2)
	require.NotEqual(t, frags[0].ID, frags[1].ID)
}

func TestScalarAndSingleElementArrayAreEquivalent(t *testing.T) {
	a := common.HexToHash("0xaaaa")
	scalar := &models.LogFilter{ChainID: 1, Topics: [4]models.TopicSlot{models.NewTopicSlot(a)}}
	array := &models.LogFilter{ChainID: 1, Topics: [4]models.TopicSlot{models.NewTopicSlot([]common.Hash{a}...)}}

	fragsScalar, err := Canonicalize(scalar)
	require.NoError(t, err)
	fragsArray, err := Canonicalize(array)
	require.NoError(t, err)
	require.Equal(t, fragsScalar[0].ID, fragsArray[0].ID)
}

func TestFactoryResolutionChildAddressLocation(t *testing.T) {
	loc, err := models.ParseChildAddressLocation("topic1")
	require.NoError(t, err)

	topic0 := common.HexToHash("0xabcd")
	child := common.HexToAddress("0x00000000000000000000000000000000deadbeef")
	topic1 := common.BytesToHash(child.Bytes())

	log := types.Log{
		Topics: []common.Hash{topic0, topic1},
	}
	got, ok := DecodeChildAddress(log, loc)
	require.True(t, ok)
	require.Equal(t, child, got)
}

func TestIsAddressFactory(t *testing.T) {
	factorySpec := models.AddressSpec{Factory: &models.Factory{}}
	require.True(t, IsAddressFactory(factorySpec))

	addr := common.HexToAddress("0x1")
	literalSpec := models.AddressSpec{Single: &addr}
	require.False(t, IsAddressFactory(literalSpec))
}

func TestCanonicalizeCallTraceFactoryToAddress(t *testing.T) {
	f := &models.CallTraceFilter{
		ChainID: 1,
		ToAddress: models.AddressSpec{
			Factory: &models.Factory{ChainID: 1, Address: common.HexToAddress("0x2")},
		},
	}
	frags, err := Canonicalize(f)
	require.NoError(t, err)
	require.Len(t, frags, 1)
	require.Equal(t, FragmentKindFactoryTrace, frags[0].Kind)
}
