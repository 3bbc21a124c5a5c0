package consensus

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/holiman/uint256"

	"github.com/megamcloud/starcoin/logx"
	"github.com/megamcloud/starcoin/types"
)

// ChainReader is the view of the chain a consensus engine may inspect when
// computing difficulty or verifying a header.
type ChainReader interface {
	CurrentHeader() *types.BlockHeader
	GetHeaderByHash(hash types.HashValue) (*types.BlockHeader, error)
}

// Consensus seals and verifies blocks. The consensus header is an opaque
// byte payload carried inside the block header; its meaning belongs to the
// engine that produced it.
type Consensus interface {
	// CalculateNextDifficulty picks the difficulty target for the next block
	// on top of the reader's current head.
	CalculateNextDifficulty(reader ChainReader) (*uint256.Int, error)
	// SolveConsensusHeader produces the seal for a header hash at the given
	// difficulty. Blocks until solved.
	SolveConsensusHeader(headerHash []byte, difficulty *uint256.Int) []byte
	// VerifyHeader checks a header's seal against its parent chain.
	VerifyHeader(reader ChainReader, header *types.BlockHeader) error
}

// DummyConsensus is the dev engine: difficulty doubles as a random solve
// delay in milliseconds, the seal is empty and every header verifies.
type DummyConsensus struct {
	// devPeriodSeconds caps the random block interval; zero means the
	// default one second cap.
	devPeriodSeconds uint64
	rng              *rand.Rand
}

func NewDummyConsensus(devPeriodSeconds uint64) *DummyConsensus {
	return &DummyConsensus{
		devPeriodSeconds: devPeriodSeconds,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *DummyConsensus) CalculateNextDifficulty(_ ChainReader) (*uint256.Int, error) {
	high := uint64(1000)
	if c.devPeriodSeconds > 0 {
		high = c.devPeriodSeconds * 1000
	}
	delay := uint64(c.rng.Int63n(int64(high-1))) + 1
	return uint256.NewInt(delay), nil
}

func (c *DummyConsensus) SolveConsensusHeader(_ []byte, difficulty *uint256.Int) []byte {
	delay := difficulty.Uint64()
	logx.Debug("CONSENSUS", fmt.Sprintf("dummy solve sleeping %dms", delay))
	time.Sleep(time.Duration(delay) * time.Millisecond)
	return []byte{}
}

func (c *DummyConsensus) VerifyHeader(_ ChainReader, _ *types.BlockHeader) error {
	return nil
}
