package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/holiman/uint256"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"

	"github.com/megamcloud/starcoin/chain"
	"github.com/megamcloud/starcoin/config"
	"github.com/megamcloud/starcoin/consensus"
	"github.com/megamcloud/starcoin/db"
	"github.com/megamcloud/starcoin/events"
	"github.com/megamcloud/starcoin/executor"
	"github.com/megamcloud/starcoin/logx"
	"github.com/megamcloud/starcoin/network"
	"github.com/megamcloud/starcoin/store"
	"github.com/megamcloud/starcoin/sync"
	"github.com/megamcloud/starcoin/types"
)

const (
	defaultDataDir = "chaindata"
	configPath     = "config/config.ini"
)

var (
	nodeName string
	mine     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the chain node",
	Run: func(cmd *cobra.Command, args []string) {
		runNode(nodeName, mine)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&nodeName, "node", "n", "node1", "The node to run")
	runCmd.Flags().BoolVar(&mine, "mine", true, "Produce blocks in dev mode")
}

func runNode(currentNode string, mine bool) {
	currentDir, err := os.Getwd()
	if err != nil {
		log.Fatalf("Failed to get current directory: %v", err)
	}

	genesisCfg, err := config.LoadGenesisConfig(fmt.Sprintf("config/genesis.%s.yml", currentNode))
	if err != nil {
		log.Fatalf("Failed to load genesis config: %v", err)
	}
	minerCfg, err := config.LoadMinerConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load miner config: %v", err)
	}
	storageCfg, err := config.LoadStorageConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load storage config: %v", err)
	}
	syncCfg, err := config.LoadSyncConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load sync config: %v", err)
	}
	if syncCfg.RequestTimeoutMs > 0 {
		network.RequestTimeout = time.Duration(syncCfg.RequestTimeoutMs) * time.Millisecond
	}

	dataDir := storageCfg.Path
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	absDataDir := filepath.Join(currentDir, dataDir, currentNode)
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory %s: %v", absDataDir, err)
	}

	provider, err := db.NewLevelDBProvider(absDataDir)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	storage, err := store.NewStorage(provider)
	if err != nil {
		log.Fatalf("Failed to open chain store: %v", err)
	}
	defer storage.Close()

	alloc := genesisAllocation(genesisCfg)
	exec := executor.NewTransferExecutor()
	cons := consensus.NewDummyConsensus(minerCfg.DevPeriod)
	service, err := chain.NewChainService(storage, exec, cons, alloc)
	if err != nil {
		log.Fatalf("Failed to start chain service: %v", err)
	}

	selfPeerID := peer.ID(currentNode)
	net := network.NewLocalNetwork(selfPeerID)
	net.AddPeer(types.NewPeerInfo(selfPeerID, service.CurrentHeader()), network.NewStorageHandler(storage))

	go advertiseHead(selfPeerID, service, net)
	startStateSync(selfPeerID, service, storage, net)

	stop := make(chan struct{})
	if mine {
		author := minerAuthor(minerCfg)
		go mineLoop(service, cons, author, stop)
	}

	logx.Info("NODE", fmt.Sprintf("node %s started, head %s", currentNode, service.CurrentHeader().ID().ShortString()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	close(stop)
	logx.Info("NODE", "shutting down")
}

// genesisAllocation funds the configured accounts, falling back to the dev
// accounts when the genesis file names none.
func genesisAllocation(cfg *config.GenesisConfig) []chain.GenesisAllocation {
	accounts := cfg.Accounts
	if len(accounts) == 0 {
		accounts = config.DevAccounts
	}
	var alloc []chain.GenesisAllocation
	for _, account := range accounts {
		addr, err := types.AddressFromHexLiteral(account.Address)
		if err != nil {
			log.Fatalf("Invalid genesis account address %q: %v", account.Address, err)
		}
		alloc = append(alloc, chain.GenesisAllocation{
			Address: addr,
			Balance: uint256.NewInt(account.Balance),
		})
	}
	return alloc
}

func minerAuthor(cfg *config.MinerConfig) types.AccountAddress {
	if cfg.Author == "" {
		return types.DefaultAddress
	}
	addr, err := types.AddressFromHexLiteral(cfg.Author)
	if err != nil {
		log.Fatalf("Invalid miner author address %q: %v", cfg.Author, err)
	}
	return addr
}

// advertiseHead refreshes our advertised chain position whenever fork
// choice moves the head.
func advertiseHead(selfPeerID peer.ID, service *chain.ChainService, net *network.LocalNetwork) {
	_, ch := service.Events().Subscribe()
	for event := range ch {
		if head, ok := event.(events.NewHeadEvent); ok {
			net.UpdatePeerInfo(types.NewPeerInfo(selfPeerID, head.Header))
		}
	}
}

// startStateSync launches a sync run toward the best peer's tip when
// someone is ahead of us.
func startStateSync(selfPeerID peer.ID, service *chain.ChainService, storage *store.Storage, net network.NetworkService) {
	best, err := net.BestPeer()
	if err != nil || best.PeerID == selfPeerID || best.LatestHeader == nil {
		return
	}
	head := service.CurrentHeader()
	if !best.TotalDifficulty.Gt(head.TotalDifficulty) {
		return
	}
	target := best.LatestHeader
	task := sync.Launch(selfPeerID, target.StateRoot, target.AccumulatorRoot, storage, net)
	go func() {
		<-task.Done()
		logx.Info("NODE", "state sync caught up to "+target.ID().ShortString())
	}()
}

// mineLoop produces dev blocks: assemble a template on the head, solve the
// dummy seal, connect.
func mineLoop(service *chain.ChainService, cons consensus.Consensus, author types.AccountAddress, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		template, err := service.CreateBlockTemplate(author, nil)
		if err != nil {
			logx.Error("MINER", "template creation failed: "+err.Error())
			time.Sleep(time.Second)
			continue
		}
		headerHash := template.IntoHeader(nil).ID()
		seal := cons.SolveConsensusHeader(headerHash.Bytes(), template.Difficulty)
		block := template.IntoBlock(seal)
		if err := service.TryConnect(block); err != nil {
			logx.Error("MINER", "mined block rejected: "+err.Error())
			time.Sleep(time.Second)
		}
	}
}
