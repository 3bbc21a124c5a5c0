package config

// NodeConfig represents a node's configuration
type NodeConfig struct {
	PrivKeyPath string `yaml:"privkey_path"`
	DataDir     string `yaml:"data_dir"`
	Libp2pAddr  string `yaml:"libp2p_addr"`
	RPCAddr     string `yaml:"rpc_addr"`
}

// GenesisAccount is an account pre-funded in block zero
type GenesisAccount struct {
	Address string `yaml:"address"`
	Balance uint64 `yaml:"balance"`
}

// GenesisConfig holds the configuration from genesis.yml
type GenesisConfig struct {
	SelfNode  NodeConfig       `yaml:"self_node"`
	PeerNodes []NodeConfig     `yaml:"peer_nodes"`
	Accounts  []GenesisAccount `yaml:"accounts"`
}

// ConfigFile is the top-level structure for genesis.yml
type ConfigFile struct {
	Config GenesisConfig `yaml:"config"`
}
