package config

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// LoadGenesisConfig reads and parses the genesis.yml file
func LoadGenesisConfig(path string) (*GenesisConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var cfgFile ConfigFile
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfgFile); err != nil {
		return nil, err
	}
	return &cfgFile.Config, nil
}

// LoadEd25519PrivKey loads an Ed25519 private key from a file (expects hex encoding)
func LoadEd25519PrivKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(string(data))
	if err != nil {
		return nil, err
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key at %s has %d bytes, want %d", path, len(key), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(key), nil
}

type MinerConfig struct {
	// DevPeriod caps the random dev-mode block interval, in seconds;
	// zero means the one second default.
	DevPeriod uint64 `ini:"dev_period"`
	Author    string `ini:"author"`
}

type StorageConfig struct {
	Path string `ini:"path"`
}

type SyncConfig struct {
	RequestTimeoutMs int `ini:"request_timeout_ms"`
}

// LoadMinerConfig reads miner config from an .ini file
func LoadMinerConfig(path string) (*MinerConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	minerSection := cfg.Section("miner")
	minerCfg := &MinerConfig{}
	err = minerSection.MapTo(minerCfg)
	if err != nil {
		return nil, err
	}
	return minerCfg, nil
}

func LoadStorageConfig(path string) (*StorageConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	storageSection := cfg.Section("storage")
	storageCfg := &StorageConfig{}
	err = storageSection.MapTo(storageCfg)
	if err != nil {
		return nil, err
	}
	return storageCfg, nil
}

func LoadSyncConfig(path string) (*SyncConfig, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	syncSection := cfg.Section("sync")
	syncCfg := &SyncConfig{}
	err = syncSection.MapTo(syncCfg)
	if err != nil {
		return nil, err
	}
	return syncCfg, nil
}
