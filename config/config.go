package config

import (
	"encoding/hex"
	"os"

	"bftcore/crypto"

	"github.com/BurntSushi/toml"
)

// Config holds the on-disk node configuration for a bftcored instance.
type Config struct {
	ListenAddress  string   `toml:"ListenAddress"`
	RPCAddress     string   `toml:"RPCAddress"`
	DataDir        string   `toml:"DataDir"`
	ValidatorKey   string   `toml:"ValidatorKey"`
	BootstrapPeers []string `toml:"BootstrapPeers"`

	// WALPath is the directory the engine's write-ahead log is stored
	// under. Defaults to DataDir/wal when empty.
	WALPath string `toml:"WALPath"`
	// TotalDurationMS is the total round interval apportioned across the
	// propose/prevote/precommit steps.
	TotalDurationMS uint64 `toml:"TotalDurationMS"`
	// VerifyReq enables the verify_req feature: the engine defers
	// precommit on a lock until the host's asynchronous CheckTxs result
	// is known.
	VerifyReq bool `toml:"VerifyReq"`

	// ValidatorKeystorePath, when set, loads the validator key from an
	// Ethereum v3 keystore file instead of the inline hex ValidatorKey.
	ValidatorKeystorePath string `toml:"ValidatorKeystorePath"`
	// ValidatorPassEnv names the environment variable carrying the
	// keystore passphrase. When empty, BFTCORE_VALIDATOR_PASS is used; the
	// operator is prompted only when the named variable is not set.
	ValidatorPassEnv string `toml:"ValidatorPassEnv"`

	// Genesis seeds the authority set effective at height 1. Ignored once
	// a validator set has already been persisted to the consensus store.
	Genesis []GenesisValidator `toml:"Genesis"`
}

// GenesisValidator is one entry of the genesis authority table. The node
// seeds each validator's single stored power from VoteWeight, and that power
// serves as both weights; ProposalWeight is read but not used.
type GenesisValidator struct {
	Address        string `toml:"Address"`
	ProposalWeight uint64 `toml:"ProposalWeight"`
	VoteWeight     uint64 `toml:"VoteWeight"`
}

const defaultTotalDurationMS = 3000

// Load loads the configuration from the given path, creating a default one
// if it does not yet exist, and persisting a freshly generated validator key
// if one is missing.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if cfg.TotalDurationMS == 0 {
		cfg.TotalDurationMS = defaultTotalDurationMS
	}

	if cfg.ValidatorKey == "" {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		cfg.ValidatorKey = hex.EncodeToString(key.Bytes())

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, os.ModePerm)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		if err := toml.NewEncoder(f).Encode(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:   ":6001",
		RPCAddress:      ":8080",
		DataDir:         "./bftcore-data",
		ValidatorKey:    hex.EncodeToString(key.Bytes()),
		BootstrapPeers:  []string{},
		WALPath:         "",
		TotalDurationMS: defaultTotalDurationMS,
		VerifyReq:       false,
		Genesis: []GenesisValidator{
			{
				Address:        key.PubKey().Address().String(),
				ProposalWeight: 1,
				VoteWeight:     1,
			},
		},
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
