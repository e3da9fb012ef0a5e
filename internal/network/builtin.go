package network

// Chain identifiers of the built-in networks.
const (
	ChainIDHardhat = 31337
	ChainIDSepolia = 11155111
	ChainIDMainnet = 1
)

// Confirmation depths. Public networks wait for the explorer-safe depth
// before a record is written.
const (
	DevelopmentConfirmations = 1
	PublicConfirmations      = 6
)

// DefaultGovernance holds the governor values used unless a network
// overrides them: 1 hour time-lock delay, 4% quorum, 5 block voting
// period, 1 block voting delay.
var DefaultGovernance = GovernanceParams{
	MinDelay:         3600,
	QuorumPercentage: 4,
	VotingPeriod:     5,
	VotingDelay:      1,
}

const defaultGasLane = "0x474e34a077df58807dbe9c96d3c009b23b3c6d0cce433e59bbf5b34f823bc56c"

// DefaultPolicy is the in-process simulation network used when arbor runs
// without a concrete network (dry-run).
func DefaultPolicy() Policy {
	return Policy{
		Name:                  "hardhat",
		ChainID:               ChainIDHardhat,
		Development:           true,
		Confirmations:         DevelopmentConfirmations,
		GasLimit:              500_000_000,
		Governance:            DefaultGovernance,
		KeepersUpdateInterval: 30,
	}
}

// Builtin returns the built-in network table.
func Builtin() []Policy {
	return []Policy{
		{
			Name:                  "localhost",
			ChainID:               ChainIDHardhat,
			Development:           true,
			Confirmations:         DevelopmentConfirmations,
			GasLimit:              500_000_000,
			RPCURL:                "http://127.0.0.1:8545",
			Governance:            DefaultGovernance,
			KeepersUpdateInterval: 30,
			SubscriptionID:        "588",
			GasLane:               defaultGasLane,
		},
		{
			Name:                  "sepolia",
			ChainID:               ChainIDSepolia,
			Confirmations:         PublicConfirmations,
			GasLimit:              500_000,
			Governance:            DefaultGovernance,
			KeepersUpdateInterval: 604800,
			SubscriptionID:        "51572676631606313810434601680697152095356924584252780340603629995332314120314",
			GasLane:               defaultGasLane,
			VRFCoordinator:        hexAddress("0x9ddfaca8183c41ad55329bdeed9f6a8d53168b1b"),
		},
		{
			Name:                  "mainnet",
			ChainID:               ChainIDMainnet,
			Confirmations:         PublicConfirmations,
			Governance:            DefaultGovernance,
			KeepersUpdateInterval: 30,
		},
	}
}
