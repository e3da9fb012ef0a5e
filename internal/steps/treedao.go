// Package steps declares the TreeDAO deployment graph: the governance
// token, time-lock and governor, the handover of the time-lock to the
// governor, and the staking, shop and NFT contracts.
package steps

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zjrosen/arbor/internal/chain"
	"github.com/zjrosen/arbor/internal/deploy"
	"github.com/zjrosen/arbor/internal/handover"
	"github.com/zjrosen/arbor/internal/log"
	"github.com/zjrosen/arbor/internal/pubsub"
	"github.com/zjrosen/arbor/internal/registry"
)

// Step and artifact names.
const (
	TreeToken        = "TreeToken"
	TimeLock         = "TimeLock"
	GovernorContract = "GovernorContract"
	Setup            = "setup"
	StakingTree      = "StakingTree"
	Shop             = "Shop"
	TreeNFT          = "TreeNFT"
)

// Tags.
const (
	TagAll      = "all"
	TagGovernor = "governor"
	TagTimeLock = "timelock"
	TagSetup    = "setup"
	TagStaking  = "staking"
	TagShop     = "shop"
	TagNFT      = "nft"
)

type options struct {
	roles    handover.Roles
	executor common.Address
}

// Option configures the TreeDAO graph.
type Option func(*options)

// WithHandoverRoles overrides the time-lock role getter names.
func WithHandoverRoles(roles handover.Roles) Option {
	return func(o *options) { o.roles = roles }
}

// WithExecutor sets the account allowed to execute queued proposals.
// Defaults to the zero address, which opens execution to anyone.
func WithExecutor(addr common.Address) Option {
	return func(o *options) { o.executor = addr }
}

// TreeDAO builds the deployment graph.
func TreeDAO(opts ...Option) (*deploy.Graph, error) {
	o := options{roles: handover.DefaultRoles}
	for _, opt := range opts {
		opt(&o)
	}

	return deploy.NewGraph().
		Step(TreeToken,
			deploy.Tags(TagAll, TagGovernor),
			deploy.Deploys(deployTreeToken),
			deploy.Ensures(delegateToDeployer),
		).
		Step(TimeLock,
			deploy.Tags(TagAll, TagTimeLock),
			deploy.Deploys(deployTimeLock),
		).
		Step(GovernorContract,
			deploy.Tags(TagAll, TagGovernor),
			deploy.DependsOn(TreeToken, TimeLock),
			deploy.Deploys(deployGovernor),
		).
		Step(Setup,
			deploy.Tags(TagAll, TagSetup),
			deploy.DependsOn(TimeLock, GovernorContract),
			deploy.Performs(handOver(o)),
		).
		Step(StakingTree,
			deploy.Tags(TagAll, TagStaking),
			deploy.DependsOn(TreeToken),
			deploy.Deploys(deployStakingTree),
		).
		Step(Shop,
			deploy.Tags(TagAll, TagShop),
			deploy.DependsOn(TreeToken),
			deploy.Deploys(deployShop),
		).
		Step(TreeNFT,
			deploy.Tags(TagAll, TagNFT),
			deploy.Deploys(deployTreeNFT),
		).
		Build()
}

func deployTreeToken(_ context.Context, _ *deploy.Env, _ deploy.Dependencies) (*deploy.Deployment, error) {
	return &deploy.Deployment{Artifact: TreeToken}, nil
}

// delegateToDeployer gives the deployer its own voting power. ERC20Votes
// tokens count no votes until they are delegated.
func delegateToDeployer(ctx context.Context, env *deploy.Env, rec *registry.Record) error {
	artifact, err := env.Artifacts.Load(TreeToken)
	if err != nil {
		return err
	}
	token := chain.NewToken(env.Client, rec.Address, artifact.ABI, env.Policy.Confirmations)
	deployer := env.Client.Deployer()

	current, err := token.Delegates(ctx, deployer)
	if err != nil {
		return fmt.Errorf("reading delegate: %w", err)
	}
	if current == deployer {
		return nil
	}
	receipt, err := token.Delegate(ctx, deployer)
	if err != nil {
		return fmt.Errorf("delegating votes: %w", err)
	}
	log.Info(log.CatOrch, "Delegated votes", "token", rec.Address.Hex(), "delegatee", deployer.Hex(), "tx", receipt.TxHash.Hex())
	return nil
}

func deployTimeLock(_ context.Context, env *deploy.Env, _ deploy.Dependencies) (*deploy.Deployment, error) {
	return &deploy.Deployment{
		Artifact: TimeLock,
		Args: []any{
			new(big.Int).SetUint64(env.Policy.Governance.MinDelay),
			[]common.Address{},
			[]common.Address{},
			env.Client.Deployer(),
		},
	}, nil
}

func deployGovernor(_ context.Context, env *deploy.Env, deps deploy.Dependencies) (*deploy.Deployment, error) {
	gov := env.Policy.Governance
	return &deploy.Deployment{
		Artifact: GovernorContract,
		Args: []any{
			deps.Address(TreeToken),
			deps.Address(TimeLock),
			new(big.Int).SetUint64(gov.QuorumPercentage),
			new(big.Int).SetUint64(gov.VotingPeriod),
			new(big.Int).SetUint64(gov.VotingDelay),
		},
		GasLimit: env.Policy.GasLimit,
	}, nil
}

func handOver(o options) deploy.ActionFunc {
	return func(ctx context.Context, env *deploy.Env, deps deploy.Dependencies) error {
		artifact, err := env.Artifacts.Load(TimeLock)
		if err != nil {
			return err
		}
		timelock := chain.NewAccessControl(env.Client, deps.Address(TimeLock), artifact.ABI, env.Policy.Confirmations)
		seq := handover.NewSequencer(timelock, deps.Address(GovernorContract), env.Client.Deployer(),
			handover.WithRoles(o.roles),
			handover.WithExecutor(o.executor),
			handover.WithTracer(env.Tracer),
			handover.OnTransition(func(t handover.Transition) {
				msg := fmt.Sprintf("%s -> %s", t.From, t.To)
				if t.Satisfied {
					msg += " (already in place)"
				}
				env.Emit(pubsub.HandoverTransitioned, msg)
			}),
		)
		state, err := seq.Run(ctx)
		if err != nil {
			return err
		}
		log.Info(log.CatHandover, "Time-lock handed over", "timelock", timelock.Address().Hex(), "state", state.String())
		return nil
	}
}

func deployStakingTree(_ context.Context, _ *deploy.Env, deps deploy.Dependencies) (*deploy.Deployment, error) {
	return &deploy.Deployment{Artifact: StakingTree, Args: []any{deps.Address(TreeToken)}}, nil
}

// deployShop wires the price feed configured for the network. Networks
// without one get the zero address.
func deployShop(_ context.Context, env *deploy.Env, deps deploy.Dependencies) (*deploy.Deployment, error) {
	return &deploy.Deployment{Artifact: Shop, Args: []any{deps.Address(TreeToken), env.Policy.PriceFeed}}, nil
}

func deployTreeNFT(_ context.Context, _ *deploy.Env, _ deploy.Dependencies) (*deploy.Deployment, error) {
	return &deploy.Deployment{Artifact: TreeNFT}, nil
}
