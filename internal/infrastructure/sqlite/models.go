package sqlite

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zjrosen/arbor/internal/registry"
)

// DeploymentModel represents a row of the deployments table.
// Times are Unix timestamps.
type DeploymentModel struct {
	ID               int64
	Name             string
	Network          string
	ChainID          int64
	Address          string
	ConstructorArgs  string // JSON array
	EncodedArgs      []byte
	TxHash           string
	ConfirmedAtBlock int64
	RunID            *string // nullable
	DeployedAt       int64
}

func toDeploymentModel(r *registry.Record) *DeploymentModel {
	args := r.ConstructorArgs
	if args == nil {
		args = []string{}
	}
	argsJSON, _ := json.Marshal(args)
	m := &DeploymentModel{
		Name:             r.Name,
		Network:          r.Network,
		ChainID:          int64(r.ChainID),
		Address:          r.Address.Hex(),
		ConstructorArgs:  string(argsJSON),
		EncodedArgs:      r.EncodedArgs,
		TxHash:           r.TxHash.Hex(),
		ConfirmedAtBlock: int64(r.ConfirmedAtBlock),
		DeployedAt:       r.DeployedAt.Unix(),
	}
	if r.RunID != "" {
		runID := r.RunID
		m.RunID = &runID
	}
	return m
}

func (m *DeploymentModel) toDomain() *registry.Record {
	var args []string
	_ = json.Unmarshal([]byte(m.ConstructorArgs), &args)
	var runID string
	if m.RunID != nil {
		runID = *m.RunID
	}
	return &registry.Record{
		Name:             m.Name,
		Network:          m.Network,
		ChainID:          uint64(m.ChainID),
		Address:          common.HexToAddress(m.Address),
		ConstructorArgs:  args,
		EncodedArgs:      m.EncodedArgs,
		TxHash:           common.HexToHash(m.TxHash),
		ConfirmedAtBlock: uint64(m.ConfirmedAtBlock),
		RunID:            runID,
		DeployedAt:       time.Unix(m.DeployedAt, 0),
	}
}

// RunModel represents a row of the runs table.
type RunModel struct {
	ID            string
	Network       string
	ChainID       int64
	Tags          string // JSON array
	State         string
	LastCompleted *string // nullable
	Deployed      int
	Skipped       int
	Error         *string // nullable
	StartedAt     int64
	FinishedAt    *int64 // nullable
	UpdatedAt     int64
}

func toRunModel(r *registry.Run) *RunModel {
	tags := r.Tags()
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, _ := json.Marshal(tags)
	m := &RunModel{
		ID:        r.ID(),
		Network:   r.Network(),
		ChainID:   int64(r.ChainID()),
		Tags:      string(tagsJSON),
		State:     string(r.State()),
		Deployed:  r.Deployed(),
		Skipped:   r.Skipped(),
		StartedAt: r.StartedAt().Unix(),
		UpdatedAt: r.UpdatedAt().Unix(),
	}
	if r.LastCompleted() != "" {
		last := r.LastCompleted()
		m.LastCompleted = &last
	}
	if r.ErrorMessage() != "" {
		msg := r.ErrorMessage()
		m.Error = &msg
	}
	if r.FinishedAt() != nil {
		finishedAt := r.FinishedAt().Unix()
		m.FinishedAt = &finishedAt
	}
	return m
}

func (m *RunModel) toDomain() *registry.Run {
	var tags []string
	_ = json.Unmarshal([]byte(m.Tags), &tags)
	var last, errMsg string
	if m.LastCompleted != nil {
		last = *m.LastCompleted
	}
	if m.Error != nil {
		errMsg = *m.Error
	}
	var finishedAt *time.Time
	if m.FinishedAt != nil {
		t := time.Unix(*m.FinishedAt, 0)
		finishedAt = &t
	}
	return registry.ReconstituteRun(
		m.ID,
		m.Network,
		uint64(m.ChainID),
		tags,
		registry.RunState(m.State),
		last,
		m.Deployed,
		m.Skipped,
		errMsg,
		time.Unix(m.StartedAt, 0),
		finishedAt,
		time.Unix(m.UpdatedAt, 0),
	)
}
