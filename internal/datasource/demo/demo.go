// Package demo generates deterministic dashboard data for local browsing and
// tests.
package demo

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/lablup/backend.ai-sub009/internal/models"
)

// namespace seeds deterministic session IDs.
var namespace = uuid.MustParse("6f1c7e2a-3b0d-4e55-9a39-0c4b7d2f8e11")

// Options sizes a generated dataset.
type Options struct {
	Groups             int
	AgentsPerGroup     int
	MaxSessionsPerNode int
	Volumes            int
	Seed               uint64
}

// DefaultOptions returns a dataset large enough to exercise paging.
func DefaultOptions() Options {
	return Options{
		Groups:             3,
		AgentsPerGroup:     120,
		MaxSessionsPerNode: 8,
		Volumes:            40,
		Seed:               1,
	}
}

// Dataset holds generated records.
type Dataset struct {
	Groups   []models.ResourceGroup
	Agents   []models.Agent
	Sessions []models.ComputeSession
	Volumes  []models.StorageVolume
}

var (
	regions   = []string{"us-east-1", "eu-west-1", "ap-northeast-2"}
	statuses  = []models.AgentStatus{models.AgentStatusAlive, models.AgentStatusAlive, models.AgentStatusAlive, models.AgentStatusLost, models.AgentStatusRestarting}
	sessStats = []models.SessionStatus{models.SessionStatusRunning, models.SessionStatusRunning, models.SessionStatusPending, models.SessionStatusPreparing, models.SessionStatusTerminating, models.SessionStatusError}
	images    = []string{"python:3.11-ubuntu22.04", "pytorch:2.3-py311-cuda12.1", "tensorflow:2.15-py311-cuda12.2", "r-base:4.3"}
	owners    = []string{"admin@lablup.com", "user@lablup.com", "alice@example.com", "bob@example.com"}
	backends  = []string{"xfs", "cephfs", "purestorage", "netapp", "vfs"}
)

// Generate builds a dataset from opts. The same options always produce the
// same records.
func Generate(opts Options) Dataset {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var ds Dataset
	for g := 0; g < opts.Groups; g++ {
		group := models.ResourceGroup{
			Name:          groupName(g),
			Description:   fmt.Sprintf("Resource group %d", g),
			IsActive:      g%4 != 3,
			SchedulerType: []string{"fifo", "lifo", "drf"}[g%3],
			AgentCount:    opts.AgentsPerGroup,
		}
		ds.Groups = append(ds.Groups, group)

		for a := 0; a < opts.AgentsPerGroup; a++ {
			agent := models.Agent{
				ID:            fmt.Sprintf("i-%s-%04d", group.Name, a),
				Region:        regions[rng.IntN(len(regions))],
				ScalingGroup:  group.Name,
				Status:        statuses[rng.IntN(len(statuses))],
				Address:       fmt.Sprintf("tcp://10.%d.%d.%d:6001", g, a/250, a%250+1),
				Architecture:  []string{"x86_64", "aarch64"}[rng.IntN(2)],
				CPUSlots:      float64(8 << rng.IntN(4)),
				MemSlots:      int64(16<<rng.IntN(4)) << 30,
				Schedulable:   rng.IntN(10) != 0,
				FirstContact:  base.Add(time.Duration(rng.IntN(90*24)) * time.Hour),
				LastHeartbeat: base.Add(120 * 24 * time.Hour).Add(-time.Duration(rng.IntN(600)) * time.Second),
			}
			n := 0
			if opts.MaxSessionsPerNode > 0 && agent.Status == models.AgentStatusAlive {
				n = rng.IntN(opts.MaxSessionsPerNode + 1)
			}
			for s := 0; s < n; s++ {
				sess := models.ComputeSession{
					ID:        uuid.NewSHA1(namespace, []byte(fmt.Sprintf("%s/%d", agent.ID, s))).String(),
					AgentID:   agent.ID,
					Name:      fmt.Sprintf("sess-%s-%d", agent.ID[len(agent.ID)-4:], s),
					Owner:     owners[rng.IntN(len(owners))],
					Image:     images[rng.IntN(len(images))],
					Type:      []string{"interactive", "batch", "inference"}[rng.IntN(3)],
					Status:    sessStats[rng.IntN(len(sessStats))],
					CPUUsed:   float64(1 + rng.IntN(4)),
					MemUsed:   int64(1+rng.IntN(8)) << 30,
					CreatedAt: agent.FirstContact.Add(time.Duration(rng.IntN(30*24)) * time.Hour),
				}
				agent.CPUUsed += sess.CPUUsed
				agent.MemUsed += sess.MemUsed
				ds.Sessions = append(ds.Sessions, sess)
			}
			agent.SessionCount = n
			ds.Agents = append(ds.Agents, agent)
		}
	}

	for v := 0; v < opts.Volumes; v++ {
		capacity := int64(1+rng.IntN(64)) << 40
		ds.Volumes = append(ds.Volumes, models.StorageVolume{
			ID:           fmt.Sprintf("proxy%d:volume%d", v%4, v),
			Proxy:        fmt.Sprintf("proxy%d", v%4),
			Backend:      backends[rng.IntN(len(backends))],
			Capabilities: []string{"vfolder", "quota", "metric"}[:1+rng.IntN(3)],
			Capacity:     capacity,
			Used:         rng.Int64N(capacity),
		})
	}
	return ds
}

func groupName(i int) string {
	if i == 0 {
		return "default"
	}
	return fmt.Sprintf("group-%d", i)
}

// Rows returns the rows of one hierarchy: "agents" yields agents with their
// sessions as children, "resource_groups" nests agents under their group and
// "volumes" is flat.
func (ds Dataset) Rows(hierarchy string) ([]models.Row, error) {
	var rows []models.Row
	switch hierarchy {
	case "agents":
		for i := range ds.Agents {
			rows = append(rows, ds.Agents[i].Row())
		}
		for i := range ds.Sessions {
			rows = append(rows, ds.Sessions[i].Row())
		}
	case "volumes":
		for i := range ds.Volumes {
			rows = append(rows, ds.Volumes[i].Row())
		}
	case "resource_groups":
		for i := range ds.Groups {
			rows = append(rows, ds.Groups[i].Row())
		}
		for i := range ds.Agents {
			row := ds.Agents[i].Row()
			row.ParentID = ds.Agents[i].ScalingGroup
			rows = append(rows, row)
		}
		for i := range ds.Sessions {
			rows = append(rows, ds.Sessions[i].Row())
		}
	default:
		return nil, fmt.Errorf("unknown hierarchy '%s'", hierarchy)
	}
	return rows, nil
}

// Validate checks every generated record.
func (ds Dataset) Validate() error {
	for i := range ds.Agents {
		if err := ds.Agents[i].Validate(); err != nil {
			return fmt.Errorf("agent %s: %w", ds.Agents[i].ID, err)
		}
	}
	for i := range ds.Sessions {
		if err := ds.Sessions[i].Validate(); err != nil {
			return fmt.Errorf("session %s: %w", ds.Sessions[i].ID, err)
		}
	}
	for i := range ds.Volumes {
		if err := ds.Volumes[i].Validate(); err != nil {
			return fmt.Errorf("volume %s: %w", ds.Volumes[i].ID, err)
		}
	}
	for i := range ds.Groups {
		if err := ds.Groups[i].Validate(); err != nil {
			return fmt.Errorf("resource group %s: %w", ds.Groups[i].Name, err)
		}
	}
	return nil
}
