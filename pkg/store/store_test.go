package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/tiller/pkg/contracts"
	"github.com/Mindburn-Labs/tiller/pkg/election"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "tiller.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestActionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	action := contracts.Action{
		ID:            "sha256:abc",
		Target:        "vault",
		ScheduledTime: now.Add(time.Hour),
		PlannedAt:     now,
		PlannedBy:     "alice",
	}
	require.NoError(t, s.PutAction(ctx, action))

	live, err := s.LiveActions(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, action.ID, live[0].ID)
	assert.Equal(t, action.Target, live[0].Target)
	assert.Equal(t, action.PlannedBy, live[0].PlannedBy)
	assert.True(t, live[0].ScheduledTime.Equal(action.ScheduledTime))
	assert.True(t, live[0].PlannedAt.Equal(action.PlannedAt))

	require.NoError(t, s.RemoveAction(ctx, action.ID))
	live, err = s.LiveActions(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestDuplicateActionInsertFails(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	action := contracts.Action{ID: "sha256:abc", Target: "vault", PlannedBy: "alice"}
	require.NoError(t, s.PutAction(ctx, action))
	assert.Error(t, s.PutAction(ctx, action))
}

func TestVoterUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutVoter(ctx, election.VoterRecord{Address: "ann", Locked: 50, SlateID: "s1"}))
	require.NoError(t, s.PutVoter(ctx, election.VoterRecord{Address: "ann", Locked: 80, SlateID: "s2"}))

	voters, err := s.Voters(ctx)
	require.NoError(t, err)
	require.Len(t, voters, 1)
	assert.Equal(t, uint64(80), voters[0].Locked)
	assert.Equal(t, "s2", voters[0].SlateID)
}

func TestApprovalsUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutApprovals(ctx, []election.ApprovalRecord{
		{Candidate: "cat", Approval: 10},
		{Candidate: "dan", Approval: 20},
	}))
	require.NoError(t, s.PutApprovals(ctx, []election.ApprovalRecord{
		{Candidate: "cat", Approval: 0},
	}))

	approvals, err := s.Approvals(ctx)
	require.NoError(t, err)
	byCandidate := make(map[contracts.Address]uint64, len(approvals))
	for _, rec := range approvals {
		byCandidate[rec.Candidate] = rec.Approval
	}
	assert.Equal(t, uint64(0), byCandidate["cat"])
	assert.Equal(t, uint64(20), byCandidate["dan"])
}

func TestSlateOrderPreserved(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutSlate(ctx, "s1", []contracts.Address{"cat", "dan"}))
	require.NoError(t, s.PutSlate(ctx, "s2", []contracts.Address{"ann"}))

	slates, err := s.Slates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []contracts.Address{"cat", "dan"}, slates["s1"])
	assert.Equal(t, []contracts.Address{"ann"}, slates["s2"])
}

func TestLeaderDefaultsToSentinel(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	leader, err := s.Leader(ctx)
	require.NoError(t, err)
	assert.Equal(t, contracts.AddressNone, leader)

	require.NoError(t, s.SetLeader(ctx, "cat"))
	require.NoError(t, s.SetLeader(ctx, "dan"))
	leader, err = s.Leader(ctx)
	require.NoError(t, err)
	assert.Equal(t, contracts.Address("dan"), leader)
}

func TestStakeLedger(t *testing.T) {
	s := openTestStore(t)
	stake := s.Stake()
	ctx := context.Background()

	require.NoError(t, stake.Credit(ctx, "ann", 100))

	balance, err := stake.Balance(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), balance)

	require.NoError(t, stake.Deposit(ctx, "ann", 60))
	balance, err = stake.Balance(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, uint64(40), balance)

	// Overdraft leaves the balance untouched.
	require.Error(t, stake.Deposit(ctx, "ann", 41))
	balance, err = stake.Balance(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, uint64(40), balance)

	// Unknown holders have a zero balance and cannot deposit.
	balance, err = stake.Balance(ctx, "ghost")
	require.NoError(t, err)
	assert.Zero(t, balance)
	require.Error(t, stake.Deposit(ctx, "ghost", 1))

	require.NoError(t, stake.Withdraw(ctx, "ann", 60))
	balance, err = stake.Balance(ctx, "ann")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), balance)
}

func TestReopenKeepsState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiller.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetLeader(ctx, "cat"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	leader, err := s.Leader(ctx)
	require.NoError(t, err)
	assert.Equal(t, contracts.Address("cat"), leader)
}
