package tests

import (
	"context"
	"testing"

	"github.com/blingmoon/approval-workflow/workflow"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGroupManagement 测试审批组管理
func TestGroupManagement(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()

	t.Run("创建组校验策略配置", func(t *testing.T) {
		// quorum缺少quorum_count
		_, err := services.groups.CreateGroup(ctx, &workflow.CreateGroupSpec{
			Name:     "bad_quorum",
			Strategy: workflow.StrategyQuorum,
		})
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrStrategyConfigInvalid))

		// weighted缺少min_weight
		_, err = services.groups.CreateGroup(ctx, &workflow.CreateGroupSpec{
			Name:     "bad_weighted",
			Strategy: workflow.StrategyWeighted,
		})
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrStrategyConfigInvalid))

		// 未知策略
		_, err = services.groups.CreateGroup(ctx, &workflow.CreateGroupSpec{
			Name:     "bad_strategy",
			Strategy: "majority",
		})
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrUnknownStrategy))

		group, err := services.groups.CreateGroup(ctx, &workflow.CreateGroupSpec{
			Name:        "finance_reviewers",
			Strategy:    workflow.StrategyQuorum,
			QuorumCount: 2,
		})
		require.NoError(t, err)
		assert.True(t, group.IsActive)
		assert.Equal(t, workflow.StrategyQuorum, group.Strategy)
	})

	t.Run("按名字查组", func(t *testing.T) {
		group, err := services.groups.GetGroupByName(ctx, "finance_reviewers")
		require.NoError(t, err)
		assert.Equal(t, "finance_reviewers", group.Name)

		_, err = services.groups.GetGroupByName(ctx, "nowhere")
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrGroupNotFound))
	})

	t.Run("重复成员被拒绝", func(t *testing.T) {
		group, err := services.groups.GetGroupByName(ctx, "finance_reviewers")
		require.NoError(t, err)

		_, err = services.groups.AddMember(ctx, group.ID, "alice", nil)
		require.NoError(t, err)
		_, err = services.groups.AddMember(ctx, group.ID, "alice", nil)
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrDuplicateMember))
	})

	t.Run("移除不存在的成员返回not found", func(t *testing.T) {
		group, err := services.groups.GetGroupByName(ctx, "finance_reviewers")
		require.NoError(t, err)
		err = services.groups.RemoveMember(ctx, group.ID, "nobody")
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrMemberNotFound))
	})
}

// TestGroupStrategySpecificMembers 测试策略相关的成员参数
func TestGroupStrategySpecificMembers(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()

	t.Run("sequential成员必须带sequence且按sequence返回", func(t *testing.T) {
		group, err := services.groups.CreateGroup(ctx, &workflow.CreateGroupSpec{
			Name:     "sequential_chain",
			Strategy: workflow.StrategySequential,
		})
		require.NoError(t, err)

		// 不带sequence拒绝
		_, err = services.groups.AddMember(ctx, group.ID, "alice", nil)
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrParamInvalid))

		// 乱序插入,按sequence升序返回
		_, err = services.groups.AddMember(ctx, group.ID, "carol", &workflow.MemberOption{Sequence: workflow.Int64(3)})
		require.NoError(t, err)
		_, err = services.groups.AddMember(ctx, group.ID, "alice", &workflow.MemberOption{Sequence: workflow.Int64(1)})
		require.NoError(t, err)
		_, err = services.groups.AddMember(ctx, group.ID, "bob", &workflow.MemberOption{Sequence: workflow.Int64(2)})
		require.NoError(t, err)

		members, err := services.groups.GetMembers(ctx, group.ID)
		require.NoError(t, err)
		require.Len(t, members, 3)
		assert.Equal(t, "alice", members[0].UserID)
		assert.Equal(t, "bob", members[1].UserID)
		assert.Equal(t, "carol", members[2].UserID)
	})

	t.Run("weighted成员必须带正权重", func(t *testing.T) {
		group, err := services.groups.CreateGroup(ctx, &workflow.CreateGroupSpec{
			Name:      "weighted_board",
			Strategy:  workflow.StrategyWeighted,
			MinWeight: 5,
		})
		require.NoError(t, err)

		_, err = services.groups.AddMember(ctx, group.ID, "alice", nil)
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrParamInvalid))
		_, err = services.groups.AddMember(ctx, group.ID, "alice", &workflow.MemberOption{Weight: workflow.Int64(0)})
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrParamInvalid))

		member, err := services.groups.AddMember(ctx, group.ID, "director", &workflow.MemberOption{Weight: workflow.Int64(5)})
		require.NoError(t, err)
		assert.Equal(t, int64(5), member.Weight)
	})

	t.Run("更新成员参数", func(t *testing.T) {
		group, err := services.groups.GetGroupByName(ctx, "weighted_board")
		require.NoError(t, err)

		require.NoError(t, services.groups.UpdateMember(ctx, group.ID, "director", &workflow.MemberOption{Weight: workflow.Int64(3)}))
		members, err := services.groups.GetMembers(ctx, group.ID)
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, int64(3), members[0].Weight)

		// 空option拒绝
		err = services.groups.UpdateMember(ctx, group.ID, "director", nil)
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrParamInvalid))
	})
}

// TestGroupCloneAndDelete 测试克隆和级联删除
func TestGroupCloneAndDelete(t *testing.T) {
	services := setupTestServices(t)
	ctx := context.Background()

	group, err := services.groups.CreateGroup(ctx, &workflow.CreateGroupSpec{
		Name:        "original_group",
		Strategy:    workflow.StrategyQuorum,
		QuorumCount: 2,
	})
	require.NoError(t, err)
	for _, member := range []string{"alice", "bob", "carol"} {
		_, err := services.groups.AddMember(ctx, group.ID, member, nil)
		require.NoError(t, err)
	}

	t.Run("克隆组带全部成员", func(t *testing.T) {
		cloned, err := services.groups.CloneGroup(ctx, group.ID, "cloned_group")
		require.NoError(t, err)
		assert.Equal(t, "cloned_group", cloned.Name)
		assert.Equal(t, workflow.StrategyQuorum, cloned.Strategy)

		members, err := services.groups.GetMembers(ctx, cloned.ID)
		require.NoError(t, err)
		assert.Len(t, members, 3)
	})

	t.Run("删除组级联删除成员", func(t *testing.T) {
		require.NoError(t, services.groups.DeleteGroup(ctx, group.ID))

		_, err := services.groups.GetGroup(ctx, group.ID)
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrGroupNotFound))
		_, err = services.groups.GetMembers(ctx, group.ID)
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrGroupNotFound))

		// 克隆组不受影响
		cloned, err := services.groups.GetGroupByName(ctx, "cloned_group")
		require.NoError(t, err)
		members, err := services.groups.GetMembers(ctx, cloned.ID)
		require.NoError(t, err)
		assert.Len(t, members, 3)
	})

	t.Run("更新组配置重新校验", func(t *testing.T) {
		cloned, err := services.groups.GetGroupByName(ctx, "cloned_group")
		require.NoError(t, err)

		err = services.groups.UpdateGroup(ctx, cloned.ID, &workflow.UpdateApproverGroupField{
			QuorumCount: workflow.Int64(0),
		})
		assert.True(t, errors.Is(errors.Cause(err), workflow.ErrStrategyConfigInvalid))

		require.NoError(t, services.groups.UpdateGroup(ctx, cloned.ID, &workflow.UpdateApproverGroupField{
			QuorumCount: workflow.Int64(3),
		}))
		updated, err := services.groups.GetGroup(ctx, cloned.ID)
		require.NoError(t, err)
		quorumConfig, ok := updated.Config.(*workflow.QuorumConfig)
		require.True(t, ok)
		assert.Equal(t, int64(3), quorumConfig.Count)
	})
}
