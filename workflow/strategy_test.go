package workflow

import (
	"testing"
)

func makeMembers(userIDs ...string) []*ApproverGroupMember {
	members := make([]*ApproverGroupMember, 0, len(userIDs))
	for i, userID := range userIDs {
		members = append(members, &ApproverGroupMember{
			ID:       int64(i + 1),
			UserID:   userID,
			Sequence: int64(i + 1),
			Weight:   1,
		})
	}
	return members
}

func approvedAt(userID string, completedAt int64) *ApprovalRecord {
	return &ApprovalRecord{UserID: userID, Status: TaskStatusCompleted, CompletedAt: completedAt}
}

func approvedTaskAt(userID string, taskID int64, completedAt int64) *ApprovalRecord {
	return &ApprovalRecord{UserID: userID, Status: TaskStatusCompleted, CompletedAt: completedAt, TaskID: taskID}
}

func TestNewApprovalStrategy(t *testing.T) {
	for _, tag := range []StrategyTag{StrategySequential, StrategyParallel, StrategyQuorum, StrategyAny, StrategyWeighted} {
		if _, err := NewApprovalStrategy(tag); err != nil {
			t.Errorf("Expected strategy for tag %s, got err: %v", tag, err)
		}
	}

	// 未知标签直接报错,不做静默降级
	if _, err := NewApprovalStrategy("majority"); err == nil {
		t.Error("Expected error for unknown strategy tag")
	}
	if IsValidStrategyTag("majority") {
		t.Error("Expected majority to be invalid")
	}
}

func TestSequentialStrategy(t *testing.T) {
	strategy := &sequentialStrategy{}
	members := makeMembers("alice", "bob", "carol")
	config := &SequentialConfig{}

	// 空审批集合不算完成
	if strategy.Evaluate(members, nil, config) {
		t.Error("Expected incomplete with no records")
	}

	// 按顺序完成
	records := []*ApprovalRecord{
		approvedAt("alice", 100),
		approvedAt("bob", 200),
		approvedAt("carol", 300),
	}
	if !strategy.Evaluate(members, records, config) {
		t.Error("Expected complete with in-order approvals")
	}

	// 乱序完成: bob比alice先完成,整组判定为未完成
	outOfOrder := []*ApprovalRecord{
		approvedAt("alice", 200),
		approvedAt("bob", 100),
		approvedAt("carol", 300),
	}
	if strategy.Evaluate(members, outOfOrder, config) {
		t.Error("Expected incomplete with out-of-order approvals")
	}

	// 完成时间戳打平的时候用任务ID裁定先后
	tiedOutOfOrder := []*ApprovalRecord{
		approvedTaskAt("alice", 9, 100),
		approvedTaskAt("bob", 7, 100),
		approvedTaskAt("carol", 10, 300),
	}
	if strategy.Evaluate(members, tiedOutOfOrder, config) {
		t.Error("Expected incomplete when tie-break marks bob before alice")
	}
	tiedInOrder := []*ApprovalRecord{
		approvedTaskAt("alice", 7, 100),
		approvedTaskAt("bob", 9, 100),
		approvedTaskAt("carol", 10, 300),
	}
	if !strategy.Evaluate(members, tiedInOrder, config) {
		t.Error("Expected complete when tie-break keeps sequence order")
	}

	// 缺人不算完成
	partial := []*ApprovalRecord{approvedAt("alice", 100)}
	if strategy.Evaluate(members, partial, config) {
		t.Error("Expected incomplete with missing approvals")
	}

	// next_approver指向sequence最小的未同意成员
	progress := strategy.Progress(members, partial, config)
	if progress.IsComplete {
		t.Error("Expected progress incomplete")
	}
	if progress.Completed != 1 || progress.Pending != 2 {
		t.Errorf("Expected 1/2, got %d/%d", progress.Completed, progress.Pending)
	}
	if next, _ := progress.Extra["next_approver"].(string); next != "bob" {
		t.Errorf("Expected next_approver=bob, got %v", progress.Extra["next_approver"])
	}
}

func TestParallelStrategy(t *testing.T) {
	strategy := &parallelStrategy{}
	members := makeMembers("alice", "bob")
	config := &NoConfig{Tag: StrategyParallel}

	// 全员同意才完成,顺序无关
	if strategy.Evaluate(members, []*ApprovalRecord{approvedAt("alice", 100)}, config) {
		t.Error("Expected incomplete with one of two")
	}
	records := []*ApprovalRecord{
		approvedAt("bob", 100),
		approvedAt("alice", 200),
	}
	if !strategy.Evaluate(members, records, config) {
		t.Error("Expected complete with all approvals in any order")
	}

	// 空组永远不完成
	if strategy.Evaluate(nil, records, config) {
		t.Error("Expected incomplete with empty members")
	}
}

func TestQuorumStrategy(t *testing.T) {
	strategy := &quorumStrategy{}
	members := makeMembers("alice", "bob", "carol")
	config := &QuorumConfig{Count: 2}

	// 差一票不完成
	oneVote := []*ApprovalRecord{approvedAt("alice", 100)}
	if strategy.Evaluate(members, oneVote, config) {
		t.Error("Expected incomplete with 1/2 votes")
	}

	// 恰好到票即完成,这是法定人数的临界翻转点
	twoVotes := append(oneVote, approvedAt("bob", 200))
	if !strategy.Evaluate(members, twoVotes, config) {
		t.Error("Expected complete with exactly quorum votes")
	}

	// 超过法定人数也是完成
	threeVotes := append(twoVotes, approvedAt("carol", 300))
	if !strategy.Evaluate(members, threeVotes, config) {
		t.Error("Expected complete over quorum")
	}

	// 非成员的同意不计票
	outsider := []*ApprovalRecord{approvedAt("mallory", 100), approvedAt("alice", 200)}
	if strategy.Evaluate(members, outsider, config) {
		t.Error("Expected outsider approval not counted")
	}

	progress := strategy.Progress(members, twoVotes, config)
	if !progress.IsComplete {
		t.Error("Expected progress complete")
	}
	if quorumCount, _ := progress.Extra["quorum_count"].(int64); quorumCount != 2 {
		t.Errorf("Expected quorum_count=2, got %v", progress.Extra["quorum_count"])
	}
}

func TestAnyStrategy(t *testing.T) {
	strategy := &anyStrategy{}
	members := makeMembers("alice", "bob")
	config := &NoConfig{Tag: StrategyAny}

	if strategy.Evaluate(members, nil, config) {
		t.Error("Expected incomplete with no records")
	}
	if !strategy.Evaluate(members, []*ApprovalRecord{approvedAt("bob", 100)}, config) {
		t.Error("Expected complete with any single approval")
	}

	// 只有completed算同意
	inProgress := []*ApprovalRecord{{UserID: "alice", Status: TaskStatusInProgress}}
	if strategy.Evaluate(members, inProgress, config) {
		t.Error("Expected in_progress not counted as approval")
	}
}

func TestWeightedStrategy(t *testing.T) {
	strategy := &weightedStrategy{}
	members := []*ApproverGroupMember{
		{ID: 1, UserID: "director", Weight: 5},
		{ID: 2, UserID: "alice", Weight: 2},
		{ID: 3, UserID: "bob", Weight: 2},
	}
	config := &WeightedConfig{MinWeight: 5}

	// 两个普通成员权重2+2=4,不到阈值
	twoLight := []*ApprovalRecord{approvedAt("alice", 100), approvedAt("bob", 200)}
	if strategy.Evaluate(members, twoLight, config) {
		t.Error("Expected incomplete with weight 4 < 5")
	}

	// 单个高权重成员独自满足阈值
	directorOnly := []*ApprovalRecord{approvedAt("director", 100)}
	if !strategy.Evaluate(members, directorOnly, config) {
		t.Error("Expected complete with single heavy approver")
	}

	progress := strategy.Progress(members, twoLight, config)
	if completedWeight, _ := progress.Extra["completed_weight"].(int64); completedWeight != 4 {
		t.Errorf("Expected completed_weight=4, got %v", progress.Extra["completed_weight"])
	}
	if remainingWeight, _ := progress.Extra["remaining_weight"].(int64); remainingWeight != 1 {
		t.Errorf("Expected remaining_weight=1, got %v", progress.Extra["remaining_weight"])
	}
}

func TestStrategyConfigValidate(t *testing.T) {
	if err := (&QuorumConfig{Count: 0}).Validate(); err == nil {
		t.Error("Expected error for quorum count 0")
	}
	if err := (&QuorumConfig{Count: 3}).Validate(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if err := (&WeightedConfig{MinWeight: -1}).Validate(); err == nil {
		t.Error("Expected error for negative min weight")
	}
	if err := (&SequentialConfig{}).Validate(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestCompletedRecordByUser(t *testing.T) {
	// 同一个成员多条completed记录取最新的一条
	records := []*ApprovalRecord{
		approvedAt("alice", 100),
		approvedAt("alice", 300),
		{UserID: "bob", Status: TaskStatusCancelled, CompletedAt: 200},
	}
	approved := completedRecordByUser(records)
	if len(approved) != 1 {
		t.Fatalf("Expected 1 approved user, got %d", len(approved))
	}
	if approved["alice"].CompletedAt != 300 {
		t.Errorf("Expected latest record 300, got %d", approved["alice"].CompletedAt)
	}

	// 完成时间相同的时候任务ID大的算最新
	tied := []*ApprovalRecord{
		approvedTaskAt("alice", 4, 300),
		approvedTaskAt("alice", 6, 300),
	}
	if got := completedRecordByUser(tied)["alice"].TaskID; got != 6 {
		t.Errorf("Expected tie-break to keep task 6, got %d", got)
	}
}
