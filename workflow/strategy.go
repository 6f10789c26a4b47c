package workflow

import (
	"sort"

	"github.com/pkg/errors"
)

// ApprovalRecord 审批记录,(user_id, status)对,从迁移对应的用户任务推导出来
// 只有status=completed算同意,CompletedAt(unix毫秒)用于sequential策略的顺序判断
// TaskID是来源任务的主键,CompletedAt相同的时候拿它当第二排序键打破平局
type ApprovalRecord struct {
	UserID      string
	Status      TaskStatus
	CompletedAt int64
	TaskID      int64
}

// completedBefore (CompletedAt, TaskID)字典序,毫秒级平局靠任务ID裁定
func completedBefore(a *ApprovalRecord, b *ApprovalRecord) bool {
	if a.CompletedAt != b.CompletedAt {
		return a.CompletedAt < b.CompletedAt
	}
	return a.TaskID < b.TaskID
}

// ApprovalProgress 审批进度报告,UI渲染投票进度用
type ApprovalProgress struct {
	Total      int64          `json:"total"`
	Completed  int64          `json:"completed"`
	Pending    int64          `json:"pending"`
	Percent    float64        `json:"percent"`
	IsComplete bool           `json:"is_complete"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// StrategyConfig 策略配置,按策略区分的具体类型,创建审批组的时候校验,求值的时候不再校验
type StrategyConfig interface {
	StrategyTag() StrategyTag
	Validate() error
}

// QuorumConfig quorum策略配置: 达到最少同意人数即通过
type QuorumConfig struct {
	Count int64
}

func (c *QuorumConfig) StrategyTag() StrategyTag { return StrategyQuorum }
func (c *QuorumConfig) Validate() error {
	if c.Count <= 0 {
		return errors.Wrap(ErrStrategyConfigInvalid, "quorum strategy requires quorum_count > 0")
	}
	return nil
}

// WeightedConfig weighted策略配置: 同意成员权重之和达到阈值即通过
type WeightedConfig struct {
	MinWeight int64
}

func (c *WeightedConfig) StrategyTag() StrategyTag { return StrategyWeighted }
func (c *WeightedConfig) Validate() error {
	if c.MinWeight <= 0 {
		return errors.Wrap(ErrStrategyConfigInvalid, "weighted strategy requires min_weight > 0")
	}
	return nil
}

// SequentialConfig sequential策略配置,策略本身不需要额外参数,顺序挂在成员的sequence上
type SequentialConfig struct{}

func (c *SequentialConfig) StrategyTag() StrategyTag { return StrategySequential }
func (c *SequentialConfig) Validate() error          { return nil }

// NoConfig parallel/any策略不需要配置
type NoConfig struct {
	Tag StrategyTag
}

func (c *NoConfig) StrategyTag() StrategyTag { return c.Tag }
func (c *NoConfig) Validate() error          { return nil }

// ApprovalStrategy 审批策略,五种算法的统一契约,实现都是无状态的纯计算
type ApprovalStrategy interface {
	// Evaluate 给定组成员和审批记录,判断组决策是否完成
	Evaluate(members []*ApproverGroupMember, records []*ApprovalRecord, config StrategyConfig) bool
	// Progress 进度报告,Extra里面放策略自己的附加信息
	Progress(members []*ApproverGroupMember, records []*ApprovalRecord, config StrategyConfig) *ApprovalProgress
}

// NewApprovalStrategy 策略工厂,未知标签直接报错,不做静默降级
func NewApprovalStrategy(tag StrategyTag) (ApprovalStrategy, error) {
	switch tag {
	case StrategySequential:
		return &sequentialStrategy{}, nil
	case StrategyParallel:
		return &parallelStrategy{}, nil
	case StrategyQuorum:
		return &quorumStrategy{}, nil
	case StrategyAny:
		return &anyStrategy{}, nil
	case StrategyWeighted:
		return &weightedStrategy{}, nil
	}
	return nil, errors.Wrapf(ErrUnknownStrategy, "strategy tag: %s", tag)
}

// IsValidStrategyTag 标签合法性检查,创建审批组的时候用
func IsValidStrategyTag(tag StrategyTag) bool {
	_, err := NewApprovalStrategy(tag)
	return err == nil
}

// completedRecordByUser 每个成员取最新一条completed记录
func completedRecordByUser(records []*ApprovalRecord) map[string]*ApprovalRecord {
	ret := make(map[string]*ApprovalRecord, len(records))
	for _, record := range records {
		if record == nil || record.Status != TaskStatusCompleted {
			continue
		}
		existing, ok := ret[record.UserID]
		if ok && !completedBefore(existing, record) {
			continue
		}
		ret[record.UserID] = record
	}
	return ret
}

func countApprovedMembers(members []*ApproverGroupMember, approved map[string]*ApprovalRecord) int64 {
	count := int64(0)
	for _, member := range members {
		if _, ok := approved[member.UserID]; ok {
			count++
		}
	}
	return count
}

// baseProgress 各策略共用的进度骨架
func baseProgress(members []*ApproverGroupMember, approved map[string]*ApprovalRecord) *ApprovalProgress {
	total := int64(len(members))
	completed := countApprovedMembers(members, approved)
	percent := float64(0)
	if total > 0 {
		percent = float64(completed) / float64(total) * 100
	}
	return &ApprovalProgress{
		Total:     total,
		Completed: completed,
		Pending:   total - completed,
		Percent:   percent,
		Extra:     make(map[string]any),
	}
}

// sequentialStrategy 顺序审批: 所有成员都同意,且完成时间严格按sequence升序
// 乱序的同意(后序成员先于前序成员完成)会让整组永远无法判定为完成,需要人工干预重新发起
type sequentialStrategy struct{}

func sortedBySequence(members []*ApproverGroupMember) []*ApproverGroupMember {
	sorted := make([]*ApproverGroupMember, len(members))
	copy(sorted, members)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Sequence < sorted[j].Sequence
	})
	return sorted
}

func (s *sequentialStrategy) Evaluate(members []*ApproverGroupMember, records []*ApprovalRecord, config StrategyConfig) bool {
	if len(members) == 0 {
		return false
	}
	approved := completedRecordByUser(records)
	if len(approved) == 0 {
		// 空审批集合不算完成
		return false
	}
	sorted := sortedBySequence(members)
	var last *ApprovalRecord
	for _, member := range sorted {
		record, ok := approved[member.UserID]
		if !ok {
			return false
		}
		if last != nil && completedBefore(record, last) {
			// 后序成员比前序成员先完成,乱序审批不算完成
			return false
		}
		last = record
	}
	return true
}

func (s *sequentialStrategy) Progress(members []*ApproverGroupMember, records []*ApprovalRecord, config StrategyConfig) *ApprovalProgress {
	approved := completedRecordByUser(records)
	progress := baseProgress(members, approved)
	progress.IsComplete = s.Evaluate(members, records, config)
	// next_approver: sequence最小的未同意成员
	for _, member := range sortedBySequence(members) {
		if _, ok := approved[member.UserID]; !ok {
			progress.Extra["next_approver"] = member.UserID
			break
		}
	}
	return progress
}

// parallelStrategy 并行审批: 每个成员都要同意,顺序无关
type parallelStrategy struct{}

func (s *parallelStrategy) Evaluate(members []*ApproverGroupMember, records []*ApprovalRecord, config StrategyConfig) bool {
	if len(members) == 0 {
		return false
	}
	approved := completedRecordByUser(records)
	return countApprovedMembers(members, approved) == int64(len(members))
}

func (s *parallelStrategy) Progress(members []*ApproverGroupMember, records []*ApprovalRecord, config StrategyConfig) *ApprovalProgress {
	progress := baseProgress(members, completedRecordByUser(records))
	progress.IsComplete = s.Evaluate(members, records, config)
	return progress
}

// quorumStrategy 法定人数审批: 同意人数达到quorum_count即通过,超过也是通过
type quorumStrategy struct{}

func quorumCountOf(config StrategyConfig) int64 {
	quorumConfig, ok := config.(*QuorumConfig)
	if !ok {
		return 0
	}
	return quorumConfig.Count
}

func (s *quorumStrategy) Evaluate(members []*ApproverGroupMember, records []*ApprovalRecord, config StrategyConfig) bool {
	quorumCount := quorumCountOf(config)
	if len(members) == 0 || quorumCount <= 0 {
		return false
	}
	approved := completedRecordByUser(records)
	return countApprovedMembers(members, approved) >= quorumCount
}

func (s *quorumStrategy) Progress(members []*ApproverGroupMember, records []*ApprovalRecord, config StrategyConfig) *ApprovalProgress {
	progress := baseProgress(members, completedRecordByUser(records))
	progress.IsComplete = s.Evaluate(members, records, config)
	progress.Extra["quorum_count"] = quorumCountOf(config)
	return progress
}

// anyStrategy 任意一人同意即通过
type anyStrategy struct{}

func (s *anyStrategy) Evaluate(members []*ApproverGroupMember, records []*ApprovalRecord, config StrategyConfig) bool {
	if len(members) == 0 {
		return false
	}
	approved := completedRecordByUser(records)
	return countApprovedMembers(members, approved) >= 1
}

func (s *anyStrategy) Progress(members []*ApproverGroupMember, records []*ApprovalRecord, config StrategyConfig) *ApprovalProgress {
	progress := baseProgress(members, completedRecordByUser(records))
	progress.IsComplete = s.Evaluate(members, records, config)
	return progress
}

// weightedStrategy 加权审批: 同意成员的权重之和达到min_weight即通过
// 单个高权重成员可以独自满足阈值
type weightedStrategy struct{}

func minWeightOf(config StrategyConfig) int64 {
	weightedConfig, ok := config.(*WeightedConfig)
	if !ok {
		return 0
	}
	return weightedConfig.MinWeight
}

func (s *weightedStrategy) completedWeight(members []*ApproverGroupMember, approved map[string]*ApprovalRecord) int64 {
	weight := int64(0)
	for _, member := range members {
		if _, ok := approved[member.UserID]; ok {
			weight += member.Weight
		}
	}
	return weight
}

func (s *weightedStrategy) Evaluate(members []*ApproverGroupMember, records []*ApprovalRecord, config StrategyConfig) bool {
	minWeight := minWeightOf(config)
	if len(members) == 0 || minWeight <= 0 {
		return false
	}
	approved := completedRecordByUser(records)
	return s.completedWeight(members, approved) >= minWeight
}

func (s *weightedStrategy) Progress(members []*ApproverGroupMember, records []*ApprovalRecord, config StrategyConfig) *ApprovalProgress {
	approved := completedRecordByUser(records)
	progress := baseProgress(members, approved)
	progress.IsComplete = s.Evaluate(members, records, config)
	completedWeight := s.completedWeight(members, approved)
	remainingWeight := minWeightOf(config) - completedWeight
	if remainingWeight < 0 {
		remainingWeight = 0
	}
	progress.Extra["completed_weight"] = completedWeight
	progress.Extra["remaining_weight"] = remainingWeight
	return progress
}
