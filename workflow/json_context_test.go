package workflow

import (
	"encoding/json"
	"testing"
)

func TestJSONContext_BasicOperations(t *testing.T) {
	// 创建空上下文
	ctx := NewJSONContext(nil)

	// 设置值
	ctx.Set([]string{"approval", "comment"}, "同意发布")
	ctx.Set([]string{"approval", "level"}, int64(2))
	ctx.Set([]string{"can_publish"}, true)
	ctx.Set([]string{"score"}, 98.5)

	// 获取值
	comment, ok := ctx.GetString("approval", "comment")
	if !ok || comment != "同意发布" {
		t.Errorf("Expected comment=同意发布, got %s", comment)
	}

	level, ok := ctx.GetInt64("approval", "level")
	if !ok || level != 2 {
		t.Errorf("Expected level=2, got %d", level)
	}

	canPublish, ok := ctx.GetBool("can_publish")
	if !ok || !canPublish {
		t.Errorf("Expected can_publish=true, got %v", canPublish)
	}

	score, ok := ctx.GetFloat64("score")
	if !ok || score != 98.5 {
		t.Errorf("Expected score=98.5, got %f", score)
	}
}

func TestJSONContext_FromBytes(t *testing.T) {
	// 从 JSON 字节创建
	jsonData := []byte(`{
		"operator": "alice",
		"can_publish": true,
		"approval": {
			"comment": "审核通过",
			"reviewed_at": 1640000000
		}
	}`)

	ctx := NewJSONContext(jsonData)

	operator, ok := ctx.GetString("operator")
	if !ok || operator != "alice" {
		t.Errorf("Expected operator=alice, got %s", operator)
	}

	// JSON数字反序列化出来是float64,GetInt64要能兼容
	reviewedAt, ok := ctx.GetInt64("approval", "reviewed_at")
	if !ok || reviewedAt != 1640000000 {
		t.Errorf("Expected reviewed_at=1640000000, got %d", reviewedAt)
	}

	// 解析失败当成空上下文
	broken := NewJSONContext([]byte(`{invalid`))
	if _, ok := broken.Get("anything"); ok {
		t.Error("Expected empty context from invalid json")
	}
}

func TestJSONContext_Delete(t *testing.T) {
	ctx := NewJSONContextFromMap(map[string]any{
		"operator": "alice",
		"system": map[string]any{
			"internal": true,
		},
	})

	ctx.Delete("system")
	if _, ok := ctx.Get("system"); ok {
		t.Error("Expected system deleted")
	}

	// 删除不存在的路径直接忽略
	ctx.Delete("not", "exists")

	if _, ok := ctx.GetString("operator"); !ok {
		t.Error("Expected operator untouched")
	}
}

func TestJSONContext_Clone(t *testing.T) {
	ctx := NewJSONContextFromMap(map[string]any{
		"approval": map[string]any{"comment": "ok"},
	})

	cloned := ctx.Clone()
	cloned.Set([]string{"approval", "comment"}, "changed")

	// 深拷贝,修改克隆不影响原来的
	comment, _ := ctx.GetString("approval", "comment")
	if comment != "ok" {
		t.Errorf("Expected original untouched, got %s", comment)
	}
}

func TestJSONContext_Merge(t *testing.T) {
	first := NewJSONContextFromMap(map[string]any{"a": int64(1), "b": int64(1)})
	second := NewJSONContextFromMap(map[string]any{"b": int64(2)})

	merged := MergeJSONContexts(first, second, nil)

	a, _ := merged.GetInt64("a")
	b, _ := merged.GetInt64("b")
	if a != 1 || b != 2 {
		t.Errorf("Expected a=1 b=2, got a=%d b=%d", a, b)
	}
}

func TestJSONContext_Unmarshal(t *testing.T) {
	ctx := NewJSONContextFromMap(map[string]any{
		"operator": "alice",
		"level":    2,
	})

	var payload struct {
		Operator string `json:"operator"`
		Level    int64  `json:"level"`
	}
	if err := ctx.Unmarshal(&payload); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if payload.Operator != "alice" || payload.Level != 2 {
		t.Errorf("Unexpected payload: %+v", payload)
	}

	bytes, err := ctx.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes failed: %v", err)
	}
	roundTrip := map[string]any{}
	if err := json.Unmarshal(bytes, &roundTrip); err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
}
