package walkforward

import "fmt"

// Severity 过拟合严重程度
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// lowScore 低于该分数视为轻微
const lowScore = 0.3

// DefaultThreshold 默认过拟合阈值（训练与测试夏普差）
const DefaultThreshold = 0.5

// Assessment 过拟合评估
type Assessment struct {
	Score          float64  `json:"score"`
	Overfitted     bool     `json:"overfitted"`
	Severity       Severity `json:"severity"`
	Recommendation string   `json:"recommendation"`
}

// IsOverfitted 训练指标比测试指标高出 threshold 以上
func IsOverfitted(train, test, threshold float64) bool {
	return train-test > threshold
}

// Assess 根据平均训练/测试夏普评估过拟合
func Assess(avgTrain, avgTest, threshold float64) Assessment {
	score := avgTrain - avgTest
	a := Assessment{Score: score, Overfitted: IsOverfitted(avgTrain, avgTest, threshold)}

	switch {
	case score < lowScore:
		a.Severity = SeverityLow
		a.Recommendation = "样本外表现与样本内一致，可继续观察"
	case score < threshold:
		a.Severity = SeverityMedium
		a.Recommendation = fmt.Sprintf("样本外夏普下降 %.2f，建议减少参数数量或延长训练窗口", score)
	default:
		a.Severity = SeverityHigh
		a.Recommendation = fmt.Sprintf("样本外夏普下降 %.2f，策略很可能过拟合，建议简化策略并重新验证", score)
	}
	return a
}
