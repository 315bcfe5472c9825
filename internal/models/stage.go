package models

// Stage names one phase of the pipeline cycle.
type Stage string

const (
	StageAnalysis    Stage = "analysis"
	StageValidation  Stage = "validation"
	StageFeatureWork Stage = "feature_work"
	StageBuildDeploy Stage = "build_deploy"
	StageMonitor     Stage = "monitor"
)

// Stages returns the stages in pipeline order. The order decides which
// stage a cycle record blames when several failed.
func Stages() []Stage {
	return []Stage{
		StageAnalysis,
		StageValidation,
		StageFeatureWork,
		StageBuildDeploy,
		StageMonitor,
	}
}
