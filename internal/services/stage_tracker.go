package services

import (
	"time"

	"deep-research-api/internal/models"
)

// StageTracker accumulates elapsed wall-clock time per research stage as
// signals arrive from the engine's update stream. It is not safe for
// concurrent use; each session owns its own tracker.
type StageTracker struct {
	currentStage   models.ResearchStage
	stageEnteredAt time.Time
	elapsed        map[models.ResearchStage]float64
	started        bool
}

func NewStageTracker() *StageTracker {
	return &StageTracker{
		elapsed: make(map[models.ResearchStage]float64),
	}
}

// OnStageSignal credits the interval since the last transition to the stage
// being left. The first signal establishes the initial stage without crediting
// time to a non-existent predecessor.
func (tracker *StageTracker) OnStageSignal(stage models.ResearchStage, now time.Time) {
	if !tracker.started {
		tracker.currentStage = stage
		tracker.stageEnteredAt = now
		tracker.started = true
		return
	}

	if stage == tracker.currentStage {
		return
	}

	tracker.credit(now)
	tracker.currentStage = stage
	tracker.stageEnteredAt = now
}

// Finalize credits the tail interval to the still-current stage. Called
// exactly once when the run ends, on success or error.
func (tracker *StageTracker) Finalize(now time.Time) {
	if !tracker.started {
		return
	}
	tracker.credit(now)
	tracker.stageEnteredAt = now
}

func (tracker *StageTracker) credit(now time.Time) {
	seconds := now.Sub(tracker.stageEnteredAt).Seconds()
	if seconds < 0 {
		return
	}
	tracker.elapsed[tracker.currentStage] += seconds
}

func (tracker *StageTracker) CurrentStage() models.ResearchStage {
	if !tracker.started {
		return models.StageInitialization
	}
	return tracker.currentStage
}

// Timings reports the accumulated seconds for the four billed stages.
// Initialization, completed and error intervals are not billed.
func (tracker *StageTracker) Timings() models.StageTimings {
	return models.StageTimings{
		Clarification:     tracker.elapsed[models.StageClarification],
		ResearchBrief:     tracker.elapsed[models.StageResearchBrief],
		ResearchExecution: tracker.elapsed[models.StageResearchExecution],
		FinalReport:       tracker.elapsed[models.StageFinalReport],
	}
}
