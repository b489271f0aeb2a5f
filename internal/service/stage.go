package service

import "dialoque/server/internal/session"

// ClampStage bounds stage to what the student can reach: selection only,
// upload once an assignment is active, chat once a submission exists.
func ClampStage(stage int, hasActiveAssignment, hasSubmission bool) int {
	maxReachable := session.StageSelect
	if hasActiveAssignment {
		maxReachable = session.StageUpload
	}
	if hasSubmission {
		maxReachable = session.StageChat
	}
	if stage > maxReachable {
		stage = maxReachable
	}
	if stage < session.StageSelect {
		stage = session.StageSelect
	}
	return stage
}
