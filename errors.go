package samson

import "errors"

var (
	// Lookup errors.
	ErrJobNotFound     = errors.New("samson: job not found")
	ErrDeployNotFound  = errors.New("samson: deploy not found")
	ErrStageNotFound   = errors.New("samson: stage not found")
	ErrProjectNotFound = errors.New("samson: project not found")

	// Store errors.
	ErrJobAlreadyExists    = errors.New("samson: job already exists")
	ErrDeployAlreadyExists = errors.New("samson: deploy already exists")

	// Request errors.
	ErrInvalidRequest = errors.New("samson: invalid request")

	// Execution errors.
	ErrSchedulerDisabled = errors.New("samson: job execution is disabled")
	ErrAlreadyFinished   = errors.New("samson: job already finished")
	ErrLockTimeout       = errors.New("samson: timed out waiting for lock")
	ErrCommandFailed     = errors.New("samson: command failed")

	// Git errors.
	ErrReferenceNotFound = errors.New("samson: git reference not found")

	// Buddy check errors.
	ErrBuddyRequired      = errors.New("samson: deploy requires buddy approval")
	ErrSelfApproval       = errors.New("samson: deployer cannot approve their own deploy")
	ErrBuddyExpired       = errors.New("samson: buddy request expired")
	ErrNotWaitingForBuddy = errors.New("samson: deploy is not waiting for a buddy")
)
