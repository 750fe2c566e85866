package domain

import "errors"

var (
	ErrRunNotFound             = errors.New("run not found")
	ErrSecretNotFound          = errors.New("secret not found")
	ErrUnknownStep             = errors.New("unknown pipeline step")
	ErrStreamEndedUnexpectedly = errors.New("stream ended unexpectedly")
	ErrRefinementInFlight      = errors.New("a refinement is already in progress")
	ErrNoArtifacts             = errors.New("run has no artifacts to refine")
	ErrNoActiveRun             = errors.New("no active run")
)
