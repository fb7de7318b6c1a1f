package orchestrator

import "errors"

var (
	// ErrNoClips rejects a start on a project with no attached clips.
	ErrNoClips = errors.New("project has no clips")
	// ErrAllClipsFailed means every clip failed and the project is now failed.
	ErrAllClipsFailed = errors.New("all clips failed")
	// ErrHandoff means clips were generated but the compilation trigger was
	// rejected. The project stays compiling so compilation can be retriggered.
	ErrHandoff = errors.New("compilation handoff failed")
)
