package orchestrator

import "errors"

// ErrInvalidRequest marks requests rejected before any provider work happens:
// empty prompt, empty provider name, or a history entry with an unknown role.
var ErrInvalidRequest = errors.New("orchestrator: invalid request")

// ErrProviderCall marks a failed provider round trip. The underlying vendor
// error is wrapped for inspection; callers match with [errors.Is].
//
// Unknown provider names are reported as [llm.ErrProviderNotFound] by the
// registry, before any network activity.
var ErrProviderCall = errors.New("orchestrator: provider call failed")
