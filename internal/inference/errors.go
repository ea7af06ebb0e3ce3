package inference

import "errors"

var (
	// ErrInit marks a failure to construct the engine: bad model path,
	// unusable context size, backend refusal.
	ErrInit = errors.New("engine init failed")

	// ErrContextOverflow means the rendered prompt does not fit the
	// context window. It is raised before any backend work happens.
	ErrContextOverflow = errors.New("prompt too long for context window")

	// ErrDecode means the backend refused a prompt prefill batch. A
	// refused single-token decode inside the generation loop ends the
	// loop without an error.
	ErrDecode = errors.New("backend decode failed")

	// ErrSessionIO marks a session save/load problem: unreadable file,
	// truncated payload, length mismatch.
	ErrSessionIO = errors.New("session io failed")
)
