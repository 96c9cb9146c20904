package serlink

import (
	"path/filepath"
	"time"
)

// Callbacks provides hooks for transfer events. All callbacks are optional;
// nil callbacks use default behavior.
type Callbacks struct {
	// OnFilePrompt is called on the receiving side when a sender announces
	// a transfer. Return false to reject it; the sender will then time out
	// its handshake.
	OnFilePrompt func(name string) (bool, error)

	// OnResume is called on either side when a transfer continues from a
	// non-zero offset instead of starting fresh.
	OnResume func(name string, offset int64)

	// OnTransferStart is called when the block loop is about to begin.
	// offset is the negotiated starting position, 0 for a fresh transfer.
	OnTransferStart func(name string, size, offset int64)

	// OnProgress is called periodically during the block loop.
	// rate is in bytes per second.
	OnProgress func(name string, transferred, total int64, rate float64)

	// OnTransferComplete is called on success. bytes counts only the bytes
	// moved by this session, excluding any resumed prefix.
	OnTransferComplete func(name string, bytes int64, duration time.Duration)

	// OnError is called when a transfer fails. context describes where.
	OnError func(err error, context string)

	// ResolvePath maps an announced transfer name to the receiver's output
	// path. The default joins the sanitized name onto dir.
	ResolvePath func(dir, name string) string
}

func defaultCallbacks() *Callbacks {
	return &Callbacks{
		OnFilePrompt:       func(string) (bool, error) { return true, nil },
		OnResume:           func(string, int64) {},
		OnTransferStart:    func(string, int64, int64) {},
		OnProgress:         func(string, int64, int64, float64) {},
		OnTransferComplete: func(string, int64, time.Duration) {},
		OnError:            func(error, string) {},
		ResolvePath: func(dir, name string) string {
			return filepath.Join(dir, filepath.Base(name))
		},
	}
}

// mergeCallbacks merges user callbacks with defaults; nil fields fall back.
func mergeCallbacks(user *Callbacks) *Callbacks {
	def := defaultCallbacks()
	if user == nil {
		return def
	}

	result := &Callbacks{}

	if user.OnFilePrompt != nil {
		result.OnFilePrompt = user.OnFilePrompt
	} else {
		result.OnFilePrompt = def.OnFilePrompt
	}

	if user.OnResume != nil {
		result.OnResume = user.OnResume
	} else {
		result.OnResume = def.OnResume
	}

	if user.OnTransferStart != nil {
		result.OnTransferStart = user.OnTransferStart
	} else {
		result.OnTransferStart = def.OnTransferStart
	}

	if user.OnProgress != nil {
		result.OnProgress = user.OnProgress
	} else {
		result.OnProgress = def.OnProgress
	}

	if user.OnTransferComplete != nil {
		result.OnTransferComplete = user.OnTransferComplete
	} else {
		result.OnTransferComplete = def.OnTransferComplete
	}

	if user.OnError != nil {
		result.OnError = user.OnError
	} else {
		result.OnError = def.OnError
	}

	if user.ResolvePath != nil {
		result.ResolvePath = user.ResolvePath
	} else {
		result.ResolvePath = def.ResolvePath
	}

	return result
}
