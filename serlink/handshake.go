package serlink

import (
	"fmt"
	"strconv"
	"strings"
)

// Handshake wire messages. One line-terminated message per exchange:
//
//	sender   -> STATUS:<name>
//	receiver -> ACK_POS:<offset> | START_NEW
//	sender   -> START:<name>:<size> | END (nothing left to transfer)
//	sender   -> END (after the EOT frame, as a trailer)
//
// ALREADY_COMPLETE has no dedicated message: the receiver reports its full
// local length via ACK_POS and the sender, seeing offset >= size, answers
// with END instead of START.
const (
	statusPrefix = "STATUS:"
	ackPosPrefix = "ACK_POS:"
	startPrefix  = "START:"
	startNewMsg  = "START_NEW"
	endMsg       = "END"
)

func formatStatus(name string) string {
	return statusPrefix + name + "\n"
}

func parseStatus(line string) (string, error) {
	if !strings.HasPrefix(line, statusPrefix) {
		return "", NewError(ErrHandshake, fmt.Sprintf("expected %s message, got %q", statusPrefix, line))
	}
	name := strings.TrimSpace(strings.TrimPrefix(line, statusPrefix))
	if name == "" {
		return "", NewError(ErrHandshake, "empty transfer name")
	}
	return name, nil
}

func formatAckPos(offset int64) string {
	return ackPosPrefix + strconv.FormatInt(offset, 10) + "\n"
}

func formatStartNew() string {
	return startNewMsg + "\n"
}

// parseResumeReply interprets the receiver's answer to STATUS. Returns the
// negotiated starting offset (0 for a fresh transfer).
func parseResumeReply(line string) (int64, error) {
	if line == startNewMsg {
		return 0, nil
	}
	if strings.HasPrefix(line, ackPosPrefix) {
		offset, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, ackPosPrefix)), 10, 64)
		if err != nil || offset < 0 {
			return 0, NewError(ErrHandshake, fmt.Sprintf("bad resume offset in %q", line))
		}
		return offset, nil
	}
	return 0, NewError(ErrHandshake, fmt.Sprintf("unexpected resume reply %q", line))
}

func formatStart(name string, size int64) string {
	return startPrefix + name + ":" + strconv.FormatInt(size, 10) + "\n"
}

func formatEnd() string {
	return endMsg + "\n"
}

// parseStart interprets the line that opens (or skips) the block loop.
// done is true for an END message, meaning the receiver's artifact is
// already complete and no blocks will follow.
func parseStart(line string) (name string, size int64, done bool, err error) {
	if line == endMsg {
		return "", 0, true, nil
	}
	if !strings.HasPrefix(line, startPrefix) {
		return "", 0, false, NewError(ErrHandshake, fmt.Sprintf("expected %s or %s, got %q", startPrefix, endMsg, line))
	}
	rest := strings.TrimPrefix(line, startPrefix)
	// The size field follows the last colon so names containing colons
	// still parse.
	sep := strings.LastIndexByte(rest, ':')
	if sep <= 0 {
		return "", 0, false, NewError(ErrHandshake, fmt.Sprintf("malformed start message %q", line))
	}
	size, perr := strconv.ParseInt(strings.TrimSpace(rest[sep+1:]), 10, 64)
	if perr != nil || size < 0 {
		return "", 0, false, NewError(ErrHandshake, fmt.Sprintf("bad size in start message %q", line))
	}
	return rest[:sep], size, false, nil
}

// asHandshakeError converts any failure during the negotiation into a
// handshake error. A silent peer is a configuration or connectivity
// problem, not line noise, so timeouts are not retried here.
func asHandshakeError(err error, context string) error {
	if e, ok := err.(*Error); ok && e.Type == ErrHandshake {
		return e
	}
	if IsCancelled(err) {
		return err
	}
	return NewError(ErrHandshake, context+": "+err.Error())
}
