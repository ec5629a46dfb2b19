package sync

import (
	"errors"
	"fmt"

	"github.com/schaermu/gitftp/internal/transfer"
)

var (
	// ErrMarkerNotFound is returned when the target has never been deployed to
	ErrMarkerNotFound = errors.New("no deployment marker found on target")
	// ErrMarkerExists is returned by Init when the target is already initialized
	ErrMarkerExists = errors.New("target is already initialized")
	// ErrDirtyTree is returned when tracked files have uncommitted changes
	ErrDirtyTree = errors.New("working tree has uncommitted changes")
)

// Kind classifies a failure for the caller. Every kind maps to a stable exit code.
type Kind int

const (
	KindGeneric Kind = iota
	KindUsage
	KindMissingArguments
	KindUpload
	KindDownload
	KindUnknownProtocol
	KindRemoteLocked
	KindGit
)

func (k Kind) String() string {
	switch k {
	case KindUsage:
		return "usage"
	case KindMissingArguments:
		return "missing_arguments"
	case KindUpload:
		return "upload"
	case KindDownload:
		return "download"
	case KindUnknownProtocol:
		return "unknown_protocol"
	case KindRemoteLocked:
		return "remote_locked"
	case KindGit:
		return "git"
	}
	return "generic"
}

// ExitCode returns the process exit code for the kind
func (k Kind) ExitCode() int {
	switch k {
	case KindUsage:
		return 2
	case KindMissingArguments:
		return 3
	case KindUpload:
		return 4
	case KindDownload:
		return 5
	case KindUnknownProtocol:
		return 6
	case KindRemoteLocked:
		return 7
	case KindGit:
		return 8
	}
	return 1
}

// Error is a classified deployment failure
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates a classified error; %w verbs are preserved for errors.Is
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, transfer.ErrUnknownProtocol) {
		return KindUnknownProtocol
	}
	return KindGeneric
}

// ExitCode maps err to the process exit code, 0 for nil
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return KindOf(err).ExitCode()
}

// Status describes how a run ended successfully
type Status int

const (
	Deployed Status = iota
	NothingToDo
	AlreadyRunning
)

func (s Status) String() string {
	switch s {
	case NothingToDo:
		return "nothing_to_do"
	case AlreadyRunning:
		return "already_running"
	}
	return "deployed"
}

// Result summarizes a successful run
type Result struct {
	Status   Status
	Revision string
	Uploaded int
	Deleted  int
}
