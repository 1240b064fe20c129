package workbench

import (
	"github.com/ashita-ai/workbench/internal/config"
	"github.com/ashita-ai/workbench/internal/interpret"
	"github.com/ashita-ai/workbench/internal/invoke"
	"github.com/ashita-ai/workbench/internal/listing"
	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/notifier"
	"github.com/ashita-ai/workbench/internal/poller"
	"github.com/ashita-ai/workbench/internal/runner"
	"github.com/ashita-ai/workbench/internal/upload"
)

// Public names for the types that cross the Client boundary. They are
// aliases, so values flow between the root package and internal packages
// without conversion.
type (
	// Config is the full client configuration.
	Config = config.Config

	// Request is one invocation of a named action.
	Request = invoke.Request
	// RunHandle identifies a started run.
	RunHandle = model.RunHandle
	// RunState is a backend run state.
	RunState = model.RunState
	// RunStatus is one status observation.
	RunStatus = model.RunStatus
	// RunEvent is one frame of the live event stream.
	RunEvent = model.RunEvent
	// WaitResult is the result of WaitForCompletion.
	WaitResult = poller.Result

	// Outcome is a settled or still-running run with its interpretation.
	Outcome = runner.Outcome
	// OutcomeKind classifies an Outcome.
	OutcomeKind = runner.OutcomeKind
	// Summary is the interpretation of a run's newest artifact.
	Summary = interpret.Summary

	// Settlement is the single notification of a background run.
	Settlement = notifier.Settlement
	// Task is the completion handle of a background run.
	Task = notifier.Task

	// Artifact is one typed result document produced by a run.
	Artifact = model.Artifact
	// ArtifactQuery filters ListArtifacts.
	ArtifactQuery = model.ArtifactQuery
	// ObjectReference points at an uploaded object.
	ObjectReference = model.ObjectReference
	// UploadRequest describes content to upload.
	UploadRequest = upload.UploadRequest

	// ListQuery names an entity listing.
	ListQuery = listing.Query
	// List accumulates cursor-paginated pages of one listing.
	List = listing.Accumulator
	// ListPage is one page of ids and items.
	ListPage = model.ListPage
	// PageRequest asks for one page.
	PageRequest = listing.PageRequest
	// PageResult is one fetched page or a still-loading marker.
	PageResult = listing.PageResult
	// LoadResult says what a List load call did.
	LoadResult = listing.LoadResult

	// Error is the typed error returned by every operation.
	Error = model.Error
	// ErrorKind classifies an Error.
	ErrorKind = model.ErrorKind
)

// Run states.
const (
	RunStateQueued          = model.RunStateQueued
	RunStateStarting        = model.RunStateStarting
	RunStateRunning         = model.RunStateRunning
	RunStateWaitingForInput = model.RunStateWaitingForInput
	RunStateSucceeded       = model.RunStateSucceeded
	RunStateFailed          = model.RunStateFailed
	RunStateCancelled       = model.RunStateCancelled
)

// Outcome kinds.
const (
	OutcomeSucceeded    = runner.OutcomeSucceeded
	OutcomeFailed       = runner.OutcomeFailed
	OutcomeCancelled    = runner.OutcomeCancelled
	OutcomeStillRunning = runner.OutcomeStillRunning
)

// List load results.
const (
	Loaded       = listing.Loaded
	LoadIgnored  = listing.LoadIgnored
	StillLoading = listing.StillLoading
)

// Error kinds.
const (
	KindConversationUnsaved = model.KindConversationUnsaved
	KindUnauthorized        = model.KindUnauthorized
	KindForbidden           = model.KindForbidden
	KindPluginDisabled      = model.KindPluginDisabled
	KindInvocationFailed    = model.KindInvocationFailed
	KindConflict            = model.KindConflict
	KindNotFound            = model.KindNotFound
	KindRequestFailed       = model.KindRequestFailed
	KindRunFailed           = model.KindRunFailed
	KindUploadFailed        = model.KindUploadFailed
	KindStaleUpload         = model.KindStaleUpload
	KindTransport           = model.KindTransport
	KindContractViolation   = model.KindContractViolation
)

// ErrConversationUnsaved is returned by invocations without a conversation.
var ErrConversationUnsaved = model.ErrConversationUnsaved

// KindOf returns the kind of a workbench error, or "" for other errors.
func KindOf(err error) ErrorKind { return model.KindOf(err) }

// IdempotencyKey derives the key for one user event. Retrying the same event
// with the same key never starts a second run.
func IdempotencyKey(actionID, eventID string) string { return invoke.IdempotencyKey(actionID, eventID) }

// FreshIdempotencyKey mints a key for a deliberate new attempt.
func FreshIdempotencyKey(actionID string) string { return invoke.FreshIdempotencyKey(actionID) }

// NewConfirmationToken mints a token for one user-confirmed action.
func NewConfirmationToken() string { return invoke.NewConfirmationToken() }

// LoadConfig reads configuration from WORKBENCH_* environment variables.
func LoadConfig() (Config, error) { return config.Load() }
